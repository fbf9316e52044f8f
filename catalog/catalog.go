// Package catalog is a read-only lookup table of node types and their
// parameter schemas. It exists for default-value suggestions only; diff and
// merge never consult it.
package catalog

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flowvc"
)

// Static is an in-memory type catalog. It satisfies flowvc.TypeCatalog.
type Static struct {
	types map[string]flowvc.TypeSchema
}

// New creates a catalog from the given schemas, keyed by type name.
func New(schemas []flowvc.TypeSchema) *Static {
	c := &Static{types: make(map[string]flowvc.TypeSchema, len(schemas))}
	for _, s := range schemas {
		c.types[s.Name] = s
	}
	return c
}

// Builtin returns a catalog of the common node types the engine ships with.
func Builtin() *Static {
	return New([]flowvc.TypeSchema{
		{Name: "http", DisplayName: "HTTP Request", Group: "core", Defaults: flowvc.ParamMap{
			"method": "GET", "timeout_ms": float64(30000), "follow_redirects": true,
		}},
		{Name: "webhook", DisplayName: "Webhook", Group: "trigger", Defaults: flowvc.ParamMap{
			"method": "POST", "path": "/hook", "respond": "immediately",
		}},
		{Name: "cron", DisplayName: "Schedule", Group: "trigger", Defaults: flowvc.ParamMap{
			"expression": "0 * * * *", "timezone": "UTC",
		}},
		{Name: "set", DisplayName: "Set Fields", Group: "transform", Defaults: flowvc.ParamMap{
			"keep_only_set": false,
		}},
		{Name: "if", DisplayName: "If", Group: "logic", Defaults: flowvc.ParamMap{
			"combine": "all",
		}},
		{Name: "code", DisplayName: "Code", Group: "transform", Defaults: flowvc.ParamMap{
			"language": "javascript", "mode": "run_once_per_item",
		}},
	})
}

// LookupType returns the schema for a type name, or
// flowvc.ErrTypeNotFound if the catalog doesn't know it.
func (c *Static) LookupType(_ context.Context, typeName string) (*flowvc.TypeSchema, error) {
	s, ok := c.types[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", flowvc.ErrTypeNotFound, typeName)
	}
	out := s
	out.Defaults = s.Defaults.Clone()
	return &out, nil
}
