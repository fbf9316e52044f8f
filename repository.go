package flowvc

import (
	"context"
	"errors"
)

var (
	ErrDocumentNotFound  = errors.New("flowvc: document not found")
	ErrBranchNotFound    = errors.New("flowvc: branch not found")
	ErrVersionNotFound   = errors.New("flowvc: version not found")
	ErrTypeNotFound      = errors.New("flowvc: node type not found")
	ErrValidation        = errors.New("flowvc: validation failed")
	ErrBranchClosed      = errors.New("flowvc: branch is merged or abandoned")
	ErrEngineUnavailable = errors.New("flowvc: execution engine unavailable")
)

// VersionRepository persists branches and their append-only version history.
// Implementations must keep AppendVersion atomic: the prior active version of
// the branch is deactivated and the new one activated in a single visible
// step, so exactly one version per branch carries IsActive at any time.
// Versions are never mutated or deleted after AppendVersion.
type VersionRepository interface {
	// Branches
	CreateBranch(ctx context.Context, b *Branch) error
	GetBranch(ctx context.Context, branchID string) (*Branch, error)
	ListBranches(ctx context.Context, documentID string) ([]Branch, error)
	UpdateBranchStatus(ctx context.Context, branchID string, status BranchStatus) error

	// Versions
	AppendVersion(ctx context.Context, v *Version) error
	GetVersion(ctx context.Context, versionID string) (*Version, error)
	ActiveVersion(ctx context.Context, branchID string) (*Version, error)
	ListVersions(ctx context.Context, documentID string, limit int) ([]Version, error)
}

// DocumentSource is the external execution engine's document API: the only
// collaborator the orchestrator does network I/O against. Transient
// transport failures surface as ErrEngineUnavailable and are safe for the
// caller to retry.
type DocumentSource interface {
	GetDocument(ctx context.Context, documentID string) (*Document, error)
	UpdateDocument(ctx context.Context, documentID string, doc *Document) (*Document, error)
}

// TypeSchema describes a node type as published by the catalog. Consumed
// read-only, for default-value suggestions; never required for diff or merge
// correctness.
type TypeSchema struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Group       string   `json:"group,omitempty"`
	Defaults    ParamMap `json:"defaults,omitempty"`
}

// TypeCatalog looks up node-type schemas by type name.
type TypeCatalog interface {
	LookupType(ctx context.Context, typeName string) (*TypeSchema, error)
}
