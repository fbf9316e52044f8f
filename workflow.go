package flowvc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document represents a workflow: typed nodes plus directed connections,
// with scalar metadata. Instances are produced by the execution engine and
// snapshotted read-only; the version store never mutates a stored snapshot.
type Document struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Active      bool        `json:"active"`
	Tags        []string    `json:"tags,omitempty"`
	Settings    ParamMap    `json:"settings,omitempty"`
	Nodes       []Node      `json:"nodes"`
	Connections Connections `json:"connections,omitempty"`
}

// Node represents a single step in a workflow. Identity is the ID; every
// other field is mutable and compared field-by-field during diff.
type Node struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Position    Position `json:"position"`
	Parameters  ParamMap `json:"parameters,omitempty"`
	Credentials ParamMap `json:"credentials,omitempty"`
}

// Position is a node's placement on the editor canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ParamMap holds loosely-typed parameter or settings values. Contents are
// opaque to the core: the catalog collaborator owns schema validation.
type ParamMap map[string]any

// Link is one target of a connection: which node, which input slot, and the
// connection type ("main", "error", ...).
type Link struct {
	TargetNodeID string `json:"target_node_id"`
	TargetInput  int    `json:"target_input"`
	Type         string `json:"type"`
}

// Connections maps a source node's output port key ("<nodeID>:<output>") to
// its targets. Edges carry no stable identity of their own, so the structure
// is compared as a single opaque value via canonical JSON; there is no
// per-edge diff (see DocumentDiff.ConnectionsChanged).
type Connections map[string][]Link

// canonicalJSON returns the deterministic serialization of v. encoding/json
// sorts map keys at every nesting level, so equal values always encode to
// equal bytes.
func canonicalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Domain values are plain JSON data; Marshal cannot fail on them.
		panic(fmt.Sprintf("flowvc: canonical encode: %v", err))
	}
	return b
}

// deepEqualJSON compares two values by canonical serialization.
func deepEqualJSON(a, b any) bool {
	return bytes.Equal(canonicalJSON(a), canonicalJSON(b))
}

// Equal reports whether two parameter maps hold deeply equal contents.
// A nil map and an empty map are the same value: storage and wire codecs
// do not preserve the distinction.
func (m ParamMap) Equal(other ParamMap) bool {
	if len(m) == 0 && len(other) == 0 {
		return true
	}
	return deepEqualJSON(m, other)
}

// Clone returns an independent deep copy of the map.
func (m ParamMap) Clone() ParamMap {
	if m == nil {
		return nil
	}
	var out ParamMap
	if err := json.Unmarshal(canonicalJSON(m), &out); err != nil {
		panic(fmt.Sprintf("flowvc: clone params: %v", err))
	}
	return out
}

// Equal reports whether two connection structures are identical. Coarse on
// purpose: any difference flips a single changed flag in the diff. As with
// ParamMap, nil and empty are the same value.
func (c Connections) Equal(other Connections) bool {
	if len(c) == 0 && len(other) == 0 {
		return true
	}
	return deepEqualJSON(c, other)
}

// Clone returns an independent deep copy of the connections.
func (c Connections) Clone() Connections {
	if c == nil {
		return nil
	}
	out := make(Connections, len(c))
	for port, links := range c {
		out[port] = append([]Link(nil), links...)
	}
	return out
}

// Clone returns an independent deep copy of the node.
func (n Node) Clone() Node {
	n.Parameters = n.Parameters.Clone()
	n.Credentials = n.Credentials.Clone()
	return n
}

// Clone returns an independent deep copy of the document.
func (d *Document) Clone() *Document {
	out := &Document{
		ID:          d.ID,
		Name:        d.Name,
		Active:      d.Active,
		Tags:        append([]string(nil), d.Tags...),
		Settings:    d.Settings.Clone(),
		Connections: d.Connections.Clone(),
	}
	if d.Nodes != nil {
		out.Nodes = make([]Node, len(d.Nodes))
		for i, n := range d.Nodes {
			out.Nodes[i] = n.Clone()
		}
	}
	return out
}

// NodeByID returns the node with the given id, or nil.
func (d *Document) NodeByID(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// Validate checks that every connection endpoint references a node present
// in the document. Called at the engine boundary; the diff and merge engines
// are total over any pair of documents and do not require it.
func (d *Document) Validate() error {
	known := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrValidation)
		}
		if _, dup := known[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrValidation, n.ID)
		}
		known[n.ID] = struct{}{}
	}
	for port, links := range d.Connections {
		src := sourceNodeID(port)
		if _, ok := known[src]; !ok {
			return fmt.Errorf("%w: connection source %q references unknown node", ErrValidation, src)
		}
		for _, l := range links {
			if _, ok := known[l.TargetNodeID]; !ok {
				return fmt.Errorf("%w: connection target %q references unknown node", ErrValidation, l.TargetNodeID)
			}
		}
	}
	return nil
}

// sourceNodeID extracts the node id from a "<nodeID>:<output>" port key.
// A key without a separator is the node id itself (output 0).
func sourceNodeID(port string) string {
	for i := len(port) - 1; i >= 0; i-- {
		if port[i] == ':' {
			return port[:i]
		}
	}
	return port
}
