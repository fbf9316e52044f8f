package flowvc

import "sort"

// FieldChange records one changed scalar or collection field.
type FieldChange struct {
	Changed  bool `json:"changed"`
	OldValue any  `json:"old_value"`
	NewValue any  `json:"new_value"`
}

// TagChange breaks a tags field change down into element adds and removes.
type TagChange struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// NodeModification lists which fields of a surviving node changed.
type NodeModification struct {
	ID           string                 `json:"id"`
	FieldChanges map[string]FieldChange `json:"field_changes"`
}

// NodeChanges partitions node-level differences by node id.
type NodeChanges struct {
	Added    []Node             `json:"added,omitempty"`
	Removed  []Node             `json:"removed,omitempty"`
	Modified []NodeModification `json:"modified,omitempty"`
}

// DiffSummary carries the headline counts of a diff.
type DiffSummary struct {
	HasChanges    bool `json:"has_changes"`
	AddedCount    int  `json:"added_count"`
	RemovedCount  int  `json:"removed_count"`
	ModifiedCount int  `json:"modified_count"`
}

// DocumentDiff is the structured difference between two document snapshots.
// Connections are reported as a single changed/unchanged flag: edges carry no
// stable identity in this model, so per-edge attribution would be invented
// precision rather than real information.
type DocumentDiff struct {
	FromVersionID      string                 `json:"from_version_id,omitempty"`
	ToVersionID        string                 `json:"to_version_id,omitempty"`
	FieldChanges       map[string]FieldChange `json:"field_changes,omitempty"`
	TagChange          *TagChange             `json:"tag_change,omitempty"`
	NodeChanges        NodeChanges            `json:"node_changes"`
	ConnectionsChanged bool                   `json:"connections_changed"`
	Summary            DiffSummary            `json:"summary"`
}

// Node fields compared during diff, in report order.
const (
	fieldName        = "name"
	fieldType        = "type"
	fieldPosition    = "position"
	fieldParameters  = "parameters"
	fieldCredentials = "credentials"
	fieldActive      = "active"
	fieldTags        = "tags"
	fieldSettings    = "settings"
)

// Diff computes the structured difference between two snapshots. Pure and
// deterministic: output depends only on the two inputs, never on node
// ordering, and node lists in the result are sorted by id.
func Diff(old, new *Document) *DocumentDiff {
	d := &DocumentDiff{
		FieldChanges: map[string]FieldChange{},
	}

	if old.Name != new.Name {
		d.FieldChanges[fieldName] = FieldChange{Changed: true, OldValue: old.Name, NewValue: new.Name}
	}
	if old.Active != new.Active {
		d.FieldChanges[fieldActive] = FieldChange{Changed: true, OldValue: old.Active, NewValue: new.Active}
	}
	if added, removed := tagDelta(old.Tags, new.Tags); len(added) > 0 || len(removed) > 0 {
		d.FieldChanges[fieldTags] = FieldChange{Changed: true, OldValue: old.Tags, NewValue: new.Tags}
		d.TagChange = &TagChange{Added: added, Removed: removed}
	}
	if !old.Settings.Equal(new.Settings) {
		d.FieldChanges[fieldSettings] = FieldChange{Changed: true, OldValue: old.Settings, NewValue: new.Settings}
	}

	d.NodeChanges = diffNodes(old.Nodes, new.Nodes)
	d.ConnectionsChanged = !old.Connections.Equal(new.Connections)

	d.Summary = DiffSummary{
		AddedCount:    len(d.NodeChanges.Added),
		RemovedCount:  len(d.NodeChanges.Removed),
		ModifiedCount: len(d.NodeChanges.Modified),
	}
	d.Summary.HasChanges = d.Summary.AddedCount > 0 || d.Summary.RemovedCount > 0 ||
		d.Summary.ModifiedCount > 0 || len(d.FieldChanges) > 0 || d.ConnectionsChanged
	if len(d.FieldChanges) == 0 {
		d.FieldChanges = nil
	}
	return d
}

func diffNodes(old, new []Node) NodeChanges {
	oldByID := indexNodes(old)
	newByID := indexNodes(new)

	var nc NodeChanges
	for id, n := range newByID {
		if _, ok := oldByID[id]; !ok {
			nc.Added = append(nc.Added, n)
		}
	}
	for id, n := range oldByID {
		if _, ok := newByID[id]; !ok {
			nc.Removed = append(nc.Removed, n)
		}
	}
	for id, before := range oldByID {
		after, ok := newByID[id]
		if !ok {
			continue
		}
		if fields := diffNodeFields(before, after); len(fields) > 0 {
			nc.Modified = append(nc.Modified, NodeModification{ID: id, FieldChanges: fields})
		}
	}

	sort.Slice(nc.Added, func(i, j int) bool { return nc.Added[i].ID < nc.Added[j].ID })
	sort.Slice(nc.Removed, func(i, j int) bool { return nc.Removed[i].ID < nc.Removed[j].ID })
	sort.Slice(nc.Modified, func(i, j int) bool { return nc.Modified[i].ID < nc.Modified[j].ID })
	return nc
}

func diffNodeFields(before, after Node) map[string]FieldChange {
	fields := map[string]FieldChange{}
	if before.Name != after.Name {
		fields[fieldName] = FieldChange{Changed: true, OldValue: before.Name, NewValue: after.Name}
	}
	if before.Type != after.Type {
		fields[fieldType] = FieldChange{Changed: true, OldValue: before.Type, NewValue: after.Type}
	}
	if before.Position != after.Position {
		fields[fieldPosition] = FieldChange{Changed: true, OldValue: before.Position, NewValue: after.Position}
	}
	if !before.Parameters.Equal(after.Parameters) {
		fields[fieldParameters] = FieldChange{Changed: true, OldValue: before.Parameters, NewValue: after.Parameters}
	}
	if !before.Credentials.Equal(after.Credentials) {
		fields[fieldCredentials] = FieldChange{Changed: true, OldValue: before.Credentials, NewValue: after.Credentials}
	}
	return fields
}

func indexNodes(nodes []Node) map[string]Node {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

// tagDelta returns the element-level additions and removals between two tag
// sets, each sorted. Duplicates within a list are treated as one element.
func tagDelta(old, new []string) (added, removed []string) {
	oldSet := tagSet(old)
	newSet := tagSet(new)
	for t := range newSet {
		if _, ok := oldSet[t]; !ok {
			added = append(added, t)
		}
	}
	for t := range oldSet {
		if _, ok := newSet[t]; !ok {
			removed = append(removed, t)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func tagSet(tags []string) map[string]struct{} {
	s := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
