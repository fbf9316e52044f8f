package flowvc

import "sort"

// ConflictType distinguishes what kind of entity a conflict is about.
type ConflictType string

const (
	ConflictNode       ConflictType = "node"
	ConflictConnection ConflictType = "connection"
	ConflictMetadata   ConflictType = "metadata"
)

// Severity grades a conflict. Connection conflicts are always high; node
// conflicts grade on which fields diverged.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Resolution is a strategy for settling one conflict.
type Resolution string

const (
	KeepSource Resolution = "keep_source"
	KeepTarget Resolution = "keep_target"
	MergeBoth  Resolution = "merge"
	Manual     Resolution = "manual"
)

// Conflict is one detected case where both diverging sides changed the same
// entity to different values. IDs are deterministic ("node:<id>",
// "metadata:<field>", "connections") so resolutions computed from a preview
// apply cleanly to a later merge of the same three snapshots.
type Conflict struct {
	ID                  string       `json:"id"`
	Type                ConflictType `json:"type"`
	EntityID            string       `json:"entity_id,omitempty"`
	SourceValue         any          `json:"source_value"`
	TargetValue         any          `json:"target_value"`
	BaseValue           any          `json:"base_value"`
	Severity            Severity     `json:"severity"`
	AutoResolvable      bool         `json:"auto_resolvable"`
	SuggestedResolution Resolution   `json:"suggested_resolution"`
}

// MergeSummary counts the distinct entities the merge touches.
type MergeSummary struct {
	AddedNodes      int `json:"added_nodes"`
	RemovedNodes    int `json:"removed_nodes"`
	ModifiedNodes   int `json:"modified_nodes"`
	ChangedEntities int `json:"changed_entities"`
}

// MergePreview reports what a merge would do without committing anything.
type MergePreview struct {
	Conflicts    []Conflict   `json:"conflicts,omitempty"`
	CanAutoMerge bool         `json:"can_auto_merge"`
	RiskLevel    Severity     `json:"risk_level"`
	Summary      MergeSummary `json:"summary"`
}

// MergeResult is the outcome of a merge computation. Document is nil while
// any conflict remains unresolved; a blocked merge is a normal result, not
// an error, and must never reach a branch tip.
type MergeResult struct {
	Document  *Document    `json:"document,omitempty"`
	Conflicts []Conflict   `json:"conflicts,omitempty"`
	Resolved  []string     `json:"resolved,omitempty"`
	Summary   MergeSummary `json:"summary"`
}

// PreviewMerge runs the three-way merge detection without resolutions and
// reports every conflict, auto-resolvable ones included. Pure: no version or
// branch context, no side effects.
func PreviewMerge(base, source, target *Document) *MergePreview {
	conflicts, summary := detectConflicts(base, source, target)
	canAuto := true
	for _, c := range conflicts {
		if !c.AutoResolvable {
			canAuto = false
			break
		}
	}
	return &MergePreview{
		Conflicts:    conflicts,
		CanAutoMerge: canAuto,
		RiskLevel:    riskLevel(conflicts, summary),
		Summary:      summary,
	}
}

// Merge applies the three-way merge. Changes touched by only one side apply
// directly; conflicts settle by their auto-resolution or by the caller's
// resolutions map; anything left over comes back in Conflicts with a nil
// Document.
func Merge(base, source, target *Document, resolutions map[string]Resolution) *MergeResult {
	conflicts, summary := detectConflicts(base, source, target)

	chosen := make(map[string]Resolution, len(conflicts))
	var remaining []Conflict
	var resolved []string
	for _, c := range conflicts {
		r, ok := resolutions[c.ID]
		if !ok && c.AutoResolvable {
			r = c.SuggestedResolution
			ok = true
		}
		if !ok || !applicable(c, r) {
			remaining = append(remaining, c)
			continue
		}
		chosen[c.ID] = r
		resolved = append(resolved, c.ID)
	}

	result := &MergeResult{Conflicts: remaining, Resolved: resolved, Summary: summary}
	if len(remaining) > 0 {
		return result
	}
	result.Document = buildMerged(base, source, target, chosen)
	return result
}

// applicable rejects resolution strategies that make no sense for a conflict
// (set-union applies to tags only; "manual" is a suggestion, not a strategy).
func applicable(c Conflict, r Resolution) bool {
	switch r {
	case KeepSource, KeepTarget:
		return true
	case MergeBoth:
		return c.Type == ConflictMetadata && c.EntityID == fieldTags
	default:
		return false
	}
}

// detectConflicts runs both one-sided diffs and classifies every entity
// touched by both sides with diverging outcomes. Output order is
// deterministic: metadata by field, then nodes by id, then connections.
func detectConflicts(base, source, target *Document) ([]Conflict, MergeSummary) {
	ds := Diff(base, source)
	dt := Diff(base, target)

	var conflicts []Conflict

	// Metadata fields changed on both sides with different outcomes.
	for _, field := range []string{fieldActive, fieldName, fieldSettings, fieldTags} {
		sc, sok := ds.FieldChanges[field]
		tc, tok := dt.FieldChanges[field]
		if !sok || !tok {
			continue
		}
		converged := deepEqualJSON(sc.NewValue, tc.NewValue)
		switch field {
		case fieldTags:
			// Tags are a set; element order never matters.
			converged = deepEqualJSON(tagSet(source.Tags), tagSet(target.Tags))
		case fieldSettings:
			converged = source.Settings.Equal(target.Settings)
		}
		if converged {
			continue
		}
		c := Conflict{
			ID:                  "metadata:" + field,
			Type:                ConflictMetadata,
			EntityID:            field,
			SourceValue:         sc.NewValue,
			TargetValue:         tc.NewValue,
			BaseValue:           sc.OldValue,
			Severity:            SeverityMedium,
			SuggestedResolution: Manual,
		}
		switch field {
		case fieldTags:
			c.AutoResolvable = true
			c.SuggestedResolution = MergeBoth
			c.Severity = SeverityLow
		case fieldActive:
			c.AutoResolvable = true
			c.SuggestedResolution = KeepTarget
			c.Severity = SeverityLow
		}
		conflicts = append(conflicts, c)
	}

	// Node ids touched by both sides.
	touchedS := touchedNodeIDs(ds)
	touchedT := touchedNodeIDs(dt)
	both := make([]string, 0)
	for id := range touchedS {
		if _, ok := touchedT[id]; ok {
			both = append(both, id)
		}
	}
	sort.Strings(both)

	for _, id := range both {
		baseN := base.NodeByID(id)
		sN := source.NodeByID(id)
		tN := target.NodeByID(id)
		if nodesEqual(sN, tN) {
			continue // both sides converged
		}
		c := Conflict{
			ID:                  "node:" + id,
			Type:                ConflictNode,
			EntityID:            id,
			SourceValue:         nodeValue(sN),
			TargetValue:         nodeValue(tN),
			BaseValue:           nodeValue(baseN),
			Severity:            nodeSeverity(sN, tN),
			SuggestedResolution: Manual,
		}
		if positionOnly(baseN, sN) && positionOnly(baseN, tN) {
			// Layout moves carry no semantics; the destination wins.
			c.AutoResolvable = true
			c.SuggestedResolution = KeepTarget
		}
		conflicts = append(conflicts, c)
	}

	// Connections: coarse value, so at most one conflict.
	if ds.ConnectionsChanged && dt.ConnectionsChanged && !source.Connections.Equal(target.Connections) {
		conflicts = append(conflicts, Conflict{
			ID:                  "connections",
			Type:                ConflictConnection,
			SourceValue:         source.Connections,
			TargetValue:         target.Connections,
			BaseValue:           base.Connections,
			Severity:            SeverityHigh,
			SuggestedResolution: Manual,
		})
	}

	return conflicts, mergeSummary(ds, dt)
}

func mergeSummary(ds, dt *DocumentDiff) MergeSummary {
	added := map[string]struct{}{}
	removed := map[string]struct{}{}
	modified := map[string]struct{}{}
	for _, d := range []*DocumentDiff{ds, dt} {
		for _, n := range d.NodeChanges.Added {
			added[n.ID] = struct{}{}
		}
		for _, n := range d.NodeChanges.Removed {
			removed[n.ID] = struct{}{}
		}
		for _, m := range d.NodeChanges.Modified {
			modified[m.ID] = struct{}{}
		}
	}
	fields := map[string]struct{}{}
	for f := range ds.FieldChanges {
		fields[f] = struct{}{}
	}
	for f := range dt.FieldChanges {
		fields[f] = struct{}{}
	}
	s := MergeSummary{
		AddedNodes:    len(added),
		RemovedNodes:  len(removed),
		ModifiedNodes: len(modified),
	}
	s.ChangedEntities = s.AddedNodes + s.RemovedNodes + s.ModifiedNodes + len(fields)
	if ds.ConnectionsChanged || dt.ConnectionsChanged {
		s.ChangedEntities++
	}
	return s
}

func riskLevel(conflicts []Conflict, summary MergeSummary) Severity {
	for _, c := range conflicts {
		if c.Severity == SeverityCritical {
			return SeverityCritical
		}
	}
	for _, c := range conflicts {
		if c.Severity == SeverityHigh {
			return SeverityHigh
		}
	}
	if summary.ChangedEntities > 10 {
		return SeverityMedium
	}
	return SeverityLow
}

func touchedNodeIDs(d *DocumentDiff) map[string]struct{} {
	ids := map[string]struct{}{}
	for _, n := range d.NodeChanges.Added {
		ids[n.ID] = struct{}{}
	}
	for _, n := range d.NodeChanges.Removed {
		ids[n.ID] = struct{}{}
	}
	for _, m := range d.NodeChanges.Modified {
		ids[m.ID] = struct{}{}
	}
	return ids
}

// nodeSeverity grades a node conflict by which fields diverged between the
// two outcomes. A deletion on either side counts as a type divergence.
func nodeSeverity(s, t *Node) Severity {
	if s == nil || t == nil {
		return SeverityCritical
	}
	if s.Type != t.Type {
		return SeverityCritical
	}
	if s.Name != t.Name {
		return SeverityMedium
	}
	return SeverityLow
}

// positionOnly reports whether a node changed relative to base in its
// position field and nothing else.
func positionOnly(base, n *Node) bool {
	if base == nil || n == nil {
		return false
	}
	fields := diffNodeFields(*base, *n)
	if len(fields) != 1 {
		return false
	}
	_, ok := fields[fieldPosition]
	return ok
}

func nodesEqual(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return deepEqualJSON(*a, *b)
}

// nodeValue keeps nil nodes as untyped nil so JSON output reads "null"
// rather than an empty object.
func nodeValue(n *Node) any {
	if n == nil {
		return nil
	}
	return *n
}

// buildMerged assembles the merged document once every conflict has a
// settlement. chosen maps conflict id to the resolution to apply.
func buildMerged(base, source, target *Document, chosen map[string]Resolution) *Document {
	ds := Diff(base, source)
	dt := Diff(base, target)

	merged := &Document{ID: target.ID}

	merged.Name = mergeField(fieldName, base.Name, source.Name, target.Name,
		ds.FieldChanges, dt.FieldChanges, chosen).(string)
	merged.Active = mergeField(fieldActive, base.Active, source.Active, target.Active,
		ds.FieldChanges, dt.FieldChanges, chosen).(bool)
	merged.Settings = asParamMap(mergeField(fieldSettings, base.Settings, source.Settings, target.Settings,
		ds.FieldChanges, dt.FieldChanges, chosen))
	merged.Tags = mergeTags(base, source, target, ds, dt, chosen)
	merged.Nodes = mergeNodes(base, source, target, ds, dt, chosen)
	merged.Connections = mergeConnections(base, source, target, ds, dt, chosen)
	return merged
}

// mergeField settles one metadata field: one-sided changes apply directly,
// two-sided ones follow the recorded resolution.
func mergeField(field string, baseV, sourceV, targetV any, sc, tc map[string]FieldChange, chosen map[string]Resolution) any {
	_, sok := sc[field]
	_, tok := tc[field]
	switch {
	case sok && tok:
		if r, ok := chosen["metadata:"+field]; ok && r == KeepSource {
			return sourceV
		}
		if deepEqualJSON(sourceV, targetV) {
			return sourceV
		}
		return targetV
	case sok:
		return sourceV
	case tok:
		return targetV
	default:
		return baseV
	}
}

func mergeTags(base, source, target *Document, ds, dt *DocumentDiff, chosen map[string]Resolution) []string {
	_, sok := ds.FieldChanges[fieldTags]
	_, tok := dt.FieldChanges[fieldTags]
	if sok && tok && !deepEqualJSON(tagSet(source.Tags), tagSet(target.Tags)) {
		switch chosen["metadata:"+fieldTags] {
		case KeepSource:
			return append([]string(nil), source.Tags...)
		case KeepTarget:
			return append([]string(nil), target.Tags...)
		default: // MergeBoth
			union := tagSet(source.Tags)
			for t := range tagSet(target.Tags) {
				union[t] = struct{}{}
			}
			out := make([]string, 0, len(union))
			for t := range union {
				out = append(out, t)
			}
			sort.Strings(out)
			return out
		}
	}
	if sok {
		return append([]string(nil), source.Tags...)
	}
	if tok {
		return append([]string(nil), target.Tags...)
	}
	return append([]string(nil), base.Tags...)
}

func mergeNodes(base, source, target *Document, ds, dt *DocumentDiff, chosen map[string]Resolution) []Node {
	touchedS := touchedNodeIDs(ds)
	touchedT := touchedNodeIDs(dt)

	// settle picks the surviving value for one node id; nil means removed.
	settle := func(id string) *Node {
		baseN := base.NodeByID(id)
		sN := source.NodeByID(id)
		tN := target.NodeByID(id)
		_, sTouched := touchedS[id]
		_, tTouched := touchedT[id]
		switch {
		case sTouched && tTouched:
			if r, ok := chosen["node:"+id]; ok && r == KeepSource {
				return sN
			}
			if nodesEqual(sN, tN) {
				return sN
			}
			return tN
		case sTouched:
			return sN
		case tTouched:
			return tN
		default:
			return baseN
		}
	}

	seen := map[string]struct{}{}
	var out []Node
	appendSettled := func(id string) {
		if _, done := seen[id]; done {
			return
		}
		seen[id] = struct{}{}
		if n := settle(id); n != nil {
			out = append(out, n.Clone())
		}
	}

	// Base order first, then nodes the target added, then source additions.
	for _, n := range base.Nodes {
		appendSettled(n.ID)
	}
	for _, n := range target.Nodes {
		appendSettled(n.ID)
	}
	for _, n := range source.Nodes {
		appendSettled(n.ID)
	}
	return out
}

func mergeConnections(base, source, target *Document, ds, dt *DocumentDiff, chosen map[string]Resolution) Connections {
	switch {
	case ds.ConnectionsChanged && dt.ConnectionsChanged:
		if r, ok := chosen["connections"]; ok && r == KeepSource {
			return source.Connections.Clone()
		}
		return target.Connections.Clone()
	case ds.ConnectionsChanged:
		return source.Connections.Clone()
	case dt.ConnectionsChanged:
		return target.Connections.Clone()
	default:
		return base.Connections.Clone()
	}
}

func asParamMap(v any) ParamMap {
	if v == nil {
		return nil
	}
	return v.(ParamMap)
}
