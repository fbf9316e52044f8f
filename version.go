package flowvc

import (
	"fmt"
	"strings"
	"time"
)

// ChangeType classifies how far a version moved from its predecessor.
type ChangeType string

const (
	ChangeMajor    ChangeType = "major"
	ChangeMinor    ChangeType = "minor"
	ChangePatch    ChangeType = "patch"
	ChangeSnapshot ChangeType = "snapshot"
)

// BranchStatus is the lifecycle state of a branch. Merged and abandoned are
// terminal: no operation transitions a branch out of them.
type BranchStatus string

const (
	BranchActive    BranchStatus = "active"
	BranchMerged    BranchStatus = "merged"
	BranchAbandoned BranchStatus = "abandoned"
)

// Version is an immutable snapshot record in a branch's history. "Deletion"
// does not exist; a version is only ever superseded by a newer active one.
type Version struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"document_id"`
	BranchID      string     `json:"branch_id"`
	VersionNumber int        `json:"version_number"`
	Name          string     `json:"name,omitempty"`
	Author        string     `json:"author,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ChangeType    ChangeType `json:"change_type"`
	Tags          []string   `json:"tags,omitempty"`
	IsActive      bool       `json:"is_active"`
	Snapshot      Document   `json:"snapshot"`
	ChangeSummary string     `json:"change_summary,omitempty"`
}

// Branch is a named, independently evolving lineage of versions for one
// document.
type Branch struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	DocumentID       string       `json:"document_id"`
	BasedOnVersionID string       `json:"based_on_version_id,omitempty"`
	IsDefault        bool         `json:"is_default"`
	Status           BranchStatus `json:"status"`
}

// ClassifyChange maps a diff onto a change type: any node removal or more
// than three connection change events is major; any node addition or more
// than two changed fields overall is minor; anything else is patch. With the
// coarse connection model a diff carries at most one connection event, so
// the removal rule is what triggers major in practice.
func ClassifyChange(d *DocumentDiff) ChangeType {
	connectionEvents := 0
	if d.ConnectionsChanged {
		connectionEvents = 1
	}
	if len(d.NodeChanges.Removed) > 0 || connectionEvents > 3 {
		return ChangeMajor
	}
	fieldChanges := len(d.FieldChanges)
	for _, m := range d.NodeChanges.Modified {
		fieldChanges += len(m.FieldChanges)
	}
	if len(d.NodeChanges.Added) > 0 || fieldChanges > 2 {
		return ChangeMinor
	}
	return ChangePatch
}

// Summarize renders a diff as a short human-readable change summary for the
// version record.
func Summarize(d *DocumentDiff) string {
	if !d.Summary.HasChanges {
		return "no changes"
	}
	var parts []string
	if n := d.Summary.AddedCount; n > 0 {
		parts = append(parts, fmt.Sprintf("%d node(s) added", n))
	}
	if n := d.Summary.RemovedCount; n > 0 {
		parts = append(parts, fmt.Sprintf("%d node(s) removed", n))
	}
	if n := d.Summary.ModifiedCount; n > 0 {
		parts = append(parts, fmt.Sprintf("%d node(s) modified", n))
	}
	if len(d.FieldChanges) > 0 {
		fields := make([]string, 0, len(d.FieldChanges))
		for _, f := range sortedKeys(d.FieldChanges) {
			fields = append(fields, f)
		}
		parts = append(parts, "metadata: "+strings.Join(fields, ", "))
	}
	if d.ConnectionsChanged {
		parts = append(parts, "connections changed")
	}
	return strings.Join(parts, "; ")
}
