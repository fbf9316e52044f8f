// Package memstore implements flowvc.VersionRepository in process memory.
// Suited to tests and single-process setups; the postgres package is the
// durable implementation.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meikuraledutech/flowvc"
)

// Store holds branches and versions in maps behind one RWMutex. Stored
// records are cloned on the way in and out, so callers can never alias
// internal state.
type Store struct {
	mu       sync.RWMutex
	branches map[string]flowvc.Branch
	versions map[string]flowvc.Version
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		branches: make(map[string]flowvc.Branch),
		versions: make(map[string]flowvc.Version),
	}
}

// CreateBranch registers a new branch.
func (s *Store) CreateBranch(_ context.Context, b *flowvc.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.branches[b.ID]; exists {
		return fmt.Errorf("%w: branch %s already exists", flowvc.ErrValidation, b.ID)
	}
	s.branches[b.ID] = *b
	return nil
}

// GetBranch returns a branch by id.
func (s *Store) GetBranch(_ context.Context, branchID string) (*flowvc.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[branchID]
	if !ok {
		return nil, flowvc.ErrBranchNotFound
	}
	return &b, nil
}

// ListBranches returns all branches of a document, default branch first,
// then by name.
func (s *Store) ListBranches(_ context.Context, documentID string) ([]flowvc.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []flowvc.Branch{}
	for _, b := range s.branches {
		if b.DocumentID == documentID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpdateBranchStatus moves a branch to a new lifecycle state.
func (s *Store) UpdateBranchStatus(_ context.Context, branchID string, status flowvc.BranchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branchID]
	if !ok {
		return flowvc.ErrBranchNotFound
	}
	b.Status = status
	s.branches[branchID] = b
	return nil
}

// AppendVersion stores a new version and swaps the branch tip in one step:
// the branch's previous active version is deactivated under the same lock.
func (s *Store) AppendVersion(_ context.Context, v *flowvc.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.versions[v.ID]; exists {
		return fmt.Errorf("%w: version %s already exists", flowvc.ErrValidation, v.ID)
	}
	if v.IsActive {
		for id, prev := range s.versions {
			if prev.BranchID == v.BranchID && prev.IsActive {
				prev.IsActive = false
				s.versions[id] = prev
			}
		}
	}
	s.versions[v.ID] = *cloneVersion(v)
	return nil
}

// GetVersion returns a version by id.
func (s *Store) GetVersion(_ context.Context, versionID string) (*flowvc.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, flowvc.ErrVersionNotFound
	}
	return cloneVersion(&v), nil
}

// ActiveVersion returns the branch's current tip.
func (s *Store) ActiveVersion(_ context.Context, branchID string) (*flowvc.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.BranchID == branchID && v.IsActive {
			return cloneVersion(&v), nil
		}
	}
	return nil, flowvc.ErrVersionNotFound
}

// ListVersions returns a document's versions ordered by version number
// descending, truncated to limit. limit <= 0 means no truncation.
func (s *Store) ListVersions(_ context.Context, documentID string, limit int) ([]flowvc.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []flowvc.Version{}
	for _, v := range s.versions {
		if v.DocumentID == documentID {
			out = append(out, *cloneVersion(&v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VersionNumber != out[j].VersionNumber {
			return out[i].VersionNumber > out[j].VersionNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneVersion(v *flowvc.Version) *flowvc.Version {
	out := *v
	out.Snapshot = *v.Snapshot.Clone()
	out.Tags = append([]string(nil), v.Tags...)
	return &out
}
