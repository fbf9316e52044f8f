package flowvc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service composes the version repository, the external engine client, and
// the merge engine into the branch-level operations surface. All writes to a
// branch are serialized through one lock per branch id; the diff and merge
// computations themselves run off-lock on copies of the tips.
type Service struct {
	repo   VersionRepository
	source DocumentSource
	types  TypeCatalog

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires a Service. types may be nil if no catalog is available;
// only NodeDefaults depends on it.
func NewService(repo VersionRepository, source DocumentSource, types TypeCatalog) *Service {
	return &Service{
		repo:   repo,
		source: source,
		types:  types,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) branchLock(branchID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[branchID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[branchID] = l
	}
	return l
}

// lockBranches acquires locks for both branches in id order so concurrent
// merges in opposite directions cannot deadlock.
func (s *Service) lockBranches(a, b string) func() {
	ids := []string{a, b}
	sort.Strings(ids)
	if ids[0] == ids[1] {
		l := s.branchLock(ids[0])
		l.Lock()
		return l.Unlock
	}
	first, second := s.branchLock(ids[0]), s.branchLock(ids[1])
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}

// releaseLock drops a branch's lock entry once the branch is terminal, so
// the lock map does not grow with every branch the process ever touched.
// A goroutine racing on a fresh mutex re-reads the branch and fails on its
// terminal status.
func (s *Service) releaseLock(branchID string) {
	s.mu.Lock()
	delete(s.locks, branchID)
	s.mu.Unlock()
}

// CreateBranch snapshots the document's current state as the new branch's
// version 1. With baseVersionID set, the branch starts from that historical
// snapshot instead of the engine's live state.
func (s *Service) CreateBranch(ctx context.Context, documentID, name, baseVersionID, author string) (*Branch, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: branch name is required", ErrValidation)
	}
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrValidation)
	}

	var snap *Document
	basedOn := baseVersionID
	if baseVersionID != "" {
		v, err := s.repo.GetVersion(ctx, baseVersionID)
		if err != nil {
			return nil, err
		}
		if v.DocumentID != documentID {
			return nil, fmt.Errorf("%w: version %s does not belong to document %s", ErrVersionNotFound, baseVersionID, documentID)
		}
		snap = v.Snapshot.Clone()
	} else {
		doc, err := s.source.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		snap = doc.Clone()
	}

	// Branch creation is serialized per document: the default-branch
	// decision below reads the current branch list and must not race with
	// another creation for the same document.
	lock := s.branchLock("doc:" + documentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.ListBranches(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if basedOn == "" {
		// Record the common ancestor: the current tip of the document's
		// default branch, when one exists.
		for _, b := range existing {
			if b.IsDefault {
				if tip, err := s.repo.ActiveVersion(ctx, b.ID); err == nil {
					basedOn = tip.ID
				}
				break
			}
		}
	}

	branch := &Branch{
		ID:               uuid.NewString(),
		Name:             name,
		DocumentID:       documentID,
		BasedOnVersionID: basedOn,
		IsDefault:        len(existing) == 0,
		Status:           BranchActive,
	}
	if err := s.repo.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}

	v := &Version{
		ID:            uuid.NewString(),
		DocumentID:    documentID,
		BranchID:      branch.ID,
		VersionNumber: 1,
		Name:          "branch created: " + name,
		Author:        author,
		CreatedAt:     time.Now().UTC(),
		ChangeType:    ChangeSnapshot,
		IsActive:      true,
		Snapshot:      *snap,
	}
	if err := s.repo.AppendVersion(ctx, v); err != nil {
		return nil, err
	}
	return branch, nil
}

// ListBranches returns every branch of a document.
func (s *Service) ListBranches(ctx context.Context, documentID string) ([]Branch, error) {
	return s.repo.ListBranches(ctx, documentID)
}

// AbandonBranch closes an active branch. Terminal.
func (s *Service) AbandonBranch(ctx context.Context, branchID string) (*Branch, error) {
	lock := s.branchLock(branchID)
	lock.Lock()
	defer lock.Unlock()

	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.Status != BranchActive {
		return nil, fmt.Errorf("%w: branch %s is %s", ErrBranchClosed, branchID, branch.Status)
	}
	if err := s.repo.UpdateBranchStatus(ctx, branchID, BranchAbandoned); err != nil {
		return nil, err
	}
	s.releaseLock(branchID)
	branch.Status = BranchAbandoned
	return branch, nil
}

// SnapshotResult reports whether a snapshot commit created a new version.
type SnapshotResult struct {
	Created bool     `json:"created"`
	Version *Version `json:"version,omitempty"`
	Message string   `json:"message"`
}

// CreateSnapshot pulls the document's current state from the engine and
// commits a new version if it differs from the branch tip. A no-change pull
// is a no-op result, not an error.
func (s *Service) CreateSnapshot(ctx context.Context, branchID, name, author string) (*SnapshotResult, error) {
	lock := s.branchLock(branchID)
	lock.Lock()
	defer lock.Unlock()

	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.Status != BranchActive {
		return nil, fmt.Errorf("%w: branch %s is %s", ErrBranchClosed, branchID, branch.Status)
	}

	doc, err := s.source.GetDocument(ctx, branch.DocumentID)
	if err != nil {
		return nil, err
	}
	tip, err := s.repo.ActiveVersion(ctx, branchID)
	if err != nil {
		return nil, err
	}

	d := Diff(&tip.Snapshot, doc)
	if !d.Summary.HasChanges {
		return &SnapshotResult{Created: false, Message: "no changes since version " + fmt.Sprint(tip.VersionNumber)}, nil
	}

	v := &Version{
		ID:            uuid.NewString(),
		DocumentID:    branch.DocumentID,
		BranchID:      branchID,
		VersionNumber: tip.VersionNumber + 1,
		Name:          name,
		Author:        author,
		CreatedAt:     time.Now().UTC(),
		ChangeType:    ClassifyChange(d),
		IsActive:      true,
		Snapshot:      *doc.Clone(),
		ChangeSummary: Summarize(d),
	}
	if err := s.repo.AppendVersion(ctx, v); err != nil {
		return nil, err
	}
	return &SnapshotResult{Created: true, Version: v, Message: "created version " + fmt.Sprint(v.VersionNumber)}, nil
}

// RestoreVersion copies an older snapshot forward as the branch's new tip.
// The restored record is a fresh version: history stays append-only.
func (s *Service) RestoreVersion(ctx context.Context, branchID, versionID, author string) (*Version, error) {
	lock := s.branchLock(branchID)
	lock.Lock()
	defer lock.Unlock()

	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.Status != BranchActive {
		return nil, fmt.Errorf("%w: branch %s is %s", ErrBranchClosed, branchID, branch.Status)
	}
	target, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if target.DocumentID != branch.DocumentID {
		return nil, fmt.Errorf("%w: version %s does not belong to document %s", ErrVersionNotFound, versionID, branch.DocumentID)
	}
	tip, err := s.repo.ActiveVersion(ctx, branchID)
	if err != nil {
		return nil, err
	}

	v := &Version{
		ID:            uuid.NewString(),
		DocumentID:    branch.DocumentID,
		BranchID:      branchID,
		VersionNumber: tip.VersionNumber + 1,
		Name:          fmt.Sprintf("restore of version %d", target.VersionNumber),
		Author:        author,
		CreatedAt:     time.Now().UTC(),
		ChangeType:    ChangeMajor,
		Tags:          []string{"restoration:" + target.ID},
		IsActive:      true,
		Snapshot:      *target.Snapshot.Clone(),
		ChangeSummary: fmt.Sprintf("restored snapshot of version %d", target.VersionNumber),
	}
	if err := s.repo.AppendVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// VersionHistory lists a document's versions, most recent first.
func (s *Service) VersionHistory(ctx context.Context, documentID string, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListVersions(ctx, documentID, limit)
}

// CompareVersions diffs any two points in a document's history.
func (s *Service) CompareVersions(ctx context.Context, fromVersionID, toVersionID string) (*DocumentDiff, error) {
	from, err := s.repo.GetVersion(ctx, fromVersionID)
	if err != nil {
		return nil, err
	}
	to, err := s.repo.GetVersion(ctx, toVersionID)
	if err != nil {
		return nil, err
	}
	if from.DocumentID != to.DocumentID {
		return nil, fmt.Errorf("%w: versions belong to different documents", ErrValidation)
	}
	d := Diff(&from.Snapshot, &to.Snapshot)
	d.FromVersionID = from.ID
	d.ToVersionID = to.ID
	return d, nil
}

// mergeInputs holds consistent tip copies taken under the branch locks.
type mergeInputs struct {
	source, target       *Branch
	sourceTip, targetTip *Version
	base                 *Document
}

// loadMergeInputs validates the branch pair and copies both tips plus the
// common ancestor snapshot. Caller holds both branch locks.
func (s *Service) loadMergeInputs(ctx context.Context, sourceBranchID, targetBranchID string) (*mergeInputs, error) {
	if sourceBranchID == targetBranchID {
		return nil, fmt.Errorf("%w: cannot merge a branch into itself", ErrValidation)
	}
	source, err := s.repo.GetBranch(ctx, sourceBranchID)
	if err != nil {
		return nil, err
	}
	target, err := s.repo.GetBranch(ctx, targetBranchID)
	if err != nil {
		return nil, err
	}
	if source.DocumentID != target.DocumentID {
		return nil, fmt.Errorf("%w: branches belong to different documents", ErrValidation)
	}
	if source.Status != BranchActive {
		return nil, fmt.Errorf("%w: source branch is %s", ErrBranchClosed, source.Status)
	}
	if target.Status != BranchActive {
		return nil, fmt.Errorf("%w: target branch is %s", ErrBranchClosed, target.Status)
	}

	sourceTip, err := s.repo.ActiveVersion(ctx, sourceBranchID)
	if err != nil {
		return nil, err
	}
	targetTip, err := s.repo.ActiveVersion(ctx, targetBranchID)
	if err != nil {
		return nil, err
	}

	// Common ancestor: the version the source branch forked from. A branch
	// with no recorded ancestor merges against the target tip, which makes
	// every change one-sided from the source's perspective.
	base := targetTip.Snapshot.Clone()
	if source.BasedOnVersionID != "" {
		bv, err := s.repo.GetVersion(ctx, source.BasedOnVersionID)
		if err != nil {
			return nil, err
		}
		base = bv.Snapshot.Clone()
	}

	return &mergeInputs{
		source:    source,
		target:    target,
		sourceTip: cloneVersion(sourceTip),
		targetTip: cloneVersion(targetTip),
		base:      base,
	}, nil
}

func cloneVersion(v *Version) *Version {
	out := *v
	out.Snapshot = *v.Snapshot.Clone()
	out.Tags = append([]string(nil), v.Tags...)
	return &out
}

// PreviewMerge reports conflicts and risk for merging source into target
// without touching either branch. Tips are copied under the branch locks;
// the merge computation itself runs off-lock.
func (s *Service) PreviewMerge(ctx context.Context, sourceBranchID, targetBranchID string) (*MergePreview, error) {
	unlock := s.lockBranches(sourceBranchID, targetBranchID)
	in, err := s.loadMergeInputs(ctx, sourceBranchID, targetBranchID)
	unlock()
	if err != nil {
		return nil, err
	}
	return PreviewMerge(in.base, &in.sourceTip.Snapshot, &in.targetTip.Snapshot), nil
}

// MergeOutcome is the caller-facing result of a merge attempt. Success false
// with a conflict list is the MergeBlocked outcome: a normal result that
// leaves the target branch untouched.
type MergeOutcome struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Version   *Version   `json:"version,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Resolved  []string   `json:"resolved,omitempty"`
}

// MergeBranches merges source into target. All-or-nothing: with any
// unresolved conflict nothing is pushed or persisted; otherwise the merged
// document goes to the engine, becomes the target branch's new tip, and the
// source branch transitions to merged.
func (s *Service) MergeBranches(ctx context.Context, sourceBranchID, targetBranchID string, resolutions map[string]Resolution, author string) (*MergeOutcome, error) {
	unlock := s.lockBranches(sourceBranchID, targetBranchID)
	defer unlock()

	in, err := s.loadMergeInputs(ctx, sourceBranchID, targetBranchID)
	if err != nil {
		return nil, err
	}

	result := Merge(in.base, &in.sourceTip.Snapshot, &in.targetTip.Snapshot, resolutions)
	if len(result.Conflicts) > 0 {
		return &MergeOutcome{
			Success:   false,
			Message:   fmt.Sprintf("merge blocked: %d unresolved conflict(s)", len(result.Conflicts)),
			Conflicts: result.Conflicts,
			Resolved:  result.Resolved,
		}, nil
	}

	merged := result.Document
	merged.ID = in.target.DocumentID
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	d := Diff(&in.targetTip.Snapshot, merged)
	outcome := &MergeOutcome{Success: true, Resolved: result.Resolved}
	if !d.Summary.HasChanges {
		outcome.Message = "nothing to merge: branches are identical"
	} else {
		pushed, err := s.source.UpdateDocument(ctx, in.target.DocumentID, merged)
		if err != nil {
			return nil, err
		}
		v := &Version{
			ID:            uuid.NewString(),
			DocumentID:    in.target.DocumentID,
			BranchID:      targetBranchID,
			VersionNumber: in.targetTip.VersionNumber + 1,
			Name:          fmt.Sprintf("merge of branch %q", in.source.Name),
			Author:        author,
			CreatedAt:     time.Now().UTC(),
			ChangeType:    ClassifyChange(d),
			Tags:          []string{"merge:" + sourceBranchID},
			IsActive:      true,
			Snapshot:      *pushed.Clone(),
			ChangeSummary: Summarize(d),
		}
		if err := s.repo.AppendVersion(ctx, v); err != nil {
			return nil, err
		}
		outcome.Version = v
		outcome.Message = fmt.Sprintf("merged into version %d", v.VersionNumber)
	}

	if err := s.repo.UpdateBranchStatus(ctx, sourceBranchID, BranchMerged); err != nil {
		return nil, err
	}
	s.releaseLock(sourceBranchID)
	return outcome, nil
}

// ResolveConflicts re-runs a blocked merge with explicit resolutions for the
// conflicts a preview reported.
func (s *Service) ResolveConflicts(ctx context.Context, sourceBranchID, targetBranchID string, resolutions map[string]Resolution, author string) (*MergeOutcome, error) {
	if len(resolutions) == 0 {
		return nil, fmt.Errorf("%w: at least one resolution is required", ErrValidation)
	}
	return s.MergeBranches(ctx, sourceBranchID, targetBranchID, resolutions, author)
}

// NodeDefaults looks a node type up in the catalog and returns its schema,
// including suggested parameter defaults.
func (s *Service) NodeDefaults(ctx context.Context, typeName string) (*TypeSchema, error) {
	if typeName == "" {
		return nil, fmt.Errorf("%w: type name is required", ErrValidation)
	}
	if s.types == nil {
		return nil, fmt.Errorf("%w: no catalog configured", ErrTypeNotFound)
	}
	return s.types.LookupType(ctx, typeName)
}
