package flowvc_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flowvc"
	"github.com/meikuraledutech/flowvc/memstore"
)

// fakeEngine implements flowvc.DocumentSource over a map, with an optional
// injected failure for the unavailable path.
type fakeEngine struct {
	docs map[string]*flowvc.Document
	fail error
}

func (f *fakeEngine) GetDocument(_ context.Context, id string) (*flowvc.Document, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, flowvc.ErrDocumentNotFound
	}
	return d.Clone(), nil
}

func (f *fakeEngine) UpdateDocument(_ context.Context, id string, doc *flowvc.Document) (*flowvc.Document, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.docs[id] = doc.Clone()
	return doc.Clone(), nil
}

func testDocument() *flowvc.Document {
	return &flowvc.Document{
		ID:     "wf-1",
		Name:   "Pipeline",
		Active: true,
		Tags:   []string{"a"},
		Nodes: []flowvc.Node{
			{ID: "n1", Name: "Fetch", Type: "http", Position: flowvc.Position{X: 0, Y: 0}},
		},
		Connections: flowvc.Connections{},
	}
}

func newFixture() (*flowvc.Service, *fakeEngine) {
	eng := &fakeEngine{docs: map[string]*flowvc.Document{"wf-1": testDocument()}}
	return flowvc.NewService(memstore.New(), eng, nil), eng
}

func TestCreateBranchSnapshotsCurrentState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newFixture()

	b, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)
	assert.True(t, b.IsDefault)
	assert.Equal(t, flowvc.BranchActive, b.Status)

	history, err := svc.VersionHistory(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].VersionNumber)
	assert.Equal(t, flowvc.ChangeSnapshot, history[0].ChangeType)
	assert.True(t, history[0].IsActive)
	assert.Equal(t, "Pipeline", history[0].Snapshot.Name)
}

func TestConcurrentFirstBranchesSingleDefault(t *testing.T) {
	ctx := context.Background()
	svc, _ := newFixture()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.CreateBranch(ctx, "wf-1", fmt.Sprintf("branch-%d", n), "", "alice")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	branches, err := svc.ListBranches(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, branches, 8)
	defaults := 0
	for _, b := range branches {
		if b.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestCreateBranchValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newFixture()

	_, err := svc.CreateBranch(ctx, "wf-1", "", "", "alice")
	assert.ErrorIs(t, err, flowvc.ErrValidation)

	_, err = svc.CreateBranch(ctx, "missing", "main", "", "alice")
	assert.ErrorIs(t, err, flowvc.ErrDocumentNotFound)
}

func TestCreateBranchEngineDown(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	eng.fail = flowvc.ErrEngineUnavailable

	_, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	assert.ErrorIs(t, err, flowvc.ErrEngineUnavailable)
}

func TestSecondBranchForksFromDefaultTip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newFixture()

	main, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)
	feature, err := svc.CreateBranch(ctx, "wf-1", "feature", "", "bob")
	require.NoError(t, err)

	assert.False(t, feature.IsDefault)
	assert.NotEmpty(t, feature.BasedOnVersionID)

	branches, err := svc.ListBranches(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, main.ID, branches[0].ID, "default branch sorts first")
}

func TestCreateSnapshotNoChangesIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc, _ := newFixture()
	b, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)

	result, err := svc.CreateSnapshot(ctx, b.ID, "noop", "alice")
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Nil(t, result.Version)
}

func TestCreateSnapshotCommitsChange(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	b, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)

	eng.docs["wf-1"].Nodes = append(eng.docs["wf-1"].Nodes,
		flowvc.Node{ID: "n2", Name: "Notify", Type: "set"})

	result, err := svc.CreateSnapshot(ctx, b.ID, "add notify", "alice")
	require.NoError(t, err)
	require.True(t, result.Created)
	assert.Equal(t, 2, result.Version.VersionNumber)
	assert.Equal(t, flowvc.ChangeMinor, result.Version.ChangeType)
	assert.NotEmpty(t, result.Version.ChangeSummary)
}

func TestRestoreVersionRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	b, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)

	history, err := svc.VersionHistory(ctx, "wf-1", 1)
	require.NoError(t, err)
	v1 := history[0]

	eng.docs["wf-1"].Name = "Pipeline v2"
	_, err = svc.CreateSnapshot(ctx, b.ID, "rename", "alice")
	require.NoError(t, err)

	restored, err := svc.RestoreVersion(ctx, b.ID, v1.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber)
	assert.Equal(t, flowvc.ChangeMajor, restored.ChangeType)
	assert.Contains(t, restored.Tags, "restoration:"+v1.ID)

	d := flowvc.Diff(&restored.Snapshot, &v1.Snapshot)
	assert.False(t, d.Summary.HasChanges, "restored snapshot equals the source version")
}

func TestRestoreVersionForeignLineage(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	eng.docs["wf-2"] = &flowvc.Document{ID: "wf-2", Name: "Other", Nodes: []flowvc.Node{}}

	b1, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)
	_, err = svc.CreateBranch(ctx, "wf-2", "main", "", "alice")
	require.NoError(t, err)

	other, err := svc.VersionHistory(ctx, "wf-2", 1)
	require.NoError(t, err)

	_, err = svc.RestoreVersion(ctx, b1.ID, other[0].ID, "alice")
	assert.ErrorIs(t, err, flowvc.ErrVersionNotFound)
}

func TestVersionHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	b, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)

	for i, name := range []string{"one", "two", "three"} {
		eng.docs["wf-1"].Name = name
		_, err := svc.CreateSnapshot(ctx, b.ID, name, "alice")
		require.NoError(t, err, "snapshot %d", i)
	}

	history, err := svc.VersionHistory(ctx, "wf-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].VersionNumber)
	assert.Equal(t, 3, history[1].VersionNumber)
}

func TestCompareVersions(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	b, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)

	eng.docs["wf-1"].Name = "Pipeline v2"
	result, err := svc.CreateSnapshot(ctx, b.ID, "rename", "alice")
	require.NoError(t, err)

	history, err := svc.VersionHistory(ctx, "wf-1", 0)
	require.NoError(t, err)
	v1 := history[len(history)-1]

	d, err := svc.CompareVersions(ctx, v1.ID, result.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, d.FromVersionID)
	assert.Equal(t, result.Version.ID, d.ToVersionID)
	assert.Contains(t, d.FieldChanges, "name")
}

// divergedFixture builds main + feature branches whose tips conflict on the
// n1 node type, and returns both branch ids.
func divergedFixture(t *testing.T, svc *flowvc.Service, eng *fakeEngine) (mainID, featureID string) {
	t.Helper()
	ctx := context.Background()

	main, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)
	feature, err := svc.CreateBranch(ctx, "wf-1", "feature", "", "bob")
	require.NoError(t, err)

	eng.docs["wf-1"].NodeByID("n1").Type = "webhook"
	_, err = svc.CreateSnapshot(ctx, feature.ID, "to webhook", "bob")
	require.NoError(t, err)

	eng.docs["wf-1"].NodeByID("n1").Type = "cron"
	_, err = svc.CreateSnapshot(ctx, main.ID, "to cron", "alice")
	require.NoError(t, err)

	return main.ID, feature.ID
}

func TestPreviewMergeAcrossBranches(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	mainID, featureID := divergedFixture(t, svc, eng)

	p, err := svc.PreviewMerge(ctx, featureID, mainID)
	require.NoError(t, err)
	require.Len(t, p.Conflicts, 1)
	assert.Equal(t, flowvc.SeverityCritical, p.Conflicts[0].Severity)
	assert.False(t, p.CanAutoMerge)
}

func TestBlockedMergeLeavesTipUntouched(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	mainID, featureID := divergedFixture(t, svc, eng)

	before, err := svc.VersionHistory(ctx, "wf-1", 1)
	require.NoError(t, err)

	outcome, err := svc.MergeBranches(ctx, featureID, mainID, nil, "alice")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.Conflicts)
	assert.Nil(t, outcome.Version)

	after, err := svc.VersionHistory(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, before[0].ID, after[0].ID, "tip must be unchanged")
	assert.Equal(t, before[0].VersionNumber, after[0].VersionNumber)

	branches, err := svc.ListBranches(ctx, "wf-1")
	require.NoError(t, err)
	for _, b := range branches {
		assert.Equal(t, flowvc.BranchActive, b.Status, "blocked merge closes nothing")
	}
}

func TestResolvedMergeCommitsAndClosesSource(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	mainID, featureID := divergedFixture(t, svc, eng)

	outcome, err := svc.ResolveConflicts(ctx, featureID, mainID,
		map[string]flowvc.Resolution{"node:n1": flowvc.KeepSource}, "alice")
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.NotNil(t, outcome.Version)
	assert.Equal(t, "webhook", outcome.Version.Snapshot.Nodes[0].Type)
	assert.Equal(t, "webhook", eng.docs["wf-1"].NodeByID("n1").Type, "merged state pushed to the engine")

	branches, err := svc.ListBranches(ctx, "wf-1")
	require.NoError(t, err)
	statuses := map[string]flowvc.BranchStatus{}
	for _, b := range branches {
		statuses[b.ID] = b.Status
	}
	assert.Equal(t, flowvc.BranchMerged, statuses[featureID])
	assert.Equal(t, flowvc.BranchActive, statuses[mainID])

	// Merged is terminal: the source branch takes no further commits.
	_, err = svc.CreateSnapshot(ctx, featureID, "late", "bob")
	assert.ErrorIs(t, err, flowvc.ErrBranchClosed)
}

func TestResolveConflictsRequiresResolutions(t *testing.T) {
	ctx := context.Background()
	svc, eng := newFixture()
	mainID, featureID := divergedFixture(t, svc, eng)

	_, err := svc.ResolveConflicts(ctx, featureID, mainID, nil, "alice")
	assert.ErrorIs(t, err, flowvc.ErrValidation)
}

func TestMergeBranchValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newFixture()
	b, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)

	_, err = svc.MergeBranches(ctx, b.ID, b.ID, nil, "alice")
	assert.ErrorIs(t, err, flowvc.ErrValidation)

	_, err = svc.MergeBranches(ctx, b.ID, "missing", nil, "alice")
	assert.ErrorIs(t, err, flowvc.ErrBranchNotFound)
}

func TestAbandonBranchIsTerminal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newFixture()
	b, err := svc.CreateBranch(ctx, "wf-1", "main", "", "alice")
	require.NoError(t, err)

	closed, err := svc.AbandonBranch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, flowvc.BranchAbandoned, closed.Status)

	_, err = svc.AbandonBranch(ctx, b.ID)
	assert.ErrorIs(t, err, flowvc.ErrBranchClosed)

	_, err = svc.CreateSnapshot(ctx, b.ID, "late", "alice")
	assert.ErrorIs(t, err, flowvc.ErrBranchClosed)
}
