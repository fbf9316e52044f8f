package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flowvc"
)

func testBranch(id string) *flowvc.Branch {
	return &flowvc.Branch{
		ID:         id,
		Name:       "main",
		DocumentID: "wf-1",
		IsDefault:  true,
		Status:     flowvc.BranchActive,
	}
}

func testVersion(id, branchID string, number int, active bool) *flowvc.Version {
	return &flowvc.Version{
		ID:            id,
		DocumentID:    "wf-1",
		BranchID:      branchID,
		VersionNumber: number,
		CreatedAt:     time.Now().UTC(),
		ChangeType:    flowvc.ChangeSnapshot,
		IsActive:      active,
		Snapshot:      flowvc.Document{ID: "wf-1", Name: "Pipeline"},
	}
}

func TestBranchLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateBranch(ctx, testBranch("b1")))
	assert.ErrorIs(t, s.CreateBranch(ctx, testBranch("b1")), flowvc.ErrValidation)

	b, err := s.GetBranch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, flowvc.BranchActive, b.Status)

	_, err = s.GetBranch(ctx, "nope")
	assert.ErrorIs(t, err, flowvc.ErrBranchNotFound)

	require.NoError(t, s.UpdateBranchStatus(ctx, "b1", flowvc.BranchMerged))
	b, err = s.GetBranch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, flowvc.BranchMerged, b.Status)

	assert.ErrorIs(t, s.UpdateBranchStatus(ctx, "nope", flowvc.BranchAbandoned), flowvc.ErrBranchNotFound)
}

func TestListBranchesDefaultFirst(t *testing.T) {
	ctx := context.Background()
	s := New()

	feature := testBranch("b2")
	feature.Name = "a-feature"
	feature.IsDefault = false
	require.NoError(t, s.CreateBranch(ctx, feature))
	require.NoError(t, s.CreateBranch(ctx, testBranch("b1")))

	branches, err := s.ListBranches(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "b1", branches[0].ID)
}

func TestAppendVersionSwapsTip(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateBranch(ctx, testBranch("b1")))

	require.NoError(t, s.AppendVersion(ctx, testVersion("v1", "b1", 1, true)))
	require.NoError(t, s.AppendVersion(ctx, testVersion("v2", "b1", 2, true)))

	tip, err := s.ActiveVersion(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "v2", tip.ID)

	v1, err := s.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, v1.IsActive, "previous tip deactivated in the same step")

	assert.ErrorIs(t, s.AppendVersion(ctx, testVersion("v1", "b1", 3, true)), flowvc.ErrValidation)
}

func TestActiveVersionPerBranch(t *testing.T) {
	ctx := context.Background()
	s := New()
	other := testBranch("b2")
	other.IsDefault = false
	require.NoError(t, s.CreateBranch(ctx, testBranch("b1")))
	require.NoError(t, s.CreateBranch(ctx, other))

	require.NoError(t, s.AppendVersion(ctx, testVersion("v1", "b1", 1, true)))
	require.NoError(t, s.AppendVersion(ctx, testVersion("v2", "b2", 1, true)))

	tip1, err := s.ActiveVersion(ctx, "b1")
	require.NoError(t, err)
	tip2, err := s.ActiveVersion(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, "v1", tip1.ID)
	assert.Equal(t, "v2", tip2.ID)

	_, err = s.ActiveVersion(ctx, "b3")
	assert.ErrorIs(t, err, flowvc.ErrVersionNotFound)
}

func TestListVersionsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateBranch(ctx, testBranch("b1")))
	for i := 1; i <= 4; i++ {
		v := testVersion(string(rune('0'+i)), "b1", i, true)
		require.NoError(t, s.AppendVersion(ctx, v))
	}

	versions, err := s.ListVersions(ctx, "wf-1", 3)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 4, versions[0].VersionNumber)
	assert.Equal(t, 2, versions[2].VersionNumber)

	all, err := s.ListVersions(ctx, "wf-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStoredVersionsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateBranch(ctx, testBranch("b1")))

	v := testVersion("v1", "b1", 1, true)
	v.Snapshot.Nodes = []flowvc.Node{{ID: "n1", Type: "http", Parameters: flowvc.ParamMap{"url": "a"}}}
	require.NoError(t, s.AppendVersion(ctx, v))

	// Mutating the caller's copy after the fact must not leak in.
	v.Snapshot.Nodes[0].Parameters["url"] = "b"

	got, err := s.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Snapshot.Nodes[0].Parameters["url"])

	// And mutating what we read back must not corrupt the store.
	got.Snapshot.Nodes[0].Parameters["url"] = "c"
	again, err := s.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Snapshot.Nodes[0].Parameters["url"])
}
