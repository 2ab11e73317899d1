package runindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

func newTestIndex(t *testing.T) *RunIndex {
	t.Helper()
	sub := storage.NewSubstrate()
	wal, err := storage.OpenWAL(t.TempDir(), storage.DurabilityInMemory, 0, nil, nil)
	require.NoError(t, err)
	mgr := storage.NewTxnManager(sub, wal, 0)
	return New(sub, mgr)
}

func TestCreateStartsActiveAndRejectsDuplicate(t *testing.T) {
	r := newTestIndex(t)
	m, err := r.Create("run-1", "first", "", []string{"a", "b"}, value.Null())
	require.NoError(t, err)
	assert.Equal(t, Active, m.State)
	assert.Equal(t, []string{"a", "b"}, m.Tags)

	_, err = r.Create("run-1", "again", "", nil, value.Null())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RunAlreadyExists))
}

func TestGetMissingRunReturnsFalse(t *testing.T) {
	r := newTestIndex(t)
	_, ok, err := r.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListReturnsAllRunsSortedByID(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-b", "b", "", nil, value.Null())
	require.NoError(t, err)
	_, err = r.Create("run-a", "a", "", nil, value.Null())
	require.NoError(t, err)

	all, err := r.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-a", all[0].ID)
	assert.Equal(t, "run-b", all[1].ID)
}

func TestUpdateMetadataReplacesNameAndUserMetadata(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-1", "old", "", nil, value.Null())
	require.NoError(t, err)

	m, err := r.UpdateMetadata("run-1", "new", value.Object(map[string]value.Value{"k": value.Int(1)}))
	require.NoError(t, err)
	assert.Equal(t, "new", m.Name)
	obj, _ := m.UserMetadata.AsObject()
	n, _ := obj["k"].AsInt()
	assert.Equal(t, int64(1), n)
}

func TestAddAndRemoveTags(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-1", "r", "", []string{"x"}, value.Null())
	require.NoError(t, err)

	m, err := r.AddTags("run-1", []string{"y", "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, m.Tags)

	m, err = r.RemoveTags("run-1", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, m.Tags)
}

func TestSetStatePermitsValidTransitions(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-1", "r", "", nil, value.Null())
	require.NoError(t, err)

	m, err := r.SetState("run-1", Paused, "")
	require.NoError(t, err)
	assert.Equal(t, Paused, m.State)

	m, err = r.SetState("run-1", Active, "")
	require.NoError(t, err)
	assert.Equal(t, Active, m.State)

	m, err = r.SetState("run-1", Failed, "boom")
	require.NoError(t, err)
	assert.Equal(t, Failed, m.State)
	assert.Equal(t, "boom", m.Error)
}

func TestSetStateRejectsInvalidTransition(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-1", "r", "", nil, value.Null())
	require.NoError(t, err)
	_, err = r.SetState("run-1", Completed, "")
	require.NoError(t, err)

	_, err = r.SetState("run-1", Active, "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConstraintViolation))
}

func TestSetStateAllowsTerminalToArchived(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-1", "r", "", nil, value.Null())
	require.NoError(t, err)
	_, err = r.SetState("run-1", Cancelled, "")
	require.NoError(t, err)

	m, err := r.SetState("run-1", Archived, "")
	require.NoError(t, err)
	assert.Equal(t, Archived, m.State)
}

func TestQueryByStateAndByTag(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-1", "r1", "", []string{"team-a"}, value.Null())
	require.NoError(t, err)
	_, err = r.Create("run-2", "r2", "", []string{"team-b"}, value.Null())
	require.NoError(t, err)
	_, err = r.SetState("run-2", Completed, "")
	require.NoError(t, err)

	active, err := r.QueryByState(Active)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "run-1", active[0].ID)

	tagged, err := r.QueryByTag("team-b")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "run-2", tagged[0].ID)
}

func TestCount(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-1", "r1", "", nil, value.Null())
	require.NoError(t, err)
	_, err = r.Create("run-2", "r2", "", nil, value.Null())
	require.NoError(t, err)

	n, err := r.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeleteCascadesToRunScopedData(t *testing.T) {
	r := newTestIndex(t)
	_, err := r.Create("run-1", "r", "", nil, value.Null())
	require.NoError(t, err)

	require.NoError(t, r.Delete("run-1"))
	_, ok, err := r.Get("run-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NotContains(t, r.substrate.ListRunIDs(), "run-1")
}

func TestDeleteMissingRunIsAnError(t *testing.T) {
	r := newTestIndex(t)
	assert.Error(t, r.Delete("missing"))
}
