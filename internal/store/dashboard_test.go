package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/ghqueue/internal/module"
)

func TestGetDashboardWithoutRowReturnsEmptySections(t *testing.T) {
	st := newTestStore(t)

	sections, version, err := st.GetDashboard(context.Background(), "app", "fho", "repo")
	require.NoError(t, err)

	assert.Empty(t, sections)
	assert.EqualValues(t, 0, version)
}

func TestPutDashboardInsertAndUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.PutDashboard(ctx, "app", "fho", "repo",
		map[string]*module.Fragment{"clean": module.Leaf("v1")}, 0)
	require.NoError(t, err)

	sections, version, err := st.GetDashboard(ctx, "app", "fho", "repo")
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, "v1", sections["clean"].Text)

	sections["clean"] = module.Leaf("v2")
	require.NoError(t, st.PutDashboard(ctx, "app", "fho", "repo", sections, version))

	sections, version, err = st.GetDashboard(ctx, "app", "fho", "repo")
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
	assert.Equal(t, "v2", sections["clean"].Text)
}

func TestPutDashboardConcurrentInsertConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutDashboard(ctx, "app", "fho", "repo",
		map[string]*module.Fragment{"clean": module.Leaf("first")}, 0))

	err := st.PutDashboard(ctx, "app", "fho", "repo",
		map[string]*module.Fragment{"automerge": module.Leaf("second")}, 0)

	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestPutDashboardStaleVersionConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutDashboard(ctx, "app", "fho", "repo",
		map[string]*module.Fragment{"clean": module.Leaf("v1")}, 0))

	_, version, err := st.GetDashboard(ctx, "app", "fho", "repo")
	require.NoError(t, err)

	require.NoError(t, st.PutDashboard(ctx, "app", "fho", "repo",
		map[string]*module.Fragment{"clean": module.Leaf("v2")}, version))

	err = st.PutDashboard(ctx, "app", "fho", "repo",
		map[string]*module.Fragment{"clean": module.Leaf("lost update")}, version)

	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestDashboardSectionsSurviveRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	fragment := module.Node("Cleanup",
		module.Leaf("deleted 3 runs"),
		module.Node("Errors", module.Leaf("none")),
	)

	require.NoError(t, st.PutDashboard(ctx, "app", "fho", "repo",
		map[string]*module.Fragment{"clean": fragment}, 0))

	sections, _, err := st.GetDashboard(ctx, "app", "fho", "repo")
	require.NoError(t, err)

	require.Contains(t, sections, "clean")
	assert.Equal(t, fragment, sections["clean"])
}

func TestDashboardsAreIsolatedPerRepository(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutDashboard(ctx, "app", "fho", "repo1",
		map[string]*module.Fragment{"clean": module.Leaf("one")}, 0))
	require.NoError(t, st.PutDashboard(ctx, "app", "fho", "repo2",
		map[string]*module.Fragment{"clean": module.Leaf("two")}, 0))

	sections, _, err := st.GetDashboard(ctx, "app", "fho", "repo1")
	require.NoError(t, err)
	assert.Equal(t, "one", sections["clean"].Text)

	sections, _, err = st.GetDashboard(ctx, "app", "fho", "repo2")
	require.NoError(t, err)
	assert.Equal(t, "two", sections["clean"].Text)
}
