package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nismod/smif/internal/data"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "smif.db"))
	require.NoError(t, err)
	return st
}

func TestSQLiteStoreContract(t *testing.T) {
	storeContract(t, openTestSQLite)
}

func TestSQLiteOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "smif.db")

	st, err := OpenSQLite(path)
	require.NoError(t, err)

	da := data.MustNew(levelSpec(), []float64{500})
	require.NoError(t, st.WriteResults(ctx, "run", "reservoir", "reservoir_level", 2020, 0, da))
	require.NoError(t, st.Close())

	// Reopening applies the schema again and keeps the data.
	st, err = OpenSQLite(path)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.ReadResults(ctx, "run", "reservoir", "reservoir_level", 2020, 0)
	require.NoError(t, err)
	assert.True(t, da.Equal(got))
}

func TestSQLitePreservesNaN(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t)
	defer st.Close()

	spec := data.Spec{
		Name:   "flow",
		Dims:   []string{"region"},
		Coords: map[string][]string{"region": {"a", "b"}},
		Unit:   "Ml",
	}
	nan := data.MustNew(spec, []float64{1, math.NaN()})
	require.NoError(t, st.WriteResults(ctx, "run", "m", "flow", 2020, 0, nan))

	got, err := st.ReadResults(ctx, "run", "m", "flow", 2020, 0)
	require.NoError(t, err)
	assert.True(t, nan.Equal(got))
}
