package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	var d doc
	found, err := s.Get(ctx, "missing", &d)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Set(ctx, "a", doc{Name: "alpha", Count: 1}))
	require.NoError(t, s.Set(ctx, "a", doc{Name: "alpha", Count: 2}))
	found, err = s.Get(ctx, "a", &d)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, doc{Name: "alpha", Count: 2}, d)

	require.NoError(t, s.Set(ctx, "b", []string{"x", "y"}))
	var list []string
	found, err = s.Get(ctx, "b", &list)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"x", "y"}, list)

	require.NoError(t, s.Remove(ctx, "a"))
	require.NoError(t, s.Remove(ctx, "a"), "removing an absent key is a no-op")
	found, err = s.Get(ctx, "a", &d)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Clear(ctx))
	found, err = s.Get(ctx, "b", &list)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemory_Contract(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestSQLite_Contract(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
}

func TestMemory_CorruptValue(t *testing.T) {
	s := NewMemory()
	s.SetRaw("q", []byte("{not json"))

	var d doc
	found, err := s.Get(context.Background(), "q", &d)
	require.ErrorIs(t, err, ErrCorrupt)
	require.False(t, found)
	require.Equal(t, []string{"q"}, s.Keys())
}

func TestSQLite_CorruptValue(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB().Exec(`INSERT INTO kv_store (key, value) VALUES ('q', '[1,2')`)
	require.NoError(t, err)

	var out []int
	found, err := s.Get(context.Background(), "q", &out)
	require.ErrorIs(t, err, ErrCorrupt)
	require.False(t, found)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", doc{Name: "kept"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	var d doc
	found, err := s.Get(ctx, "k", &d)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "kept", d.Name)
}
