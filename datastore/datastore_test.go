package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestPutRewritesFileAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	ds, err := New(path)
	require.NoError(t, err)

	require.NoError(t, ds.Put("a", doc{Name: "first", Items: []string{"x"}}))
	require.NoError(t, ds.Put("b", doc{Name: "second"}))

	reopened, err := New(path)
	require.NoError(t, err)

	var got doc
	ok, err := reopened.Get("a", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, []string{"x"}, got.Items)
	assert.Equal(t, []string{"a", "b"}, reopened.Keys())
}

func TestGetMissingKey(t *testing.T) {
	ds, err := New(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)

	var got doc
	ok, err := ds.Get("nope", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ds, err := New(path)
	require.NoError(t, err)

	require.NoError(t, ds.Put("a", doc{Name: "gone"}))
	require.NoError(t, ds.Delete("a"))
	require.NoError(t, ds.Close())

	assert.ErrorIs(t, ds.Put("a", doc{}), ErrClosed)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestInvalidFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := New(path)
	assert.Error(t, err)
}
