package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	n, err := store.SaveStream("reglement/2026/cps.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	require.EqualValues(t, 8, n)
	require.True(t, store.Exists("reglement/2026/cps.pdf"))

	f, err := store.Open("reglement/2026/cps.pdf")
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(body))

	require.NoError(t, store.Delete("reglement/2026/cps.pdf"))
	require.False(t, store.Exists("reglement/2026/cps.pdf"))
	require.NoError(t, store.Delete("reglement/2026/cps.pdf"))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("../escape.txt", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrOutsideRoot)
	_, err = store.Open("/etc/passwd")
	require.ErrorIs(t, err, ErrOutsideRoot)
}
