// Package storetest provides a conformance suite for store.Store
// implementations.
package storetest

import (
	"testing"

	"github.com/mdrys/lanyard/store"
	"github.com/stretchr/testify/require"
)

// Run executes the common suite against the store returned by newStore.
// Each subtest receives a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("SetAndGet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(store.KeyAccessToken, "tok-1"))
		got, err := s.Get(store.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "tok-1", got)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get("no-such-key")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(store.KeyPreferredTheme, "light"))
		require.NoError(t, s.Set(store.KeyPreferredTheme, "dark"))
		got, err := s.Get(store.KeyPreferredTheme)
		require.NoError(t, err)
		require.Equal(t, "dark", got)
	})

	t.Run("Remove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(store.KeyRefreshToken, "rt-1"))
		require.NoError(t, s.Remove(store.KeyRefreshToken))
		_, err := s.Get(store.KeyRefreshToken)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("RemoveMissing", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Remove("never-written"))
	})

	t.Run("ClearRemovesEverything", func(t *testing.T) {
		s := newStore(t)
		// Clear must remove keys beyond the enumerated session keys too.
		require.NoError(t, s.Set(store.KeyAccessToken, "tok"))
		require.NoError(t, s.Set(store.KeyRefreshToken, "rt"))
		require.NoError(t, s.Set("some_feature_flag", "on"))
		require.NoError(t, s.Clear())
		for _, key := range []string{store.KeyAccessToken, store.KeyRefreshToken, "some_feature_flag"} {
			_, err := s.Get(key)
			require.ErrorIs(t, err, store.ErrNotFound, "key %q should be gone", key)
		}
	})

	t.Run("ClearEmpty", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Clear())
	})

	t.Run("WriteAfterClear", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(store.KeyAccessToken, "tok"))
		require.NoError(t, s.Clear())
		require.NoError(t, s.Set(store.KeyAccessToken, "tok-2"))
		got, err := s.Get(store.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "tok-2", got)
	})
}
