// Package storetest contains a conformance suite for media.Store implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgate/streamgate/media"
)

// NewMedia returns a valid record for tests.
func NewMedia(publicID string) media.Media {
	now := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

	return media.Media{
		PublicID:      publicID,
		InternalID:    "internal-" + publicID,
		AccessKey:     "access-" + publicID,
		AdminKey:      "admin-" + publicID,
		Status:        media.StatusReady,
		ExpiryMinutes: 60,
		UploadTime:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Run runs the conformance suite against stores created by newStore.
func Run(t *testing.T, newStore func(t *testing.T) media.Store) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Get(ctx, "missing")
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrNotFound)
	})

	t.Run("PutGet", func(t *testing.T) {
		store := newStore(t)

		m := NewMedia("a")
		refreshed := m.UploadTime.Add(time.Hour)
		m.LastTokenRefresh = &refreshed

		require.NoError(t, store.Put(ctx, m))

		actual, err := store.Get(ctx, "a")
		require.NoError(t, err)

		assert.Equal(t, m, actual)
	})

	t.Run("PutInvalid", func(t *testing.T) {
		store := newStore(t)

		m := NewMedia("a")
		m.AccessKey = ""

		require.Error(t, store.Put(ctx, m))

		_, err := store.Get(ctx, "a")
		assert.ErrorIs(t, err, media.ErrNotFound)
	})

	t.Run("PutReplaces", func(t *testing.T) {
		store := newStore(t)

		m := NewMedia("a")
		require.NoError(t, store.Put(ctx, m))

		m.ExpiryMinutes = 120
		require.NoError(t, store.Put(ctx, m))

		actual, err := store.Get(ctx, "a")
		require.NoError(t, err)

		assert.Equal(t, 120, actual.ExpiryMinutes)
	})

	t.Run("UpdateIfPresent", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(ctx, NewMedia("a")))

		extended := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

		updated, err := store.UpdateIfPresent(ctx, "a", func(m *media.Media) error {
			m.ExpiryMinutes = 90
			m.ExpiryExtendedAt = &extended

			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, 90, updated.ExpiryMinutes)

		actual, err := store.Get(ctx, "a")
		require.NoError(t, err)

		assert.Equal(t, updated, actual)
		require.NotNil(t, actual.ExpiryExtendedAt)
		assert.True(t, extended.Equal(*actual.ExpiryExtendedAt))
	})

	t.Run("UpdateIfPresentMissing", func(t *testing.T) {
		store := newStore(t)

		called := false

		_, err := store.UpdateIfPresent(ctx, "missing", func(m *media.Media) error {
			called = true

			return nil
		})
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrNotFound)
		assert.False(t, called)
	})

	t.Run("UpdateIfPresentError", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(ctx, NewMedia("a")))

		errAbort := errors.New("abort")

		_, err := store.UpdateIfPresent(ctx, "a", func(m *media.Media) error {
			m.ExpiryMinutes = 1000

			return errAbort
		})
		require.Error(t, err)

		assert.ErrorIs(t, err, errAbort)

		actual, err := store.Get(ctx, "a")
		require.NoError(t, err)

		assert.Equal(t, 60, actual.ExpiryMinutes)
	})

	t.Run("UpdateIfPresentInvalid", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(ctx, NewMedia("a")))

		_, err := store.UpdateIfPresent(ctx, "a", func(m *media.Media) error {
			m.ExpiryMinutes = media.MaxExpiryMinutes + 1

			return nil
		})
		require.Error(t, err)

		actual, err := store.Get(ctx, "a")
		require.NoError(t, err)

		assert.Equal(t, 60, actual.ExpiryMinutes)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(ctx, NewMedia("a")))
		require.NoError(t, store.Put(ctx, NewMedia("b")))

		require.NoError(t, store.Delete(ctx, "a"))

		_, err := store.Get(ctx, "a")
		assert.ErrorIs(t, err, media.ErrNotFound)

		_, err = store.Get(ctx, "b")
		assert.NoError(t, err)

		err = store.Delete(ctx, "a")
		assert.ErrorIs(t, err, media.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		store := newStore(t)

		list, err := store.List(ctx, media.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, list)

		for _, id := range []string{"c", "a", "b"} {
			require.NoError(t, store.Put(ctx, NewMedia(id)))
		}

		other := NewMedia("d")
		other.Status = "other"
		require.NoError(t, store.Put(ctx, other))

		list, err = store.List(ctx, media.ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids(list))

		list, err = store.List(ctx, media.ListOptions{Status: media.StatusReady})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(list))
	})

	t.Run("GetByInternalID", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(ctx, NewMedia("a")))
		require.NoError(t, store.Put(ctx, NewMedia("b")))

		actual, err := store.GetByInternalID(ctx, "internal-b")
		require.NoError(t, err)

		assert.Equal(t, "b", actual.PublicID)

		_, err = store.GetByInternalID(ctx, "b")
		assert.ErrorIs(t, err, media.ErrNotFound)
	})

	t.Run("DeleteIf", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(ctx, NewMedia("a")))

		removed, err := store.DeleteIf(ctx, "a", func(m media.Media) bool {
			return m.ExpiryMinutes > 60
		})
		require.NoError(t, err)

		assert.False(t, removed)

		_, err = store.Get(ctx, "a")
		require.NoError(t, err)

		removed, err = store.DeleteIf(ctx, "a", func(m media.Media) bool {
			return m.ExpiryMinutes == 60
		})
		require.NoError(t, err)

		assert.True(t, removed)

		_, err = store.Get(ctx, "a")
		assert.ErrorIs(t, err, media.ErrNotFound)

		_, err = store.DeleteIf(ctx, "a", func(media.Media) bool { return true })
		assert.ErrorIs(t, err, media.ErrNotFound)
	})

	t.Run("Stats", func(t *testing.T) {
		store := newStore(t)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)

		assert.Equal(t, 0, stats.Total)
		assert.Empty(t, stats.ByStatus)

		for _, id := range []string{"a", "b"} {
			require.NoError(t, store.Put(ctx, NewMedia(id)))
		}

		processing := NewMedia("c")
		processing.Status = media.StatusProcessing
		require.NoError(t, store.Put(ctx, processing))

		stats, err = store.Stats(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, map[media.Status]int{media.StatusReady: 2, media.StatusProcessing: 1}, stats.ByStatus)
		assert.GreaterOrEqual(t, stats.SizeBytes, int64(0))
	})

	t.Run("StatusUpdate", func(t *testing.T) {
		store := newStore(t)

		m := NewMedia("a")
		m.Status = media.StatusProcessing
		require.NoError(t, store.Put(ctx, m))

		list, err := store.List(ctx, media.ListOptions{Status: media.StatusReady})
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = store.UpdateIfPresent(ctx, "a", func(m *media.Media) error {
			m.Status = media.StatusReady

			return nil
		})
		require.NoError(t, err)

		list, err = store.List(ctx, media.ListOptions{Status: media.StatusReady})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(list))
	})

	t.Run("ConcurrentUpdates", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(ctx, NewMedia("a")))

		const n = 20

		var wg sync.WaitGroup

		for i := 0; i < n; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := store.UpdateIfPresent(ctx, "a", func(m *media.Media) error {
					m.ExpiryMinutes++

					return nil
				})
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		actual, err := store.Get(ctx, "a")
		require.NoError(t, err)

		assert.Equal(t, 60+n, actual.ExpiryMinutes)
	})
}

func ids(list []media.Media) []string {
	result := make([]string, 0, len(list))

	for _, m := range list {
		result = append(result, m.PublicID)
	}

	return result
}
