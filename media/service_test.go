package media_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/streamgate/streamgate/media"
	"github.com/streamgate/streamgate/media/storage"
	"github.com/streamgate/streamgate/media/store/memory"
	jwttoken "github.com/streamgate/streamgate/media/token/jwt"
)

const testPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:10.000000,
segment0.ts
#EXTINF:4.500000,
segment1.ts
#EXT-X-ENDLIST
`

var testChunk = []byte{0x47, 0x40, 0x00, 0x10, 0x00}

type encoderFunc func(ctx context.Context, input string, outputDir string) error

func (f encoderFunc) Encode(ctx context.Context, input string, outputDir string) error {
	return f(ctx, input, outputDir)
}

// fakeEncoder writes a two chunk manifest and records the inputs it was called with.
type fakeEncoder struct {
	mu     sync.Mutex
	inputs []string
}

func (e *fakeEncoder) Encode(_ context.Context, input string, outputDir string) error {
	e.mu.Lock()
	e.inputs = append(e.inputs, input)
	e.mu.Unlock()

	if _, err := os.Stat(input); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(outputDir, storage.PlaylistName), []byte(testPlaylist), 0o644); err != nil {
		return err
	}

	for _, name := range []string{"segment0.ts", "segment1.ts"} {
		if err := os.WriteFile(filepath.Join(outputDir, name), testChunk, 0o644); err != nil {
			return err
		}
	}

	return nil
}

type failingIDGenerator struct{}

func (failingIDGenerator) GenerateID() (string, error) {
	return "", errors.New("entropy exhausted")
}

// listHookStore runs afterList once the snapshot of List was taken.
type listHookStore struct {
	*memory.Store

	afterList func()
}

func (s listHookStore) List(ctx context.Context, opts media.ListOptions) ([]media.Media, error) {
	list, err := s.Store.List(ctx, opts)

	s.afterList()

	return list, err
}

type testEnv struct {
	service media.ServiceImpl
	clock   clockwork.FakeClock
	layout  storage.Layout
	store   *memory.Store
}

func newTestEnv(t *testing.T, encoder media.Encoder) testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	codec, err := jwttoken.NewCodec([]byte("test-master-secret"), "HS256", jwttoken.WithClock(clock))
	require.NoError(t, err)

	layout, err := storage.NewLayout(filepath.Join(t.TempDir(), "hls"))
	require.NoError(t, err)

	store := &memory.Store{}

	return testEnv{
		service: media.ServiceImpl{
			Store:   store,
			Tokens:  codec,
			Storage: layout,
			Encoder: encoder,
			Clock:   clock,
			Logger:  zap.NewNop(),
		},
		clock:  clock,
		layout: layout,
		store:  store,
	}
}

func (e testEnv) upload(t *testing.T, expiryMinutes int) media.UploadResponse {
	t.Helper()

	response, err := e.service.Upload(context.Background(), media.UploadRequest{
		File:          strings.NewReader("source media"),
		ExpiryMinutes: expiryMinutes,
	})
	require.NoError(t, err)

	return response
}

func (e testEnv) internalID(t *testing.T, mediaID string) string {
	t.Helper()

	m, err := e.store.Get(context.Background(), mediaID)
	require.NoError(t, err)

	return m.InternalID
}

func rootEntries(t *testing.T, layout storage.Layout) []string {
	t.Helper()

	entries, err := os.ReadDir(layout.Root)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

func TestServiceImpl_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("OK", func(t *testing.T) {
		encoder := &fakeEncoder{}
		env := newTestEnv(t, encoder)

		response := env.upload(t, 30)

		assert.Len(t, response.MediaID, 32)
		assert.Len(t, response.AdminKey, 32)
		assert.NotEmpty(t, response.AccessToken)
		assert.Equal(t, 30, response.ExpiresInMinutes)
		assert.NotEmpty(t, response.Message)

		m, err := env.store.Get(ctx, response.MediaID)
		require.NoError(t, err)

		assert.Equal(t, media.StatusReady, m.Status)
		assert.Equal(t, 30, m.ExpiryMinutes)
		assert.Equal(t, env.clock.Now(), m.UploadTime)
		assert.NotEqual(t, m.PublicID, m.InternalID)
		assert.NotContains(t, m.InternalID, m.PublicID)

		// the source file is gone, only the media directory remains
		assert.Equal(t, []string{m.InternalID}, rootEntries(t, env.layout))
		require.Len(t, encoder.inputs, 1)
		assert.Equal(t, env.layout.UploadPath(m.InternalID), encoder.inputs[0])
	})

	t.Run("InvalidExpiry", func(t *testing.T) {
		for _, minutes := range []int{-1, 0, media.MaxExpiryMinutes + 1} {
			encoder := &fakeEncoder{}
			env := newTestEnv(t, encoder)

			_, err := env.service.Upload(ctx, media.UploadRequest{
				File:          strings.NewReader("source media"),
				ExpiryMinutes: minutes,
			})
			require.Error(t, err)

			assert.ErrorIs(t, err, media.ErrBadRequest)
			assert.Empty(t, encoder.inputs)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})

		_, err := env.service.Upload(ctx, media.UploadRequest{ExpiryMinutes: 60})
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrBadRequest)
	})

	t.Run("EncodingFailed", func(t *testing.T) {
		env := newTestEnv(t, encoderFunc(func(_ context.Context, _ string, outputDir string) error {
			// partial output
			if err := os.WriteFile(filepath.Join(outputDir, "segment0.ts"), testChunk, 0o644); err != nil {
				return err
			}

			return errors.New("exit status 1")
		}))

		_, err := env.service.Upload(ctx, media.UploadRequest{
			File:          strings.NewReader("not a media file"),
			ExpiryMinutes: 60,
		})
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrEncodingFailed)
		assert.Empty(t, rootEntries(t, env.layout))

		list, err := env.store.List(ctx, media.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("TokenIssueFailed", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})

		codec, err := jwttoken.NewCodec([]byte("test-master-secret"), "HS256", jwttoken.WithIDGenerator(failingIDGenerator{}))
		require.NoError(t, err)

		service := env.service
		service.Tokens = codec

		_, err = service.Upload(ctx, media.UploadRequest{
			File:          strings.NewReader("source media"),
			ExpiryMinutes: 60,
		})
		require.Error(t, err)

		list, err := env.store.List(ctx, media.ListOptions{})
		require.NoError(t, err)

		assert.Empty(t, list)
		assert.Empty(t, rootEntries(t, env.layout))
	})

	t.Run("ProcessingWhileEncoding", func(t *testing.T) {
		var (
			env      testEnv
			statuses []media.Status
		)

		env = newTestEnv(t, encoderFunc(func(ctx context.Context, input string, outputDir string) error {
			list, err := env.store.List(ctx, media.ListOptions{})
			if err != nil {
				return err
			}

			for _, m := range list {
				statuses = append(statuses, m.Status)
			}

			return (&fakeEncoder{}).Encode(ctx, input, outputDir)
		}))

		response := env.upload(t, 60)

		assert.Equal(t, []media.Status{media.StatusProcessing}, statuses)

		m, err := env.store.Get(ctx, response.MediaID)
		require.NoError(t, err)

		assert.Equal(t, media.StatusReady, m.Status)
	})

	t.Run("CancelledRequest", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := env.service.Upload(cancelled, media.UploadRequest{
			File:          strings.NewReader("source media"),
			ExpiryMinutes: 60,
		})
		require.NoError(t, err)
	})

	t.Run("UniqueIdentities", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})

		a := env.upload(t, 60)
		b := env.upload(t, 60)

		assert.NotEqual(t, a.MediaID, b.MediaID)
		assert.NotEqual(t, a.AdminKey, b.AdminKey)
		assert.NotEqual(t, env.internalID(t, a.MediaID), env.internalID(t, b.MediaID))
	})
}

func TestServiceImpl_Playlist(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})
	response := env.upload(t, 60)

	t.Run("OK", func(t *testing.T) {
		content, err := env.service.Playlist(ctx, response.MediaID, response.AccessToken)
		require.NoError(t, err)

		assert.Contains(t, content, "#EXTM3U\n")
		assert.Contains(t, content, "/stream/"+response.MediaID+"/segment0.ts?token=")
		assert.Contains(t, content, "/stream/"+response.MediaID+"/segment1.ts?token=")
		assert.NotContains(t, content, "\nsegment0.ts\n")
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := env.service.Playlist(ctx, "missing", response.AccessToken)
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrNotFound)
	})

	t.Run("Forbidden", func(t *testing.T) {
		other := env.upload(t, 60)

		for _, token := range []string{"", "invalid", "a.b.c", other.AccessToken} {
			_, err := env.service.Playlist(ctx, response.MediaID, token)
			require.Error(t, err)

			assert.ErrorIs(t, err, media.ErrForbidden)
		}
	})

	t.Run("ManifestMissing", func(t *testing.T) {
		m := env.upload(t, 60)

		require.NoError(t, os.Remove(filepath.Join(env.layout.Dir(env.internalID(t, m.MediaID)), storage.PlaylistName)))

		_, err := env.service.Playlist(ctx, m.MediaID, m.AccessToken)
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrNotFound)
	})
}

func TestServiceImpl_Segment(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})
	response := env.upload(t, 60)

	t.Run("OK", func(t *testing.T) {
		path, err := env.service.Segment(ctx, response.MediaID, "segment1.ts", response.AccessToken)
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		assert.Equal(t, testChunk, content)
	})

	t.Run("BadRequest", func(t *testing.T) {
		for _, name := range []string{"playlist.m3u8", "../segment0.ts", "..segment0.ts", `a\segment0.ts`, "a/segment0.ts"} {
			_, err := env.service.Segment(ctx, response.MediaID, name, response.AccessToken)
			require.Error(t, err, name)

			assert.ErrorIs(t, err, media.ErrBadRequest, name)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := env.service.Segment(ctx, response.MediaID, "segment9.ts", response.AccessToken)
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrNotFound)
	})

	t.Run("TokenCheckedFirst", func(t *testing.T) {
		_, err := env.service.Segment(ctx, response.MediaID, "../segment0.ts", "invalid")
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrForbidden)
	})
}

func TestServiceImpl_TokenExpiry(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})
	response := env.upload(t, 5)

	env.clock.Advance(5*time.Minute - time.Second)

	_, err := env.service.Playlist(ctx, response.MediaID, response.AccessToken)
	require.NoError(t, err)

	env.clock.Advance(time.Second)

	_, err = env.service.Playlist(ctx, response.MediaID, response.AccessToken)
	assert.ErrorIs(t, err, media.ErrForbidden)

	refreshed, err := env.service.RefreshToken(ctx, media.RefreshTokenRequest{
		MediaID:       response.MediaID,
		AdminKey:      response.AdminKey,
		ExpiryMinutes: 10,
	})
	require.NoError(t, err)

	_, err = env.service.Playlist(ctx, response.MediaID, refreshed.AccessToken)
	require.NoError(t, err)

	_, err = env.service.Playlist(ctx, response.MediaID, response.AccessToken)
	assert.ErrorIs(t, err, media.ErrForbidden)
}

func TestServiceImpl_RefreshToken(t *testing.T) {
	ctx := context.Background()

	t.Run("OK", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})
		response := env.upload(t, 60)

		env.clock.Advance(time.Hour)

		refreshed, err := env.service.RefreshToken(ctx, media.RefreshTokenRequest{
			MediaID:       response.MediaID,
			AdminKey:      response.AdminKey,
			ExpiryMinutes: 120,
		})
		require.NoError(t, err)

		assert.Equal(t, response.MediaID, refreshed.MediaID)
		assert.Equal(t, 120, refreshed.ExpiresInMinutes)
		assert.NotEqual(t, response.AccessToken, refreshed.AccessToken)

		m, err := env.store.Get(ctx, response.MediaID)
		require.NoError(t, err)

		assert.Equal(t, 120, m.ExpiryMinutes)
		require.NotNil(t, m.LastTokenRefresh)
		assert.Equal(t, env.clock.Now(), *m.LastTokenRefresh)
		assert.Equal(t, env.clock.Now().Add(120*time.Minute), m.ExpiresAt())
	})

	t.Run("Errors", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})
		response := env.upload(t, 60)

		testCases := []struct {
			name     string
			request  media.RefreshTokenRequest
			expected error
		}{
			{"UnknownMedia", media.RefreshTokenRequest{MediaID: "missing", AdminKey: response.AdminKey, ExpiryMinutes: 60}, media.ErrNotFound},
			{"WrongKey", media.RefreshTokenRequest{MediaID: response.MediaID, AdminKey: "wrong", ExpiryMinutes: 60}, media.ErrForbidden},
			{"MissingKey", media.RefreshTokenRequest{MediaID: response.MediaID, ExpiryMinutes: 60}, media.ErrForbidden},
			{"InvalidExpiry", media.RefreshTokenRequest{MediaID: response.MediaID, AdminKey: response.AdminKey, ExpiryMinutes: 0}, media.ErrBadRequest},
		}

		for _, testCase := range testCases {
			testCase := testCase

			t.Run(testCase.name, func(t *testing.T) {
				_, err := env.service.RefreshToken(ctx, testCase.request)
				require.Error(t, err)

				assert.ErrorIs(t, err, testCase.expected)
			})
		}

		m, err := env.store.Get(ctx, response.MediaID)
		require.NoError(t, err)
		assert.Nil(t, m.LastTokenRefresh)
	})

	t.Run("FilesMissing", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})
		response := env.upload(t, 60)

		require.NoError(t, os.RemoveAll(env.layout.Dir(env.internalID(t, response.MediaID))))

		_, err := env.service.RefreshToken(ctx, media.RefreshTokenRequest{
			MediaID:       response.MediaID,
			AdminKey:      response.AdminKey,
			ExpiryMinutes: 60,
		})
		require.Error(t, err)

		assert.ErrorIs(t, err, media.ErrNotFound)
	})
}

func TestServiceImpl_Delete(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})
	response := env.upload(t, 60)
	internalID := env.internalID(t, response.MediaID)

	err := env.service.Delete(ctx, media.AdminRequest{MediaID: response.MediaID, AdminKey: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrForbidden)

	require.NoError(t, env.service.Delete(ctx, media.AdminRequest{MediaID: response.MediaID, AdminKey: response.AdminKey}))

	_, err = os.Stat(env.layout.Dir(internalID))
	assert.True(t, os.IsNotExist(err))

	_, err = env.service.Playlist(ctx, response.MediaID, response.AccessToken)
	assert.ErrorIs(t, err, media.ErrNotFound)

	err = env.service.Delete(ctx, media.AdminRequest{MediaID: response.MediaID, AdminKey: response.AdminKey})
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestServiceImpl_Info(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})
	response := env.upload(t, 90)

	info, err := env.service.Info(ctx, media.AdminRequest{MediaID: response.MediaID, AdminKey: response.AdminKey})
	require.NoError(t, err)

	assert.Equal(t, response.MediaID, info.MediaID)
	assert.Equal(t, media.StatusReady, info.Status)
	assert.Equal(t, 90, info.ExpiryMinutes)
	assert.Equal(t, env.clock.Now(), info.UploadTime)
	assert.Equal(t, env.clock.Now().Add(90*time.Minute), info.ExpiresAt)
	assert.Nil(t, info.LastTokenRefresh)
	assert.Nil(t, info.ExpiryExtendedAt)

	_, err = env.service.Info(ctx, media.AdminRequest{MediaID: response.MediaID})
	assert.ErrorIs(t, err, media.ErrForbidden)

	_, err = env.service.Info(ctx, media.AdminRequest{MediaID: "missing", AdminKey: response.AdminKey})
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestServiceImpl_ExtendExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("OK", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})
		response := env.upload(t, 60)

		extended, err := env.service.ExtendExpiry(ctx, media.ExtendExpiryRequest{
			MediaID:           response.MediaID,
			AdminKey:          response.AdminKey,
			AdditionalMinutes: 100,
		})
		require.NoError(t, err)

		assert.Equal(t, 60, extended.PreviousExpiryMinutes)
		assert.Equal(t, 160, extended.NewExpiryMinutes)
		assert.Equal(t, 100, extended.ExtendedByMinutes)

		m, err := env.store.Get(ctx, response.MediaID)
		require.NoError(t, err)

		assert.Equal(t, 160, m.ExpiryMinutes)
		require.NotNil(t, m.ExpiryExtendedAt)
		assert.Equal(t, env.clock.Now(), *m.ExpiryExtendedAt)
	})

	t.Run("Capped", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})
		response := env.upload(t, 10000)

		extended, err := env.service.ExtendExpiry(ctx, media.ExtendExpiryRequest{
			MediaID:           response.MediaID,
			AdminKey:          response.AdminKey,
			AdditionalMinutes: 500,
		})
		require.NoError(t, err)

		assert.Equal(t, 10000, extended.PreviousExpiryMinutes)
		assert.Equal(t, media.MaxExpiryMinutes, extended.NewExpiryMinutes)
		assert.Equal(t, 80, extended.ExtendedByMinutes)

		extended, err = env.service.ExtendExpiry(ctx, media.ExtendExpiryRequest{
			MediaID:           response.MediaID,
			AdminKey:          response.AdminKey,
			AdditionalMinutes: 1,
		})
		require.NoError(t, err)

		assert.Equal(t, 0, extended.ExtendedByMinutes)
	})

	t.Run("Errors", func(t *testing.T) {
		env := newTestEnv(t, &fakeEncoder{})
		response := env.upload(t, 60)

		testCases := []struct {
			name     string
			request  media.ExtendExpiryRequest
			expected error
		}{
			{"UnknownMedia", media.ExtendExpiryRequest{MediaID: "missing", AdminKey: response.AdminKey, AdditionalMinutes: 10}, media.ErrNotFound},
			{"WrongKey", media.ExtendExpiryRequest{MediaID: response.MediaID, AdminKey: "wrong", AdditionalMinutes: 10}, media.ErrForbidden},
			{"Zero", media.ExtendExpiryRequest{MediaID: response.MediaID, AdminKey: response.AdminKey}, media.ErrBadRequest},
			{"TooMuch", media.ExtendExpiryRequest{MediaID: response.MediaID, AdminKey: response.AdminKey, AdditionalMinutes: media.MaxExpiryMinutes + 1}, media.ErrBadRequest},
		}

		for _, testCase := range testCases {
			testCase := testCase

			t.Run(testCase.name, func(t *testing.T) {
				_, err := env.service.ExtendExpiry(ctx, testCase.request)
				require.Error(t, err)

				assert.ErrorIs(t, err, testCase.expected)
			})
		}

		m, err := env.store.Get(ctx, response.MediaID)
		require.NoError(t, err)

		assert.Equal(t, 60, m.ExpiryMinutes)
		assert.Nil(t, m.ExpiryExtendedAt)
	})
}

func TestServiceImpl_CleanupExpired(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})

	short := env.upload(t, 1)
	long := env.upload(t, 60)
	shortDir := env.layout.Dir(env.internalID(t, short.MediaID))

	n, err := env.service.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.clock.Advance(2 * time.Minute)

	n, err = env.service.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.store.Get(ctx, short.MediaID)
	assert.ErrorIs(t, err, media.ErrNotFound)

	_, err = os.Stat(shortDir)
	assert.True(t, os.IsNotExist(err))

	_, err = env.service.Playlist(ctx, long.MediaID, long.AccessToken)
	assert.NoError(t, err)
}

func TestServiceImpl_CleanupExpired_RefreshedMeanwhile(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})
	response := env.upload(t, 1)
	dir := env.layout.Dir(env.internalID(t, response.MediaID))

	env.clock.Advance(2 * time.Minute)

	service := env.service
	service.Store = listHookStore{
		Store: env.store,
		afterList: func() {
			_, err := service.RefreshToken(ctx, media.RefreshTokenRequest{
				MediaID:       response.MediaID,
				AdminKey:      response.AdminKey,
				ExpiryMinutes: 60,
			})
			require.NoError(t, err)
		},
	}

	n, err := service.CleanupExpired(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, n)
	assert.DirExists(t, dir)

	_, err = env.store.Get(ctx, response.MediaID)
	assert.NoError(t, err)
}

func TestServiceImpl_CleanupExpired_StaleProcessing(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})

	now := env.clock.Now()

	require.NoError(t, env.store.Put(ctx, media.Media{
		PublicID:      "crashed",
		InternalID:    "crashed-internal",
		AccessKey:     "access",
		AdminKey:      "admin",
		Status:        media.StatusProcessing,
		ExpiryMinutes: 1,
		UploadTime:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	require.NoError(t, os.MkdirAll(env.layout.Dir("crashed-internal"), 0o755))

	env.clock.Advance(time.Hour)

	n, err := env.service.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.clock.Advance(media.StaleProcessingTimeout)

	n, err = env.service.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, rootEntries(t, env.layout))
}

func TestServiceImpl_RemoveOrphans(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, &fakeEncoder{})
	response := env.upload(t, 60)
	internalID := env.internalID(t, response.MediaID)

	require.NoError(t, os.MkdirAll(env.layout.Dir("orphan"), 0o755))
	require.NoError(t, os.WriteFile(env.layout.UploadPath("orphan"), []byte("source"), 0o600))
	require.NoError(t, os.WriteFile(env.layout.UploadPath("crashed"), []byte("source"), 0o600))

	n, err := env.service.RemoveOrphans(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{internalID}, rootEntries(t, env.layout))

	_, err = env.service.Playlist(ctx, response.MediaID, response.AccessToken)
	assert.NoError(t, err)
}

func TestServiceImpl_RunJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	env := newTestEnv(t, &fakeEncoder{})
	env.upload(t, 1)

	done := make(chan struct{})

	go func() {
		defer close(done)

		env.service.RunJanitor(ctx, time.Minute)
	}()

	assert.Eventually(t, func() bool {
		env.clock.Advance(time.Minute)

		list, err := env.store.List(context.Background(), media.ListOptions{})

		return err == nil && len(list) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestServiceImpl_RunJanitorDisabled(t *testing.T) {
	env := newTestEnv(t, &fakeEncoder{})

	// returns immediately
	env.service.RunJanitor(context.Background(), 0)
}
