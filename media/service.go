package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/streamgate/streamgate/media/playlist"
	"github.com/streamgate/streamgate/media/secret"
)

// Service implements the media lifecycle: upload, token refresh, authorized content reads and
// the admin operations.
type Service interface {
	Upload(ctx context.Context, r UploadRequest) (UploadResponse, error)
	RefreshToken(ctx context.Context, r RefreshTokenRequest) (TokenResponse, error)

	// Playlist returns the manifest of a media with every chunk reference rewritten to carry token.
	Playlist(ctx context.Context, mediaID string, token string) (string, error)

	// Segment returns the filesystem path of a chunk.
	Segment(ctx context.Context, mediaID string, name string, token string) (string, error)

	Delete(ctx context.Context, r AdminRequest) error
	Info(ctx context.Context, r AdminRequest) (InfoResponse, error)
	ExtendExpiry(ctx context.Context, r ExtendExpiryRequest) (ExtendExpiryResponse, error)
}

type UploadRequest struct {
	File          io.Reader `schema:"-"`
	ExpiryMinutes int       `schema:"expiry_minutes"`
}

type UploadResponse struct {
	MediaID          string `json:"media_id"`
	AccessToken      string `json:"access_token"`
	AdminKey         string `json:"admin_key"`
	PlaylistURL      string `json:"playlist_url"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
	Message          string `json:"message"`
}

type RefreshTokenRequest struct {
	MediaID       string `schema:"-"`
	AdminKey      string `schema:"admin_key"`
	ExpiryMinutes int    `schema:"expiry_minutes"`
}

type TokenResponse struct {
	MediaID          string `json:"media_id"`
	AccessToken      string `json:"access_token"`
	PlaylistURL      string `json:"playlist_url"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
	Message          string `json:"message"`
}

// AdminRequest identifies a media and carries its admin key.
type AdminRequest struct {
	MediaID  string `schema:"-"`
	AdminKey string `schema:"admin_key"`
}

type InfoResponse struct {
	MediaID          string     `json:"media_id"`
	Status           Status     `json:"status"`
	UploadTime       time.Time  `json:"upload_time"`
	ExpiryMinutes    int        `json:"expiry_minutes"`
	ExpiresAt        time.Time  `json:"expires_at"`
	LastTokenRefresh *time.Time `json:"last_token_refresh"`
	ExpiryExtendedAt *time.Time `json:"expiry_extended_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type ExtendExpiryRequest struct {
	MediaID           string `schema:"-"`
	AdminKey          string `schema:"admin_key"`
	AdditionalMinutes int    `schema:"additional_minutes"`
}

type ExtendExpiryResponse struct {
	MediaID               string `json:"media_id"`
	PreviousExpiryMinutes int    `json:"previous_expiry_minutes"`
	NewExpiryMinutes      int    `json:"new_expiry_minutes"`
	ExtendedByMinutes     int    `json:"extended_by_minutes"`
	Message               string `json:"message"`
}

// ServiceImpl is the default Service.
type ServiceImpl struct {
	Store   Store
	Tokens  TokenCodec
	Storage Storage
	Encoder Encoder

	Clock  clockwork.Clock
	Logger *zap.Logger
}

func (s ServiceImpl) gate() Gate {
	return Gate{
		Store:  s.Store,
		Tokens: s.Tokens,
	}
}

func (s ServiceImpl) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}

	return s.Clock.Now().UTC()
}

func (s ServiceImpl) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}

func validity(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}

// Upload stores and encodes a new media, then issues its first access token.
//
// The record is registered in StatusProcessing before any file is written, so every entry under
// the storage root has an owner. It becomes StatusReady once encoding succeeded and the token
// was issued. On any failure the record, the media directory and the uploaded file are removed.
func (s ServiceImpl) Upload(ctx context.Context, r UploadRequest) (UploadResponse, error) {
	if err := ValidateExpiry(r.ExpiryMinutes); err != nil {
		return UploadResponse{}, err
	}

	if r.File == nil {
		return UploadResponse{}, fmt.Errorf("media file is required: %w", ErrBadRequest)
	}

	m, err := newMedia(r.ExpiryMinutes, s.now())
	if err != nil {
		return UploadResponse{}, err
	}

	logger := s.logger().With(zap.String("media_id", m.PublicID))

	if err := s.Store.Put(ctx, m); err != nil {
		return UploadResponse{}, fmt.Errorf("store media: %w", err)
	}

	// encoding outlives the request, so does the bookkeeping around it
	ctx = context.WithoutCancel(ctx)

	ready := false

	defer func() {
		if !ready {
			s.discard(ctx, logger, m)
		}
	}()

	uploadPath := s.Storage.UploadPath(m.InternalID)

	defer func() {
		if err := os.Remove(uploadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing uploaded file failed", zap.Error(err))
		}
	}()

	if err := saveUpload(uploadPath, r.File); err != nil {
		return UploadResponse{}, err
	}

	outputDir := s.Storage.Dir(m.InternalID)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return UploadResponse{}, fmt.Errorf("create media directory: %w", err)
	}

	if err := s.Encoder.Encode(ctx, uploadPath, outputDir); err != nil {
		logger.Error("encoding failed", zap.Error(err))

		return UploadResponse{}, fmt.Errorf("%v: %w", err, ErrEncodingFailed)
	}

	token, err := s.Tokens.IssueAccessToken(m.PublicID, m.AccessKey, validity(m.ExpiryMinutes))
	if err != nil {
		return UploadResponse{}, fmt.Errorf("issue access token: %w", err)
	}

	m, err = s.Store.UpdateIfPresent(ctx, m.PublicID, func(m *Media) error {
		m.Status = StatusReady
		m.UpdatedAt = s.now()

		return nil
	})
	if err != nil {
		return UploadResponse{}, fmt.Errorf("mark media ready: %w", err)
	}

	ready = true

	logger.Info("media uploaded", zap.Int("expiry_minutes", m.ExpiryMinutes))

	return UploadResponse{
		MediaID:          m.PublicID,
		AccessToken:      token.Payload,
		AdminKey:         m.AdminKey,
		ExpiresInMinutes: m.ExpiryMinutes,
		Message:          "Media uploaded and processed successfully. Save the admin_key: it is required for token refresh, deletion and the other admin operations.",
	}, nil
}

func newMedia(expiryMinutes int, now time.Time) (Media, error) {
	publicID, err := secret.NewKey()
	if err != nil {
		return Media{}, err
	}

	internalID, err := secret.NewFilename()
	if err != nil {
		return Media{}, err
	}

	accessKey, err := secret.NewKey()
	if err != nil {
		return Media{}, err
	}

	adminKey, err := secret.NewKey()
	if err != nil {
		return Media{}, err
	}

	return Media{
		PublicID:      publicID,
		InternalID:    internalID,
		AccessKey:     accessKey,
		AdminKey:      adminKey,
		Status:        StatusProcessing,
		ExpiryMinutes: expiryMinutes,
		UploadTime:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func saveUpload(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()

		return fmt.Errorf("save upload: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}

	return nil
}

// discard removes a media that did not make it to StatusReady.
func (s ServiceImpl) discard(ctx context.Context, logger *zap.Logger, m Media) {
	if err := s.Store.Delete(ctx, m.PublicID); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Error("removing media record failed", zap.Error(err))
	}

	s.removeDir(logger, m.InternalID)
}

func (s ServiceImpl) removeDir(logger *zap.Logger, internalID string) {
	if err := s.Storage.Remove(internalID); err != nil {
		logger.Error("removing media directory failed", zap.Error(err))
	}
}

// RefreshToken issues a new access token and restarts the validity window.
func (s ServiceImpl) RefreshToken(ctx context.Context, r RefreshTokenRequest) (TokenResponse, error) {
	if err := ValidateExpiry(r.ExpiryMinutes); err != nil {
		return TokenResponse{}, err
	}

	m, err := s.gate().AuthorizeAdmin(ctx, r.MediaID, r.AdminKey)
	if err != nil {
		return TokenResponse{}, err
	}

	if _, err := s.Storage.ResolvePlaylist(m.InternalID); errors.Is(err, ErrNotFound) {
		return TokenResponse{}, fmt.Errorf("media files not found: %w", ErrNotFound)
	} else if err != nil {
		return TokenResponse{}, err
	}

	token, err := s.Tokens.IssueAccessToken(m.PublicID, m.AccessKey, validity(r.ExpiryMinutes))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("issue access token: %w", err)
	}

	now := s.now()

	_, err = s.Store.UpdateIfPresent(ctx, r.MediaID, func(m *Media) error {
		if err := CheckAdminKey(*m, r.AdminKey); err != nil {
			return err
		}

		m.ExpiryMinutes = r.ExpiryMinutes
		m.LastTokenRefresh = &now
		m.UpdatedAt = now

		return nil
	})
	if err != nil {
		return TokenResponse{}, err
	}

	s.logger().Info("access token refreshed", zap.String("media_id", r.MediaID), zap.Int("expiry_minutes", r.ExpiryMinutes))

	return TokenResponse{
		MediaID:          r.MediaID,
		AccessToken:      token.Payload,
		ExpiresInMinutes: r.ExpiryMinutes,
		Message:          "Access token refreshed successfully!",
	}, nil
}

// Playlist implements Service.
func (s ServiceImpl) Playlist(ctx context.Context, mediaID string, token string) (string, error) {
	m, err := s.gate().AuthorizeAccess(ctx, mediaID, token)
	if err != nil {
		return "", err
	}

	path, err := s.Storage.ResolvePlaylist(m.InternalID)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open playlist: %w", err)
	}
	defer f.Close()

	return playlist.Rewrite(f, mediaID, token)
}

// Segment implements Service.
func (s ServiceImpl) Segment(ctx context.Context, mediaID string, name string, token string) (string, error) {
	m, err := s.gate().AuthorizeAccess(ctx, mediaID, token)
	if err != nil {
		return "", err
	}

	return s.Storage.ResolveChunk(m.InternalID, name)
}

// Delete removes the record of a media and its directory.
func (s ServiceImpl) Delete(ctx context.Context, r AdminRequest) error {
	m, err := s.gate().AuthorizeAdmin(ctx, r.MediaID, r.AdminKey)
	if err != nil {
		return err
	}

	if err := s.Store.Delete(ctx, r.MediaID); err != nil {
		return err
	}

	if err := s.Storage.Remove(m.InternalID); err != nil {
		return fmt.Errorf("remove media files: %w", err)
	}

	s.logger().Info("media deleted", zap.String("media_id", r.MediaID))

	return nil
}

// Info implements Service.
func (s ServiceImpl) Info(ctx context.Context, r AdminRequest) (InfoResponse, error) {
	m, err := s.gate().AuthorizeAdmin(ctx, r.MediaID, r.AdminKey)
	if err != nil {
		return InfoResponse{}, err
	}

	return InfoResponse{
		MediaID:          m.PublicID,
		Status:           m.Status,
		UploadTime:       m.UploadTime,
		ExpiryMinutes:    m.ExpiryMinutes,
		ExpiresAt:        m.ExpiresAt(),
		LastTokenRefresh: m.LastTokenRefresh,
		ExpiryExtendedAt: m.ExpiryExtendedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

// ExtendExpiry adds minutes to the validity window, capped at MaxExpiryMinutes.
// Tokens already issued keep their own expiry.
func (s ServiceImpl) ExtendExpiry(ctx context.Context, r ExtendExpiryRequest) (ExtendExpiryResponse, error) {
	if r.AdditionalMinutes < MinExpiryMinutes || r.AdditionalMinutes > MaxExpiryMinutes {
		return ExtendExpiryResponse{}, fmt.Errorf(
			"additional minutes must be between %d and %d: %w",
			MinExpiryMinutes, MaxExpiryMinutes, ErrBadRequest,
		)
	}

	now := s.now()

	var previous int

	m, err := s.Store.UpdateIfPresent(ctx, r.MediaID, func(m *Media) error {
		if err := CheckAdminKey(*m, r.AdminKey); err != nil {
			return err
		}

		previous = m.ExpiryMinutes

		m.ExpiryMinutes += r.AdditionalMinutes
		if m.ExpiryMinutes > MaxExpiryMinutes {
			m.ExpiryMinutes = MaxExpiryMinutes
		}

		m.ExpiryExtendedAt = &now
		m.UpdatedAt = now

		return nil
	})
	if err != nil {
		return ExtendExpiryResponse{}, err
	}

	s.logger().Info("media expiry extended", zap.String("media_id", r.MediaID), zap.Int("expiry_minutes", m.ExpiryMinutes))

	return ExtendExpiryResponse{
		MediaID:               m.PublicID,
		PreviousExpiryMinutes: previous,
		NewExpiryMinutes:      m.ExpiryMinutes,
		ExtendedByMinutes:     m.ExpiryMinutes - previous,
		Message:               "Media expiry successfully extended!",
	}, nil
}

// CleanupExpired removes every media whose validity window has passed, together with its files.
// Media that are still processing are removed once they became stale.
// It returns the number of removed media.
func (s ServiceImpl) CleanupExpired(ctx context.Context) (int, error) {
	entries, err := s.Store.List(ctx, ListOptions{})
	if err != nil {
		return 0, err
	}

	now := s.now()

	var removed int

	for _, m := range entries {
		if !m.Expired(now) {
			continue
		}

		// the record may have been refreshed since it was listed
		ok, err := s.Store.DeleteIf(ctx, m.PublicID, func(current Media) bool {
			return current.Expired(now)
		})
		if errors.Is(err, ErrNotFound) {
			continue
		} else if err != nil {
			return removed, err
		}

		if !ok {
			continue
		}

		logger := s.logger().With(zap.String("media_id", m.PublicID))

		s.removeDir(logger, m.InternalID)

		logger.Info("expired media removed", zap.String("status", string(m.Status)))

		removed++
	}

	return removed, nil
}

// RemoveOrphans removes media directories and uploaded files that no record owns,
// such as the leftovers of a crash. It returns the number of removed internal IDs.
func (s ServiceImpl) RemoveOrphans(ctx context.Context) (int, error) {
	ids, err := s.Storage.InternalIDs()
	if err != nil {
		return 0, err
	}

	var removed int

	for _, id := range ids {
		_, err := s.Store.GetByInternalID(ctx, id)
		if err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return removed, err
		}

		if err := s.Storage.Remove(id); err != nil {
			return removed, fmt.Errorf("remove orphaned media files: %w", err)
		}

		s.logger().Info("orphaned media files removed", zap.String("internal_id", id))

		removed++
	}

	return removed, nil
}

// RunJanitor removes expired media and orphaned files every interval until ctx is done.
// A non-positive interval disables the janitor.
func (s ServiceImpl) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			s.sweep(ctx)
		}
	}
}

func (s ServiceImpl) sweep(ctx context.Context) {
	logger := s.logger()

	expired, err := s.CleanupExpired(ctx)
	if err != nil {
		logger.Error("cleaning up expired media failed", zap.Error(err))
	}

	orphans, err := s.RemoveOrphans(ctx)
	if err != nil {
		logger.Error("removing orphaned media files failed", zap.Error(err))
	}

	if expired == 0 && orphans == 0 {
		return
	}

	stats, err := s.Store.Stats(ctx)
	if err != nil {
		logger.Warn("collecting media stats failed", zap.Error(err))

		return
	}

	logger.Info(
		"cleaned up media",
		zap.Int("expired", expired),
		zap.Int("orphans", orphans),
		zap.Int("remaining", stats.Total),
		zap.Any("by_status", stats.ByStatus),
		zap.Int64("size_bytes", stats.SizeBytes),
	)
}
