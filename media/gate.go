package media

import (
	"context"
	"fmt"

	"github.com/streamgate/streamgate/media/secret"
)

// Gate decides whether a request may touch a media.
//
// Every check runs per request: there is no session state.
// Unknown media fail with ErrNotFound before any credential is compared.
type Gate struct {
	Store  Store
	Tokens AccessTokenVerifier
}

// AuthorizeAccess checks an access token presented for a content read.
func (g Gate) AuthorizeAccess(ctx context.Context, mediaID string, token string) (Media, error) {
	m, err := g.Store.Get(ctx, mediaID)
	if err != nil {
		return Media{}, err
	}

	if !g.Tokens.VerifyAccessToken(token, mediaID, m.AccessKey) {
		return Media{}, fmt.Errorf("invalid or expired access token: %w", ErrForbidden)
	}

	if m.Status != StatusReady {
		return Media{}, fmt.Errorf("media is not ready: %w", ErrNotFound)
	}

	return m, nil
}

// AuthorizeAdmin checks an admin key presented for a privileged operation.
func (g Gate) AuthorizeAdmin(ctx context.Context, mediaID string, adminKey string) (Media, error) {
	m, err := g.Store.Get(ctx, mediaID)
	if err != nil {
		return Media{}, err
	}

	if err := CheckAdminKey(m, adminKey); err != nil {
		return Media{}, err
	}

	return m, nil
}

// CheckAdminKey compares adminKey with the stored admin key in constant time.
func CheckAdminKey(m Media, adminKey string) error {
	if adminKey == "" || !secret.Equal(m.AdminKey, adminKey) {
		return fmt.Errorf("invalid admin key: %w", ErrForbidden)
	}

	return nil
}
