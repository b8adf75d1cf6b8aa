package media

import (
	"time"
)

// AccessToken is a signed bearer credential.
type AccessToken struct {
	Payload string

	ExpiresIn time.Duration
	IssuedAt  time.Time
}

// AccessTokenIssuer issues access tokens scoped to a single media.
type AccessTokenIssuer interface {
	IssueAccessToken(mediaID string, accessKey string, validity time.Duration) (AccessToken, error)
}

// AccessTokenVerifier verifies access tokens.
//
// Every failure (malformed, expired, wrong signature, wrong kind or wrong subject) is reported as false.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string, mediaID string, accessKey string) bool
}

// TokenCodec is a facade combining token issuing and verification.
type TokenCodec interface {
	AccessTokenIssuer
	AccessTokenVerifier
}
