package jwt

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"

	"github.com/streamgate/streamgate/media"
	"github.com/streamgate/streamgate/media/secret"
)

// Token kinds.
const (
	KindAccess = "access"
	KindAdmin  = "admin"
)

// DefaultAdminTokenValidity is used when IssueAdminToken is called with a zero validity.
const DefaultAdminTokenValidity = 24 * time.Hour

type claims struct {
	jwt.RegisteredClaims

	MediaID       string `json:"media_id,omitempty"`
	AccessKeyHash string `json:"access_key_hash,omitempty"`

	Admin        bool   `json:"admin,omitempty"`
	AdminKeyHash string `json:"admin_key_hash,omitempty"`

	TokenType string `json:"token_type"`
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique token identifiers.
type IDGenerator interface {
	GenerateID() (string, error)
}

type uuidGenerator struct{}

func (uuidGenerator) GenerateID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// Codec issues and verifies media access tokens and admin tokens.
//
// Access tokens are signed with a key derived from the master secret and the access key of the media,
// so a leaked access key of one media cannot be used to forge tokens for another one.
// Admin tokens are signed with the master secret directly.
type Codec struct {
	secret []byte
	method *jwt.SigningMethodHMAC

	clock       Clock
	idGenerator IDGenerator
}

// NewCodec returns a new Codec.
//
// algorithm must name an HMAC signing method (HS256, HS384 or HS512).
func NewCodec(masterSecret []byte, algorithm string, opts ...Option) (Codec, error) {
	if len(masterSecret) == 0 {
		return Codec{}, errors.New("token codec: master secret is required")
	}

	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return Codec{}, fmt.Errorf("token codec: unsupported signing algorithm %q", algorithm)
	}

	c := Codec{
		secret: masterSecret,
		method: method,
	}

	for _, opt := range opts {
		opt.applyCodec(&c)
	}

	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}

	if c.idGenerator == nil {
		c.idGenerator = uuidGenerator{}
	}

	return c, nil
}

// IssueAccessToken implements media.AccessTokenIssuer.
func (c Codec) IssueAccessToken(mediaID string, accessKey string, validity time.Duration) (media.AccessToken, error) {
	if validity <= 0 {
		return media.AccessToken{}, errors.New("token codec: validity must be positive")
	}

	return c.issue(claims{
		MediaID:       mediaID,
		AccessKeyHash: secret.Hash(accessKey),
		TokenType:     KindAccess,
	}, mediaID, secret.DeriveSigningKey(c.secret, accessKey), validity)
}

// VerifyAccessToken implements media.AccessTokenVerifier.
func (c Codec) VerifyAccessToken(token string, mediaID string, accessKey string) bool {
	claims, ok := c.verify(token, secret.DeriveSigningKey(c.secret, accessKey))
	if !ok {
		return false
	}

	if claims.TokenType != KindAccess {
		return false
	}

	if !equal(claims.MediaID, mediaID) {
		return false
	}

	return equal(claims.AccessKeyHash, secret.Hash(accessKey))
}

// IssueAdminToken issues a token proving knowledge of an admin key.
func (c Codec) IssueAdminToken(adminKey string, validity time.Duration) (media.AccessToken, error) {
	if validity == 0 {
		validity = DefaultAdminTokenValidity
	}

	if validity < 0 {
		return media.AccessToken{}, errors.New("token codec: validity must be positive")
	}

	return c.issue(claims{
		Admin:        true,
		AdminKeyHash: secret.Hash(adminKey),
		TokenType:    KindAdmin,
	}, "", c.secret, validity)
}

// VerifyAdminToken verifies a token issued by IssueAdminToken against an admin key.
func (c Codec) VerifyAdminToken(token string, adminKey string) bool {
	claims, ok := c.verify(token, c.secret)
	if !ok {
		return false
	}

	if claims.TokenType != KindAdmin || !claims.Admin {
		return false
	}

	return equal(claims.AdminKeyHash, secret.Hash(adminKey))
}

func (c Codec) issue(claims claims, subject string, key []byte, validity time.Duration) (media.AccessToken, error) {
	id, err := c.idGenerator.GenerateID()
	if err != nil {
		return media.AccessToken{}, err
	}

	now := c.clock.Now()

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        id,
	}

	signedToken, err := jwt.NewWithClaims(c.method, claims).SignedString(key)
	if err != nil {
		return media.AccessToken{}, err
	}

	return media.AccessToken{
		Payload:   signedToken,
		ExpiresIn: validity,
		IssuedAt:  now,
	}, nil
}

// verify checks the signature and the expiry of a token. Claim validation uses the codec clock
// rather than the global jwt.TimeFunc.
func (c Codec) verify(token string, key []byte) (claims, bool) {
	if !ValidateFormat(token) {
		return claims{}, false
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var claims claims

	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return claims, false
	}

	now := c.clock.Now()

	if !claims.VerifyExpiresAt(now, true) {
		return claims, false
	}

	if !claims.VerifyIssuedAt(now, true) {
		return claims, false
	}

	return claims, true
}

// ValidateFormat reports whether token looks like a compact JWS (three dot separated segments).
func ValidateFormat(token string) bool {
	if token == "" {
		return false
	}

	return len(strings.Split(token, ".")) == 3
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
