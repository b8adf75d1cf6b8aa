// Package secret contains the hashing and key derivation primitives shared by the token codec
// and the media service.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of generated resource identifiers and keys in bytes (128 bits).
	KeySize = 16

	// IdentityIterations is the PBKDF2 iteration count used by HashIdentity.
	IdentityIterations = 100000

	identitySaltSize = 16
	filenameSize     = 32
	masterSecretSize = 64
)

// Hash returns the hex encoded SHA-256 digest of value.
//
// It is used to embed a non-reversible fingerprint of a secret into a token.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))

	return hex.EncodeToString(sum[:])
}

// DeriveSigningKey combines the process-wide master secret with a per-resource secret.
//
// Knowing the master secret alone is not enough to produce the key of a resource:
// the resource secret is needed as well, and every resource has its own.
func DeriveSigningKey(masterSecret []byte, resourceSecret string) []byte {
	h := sha256.New()
	h.Write(masterSecret)
	h.Write([]byte{':'})
	h.Write([]byte(resourceSecret))

	return h.Sum(nil)
}

// HashIdentity derives a storage-safe identifier from a public identity
// using salted, iterated PBKDF2-HMAC-SHA256.
// The salt is the leading part of the master secret.
//
// HashIdentity is a standalone primitive: the service does not call it, because internal IDs
// are generated randomly and independently of public IDs (see NewFilename). It serves callers
// that need a deterministic mapping, such as migrating records keyed by a hashed identity.
func HashIdentity(masterSecret []byte, id string) string {
	salt := masterSecret
	if len(salt) > identitySaltSize {
		salt = salt[:identitySaltSize]
	}

	key := pbkdf2.Key([]byte(id), salt, IdentityIterations, sha256.Size, sha256.New)

	return hex.EncodeToString(key)
}

// NewKey returns a random 128-bit value, hex encoded.
func NewKey() (string, error) {
	return randomHex(KeySize)
}

// NewFilename returns a random 256-bit value suitable as an unguessable file name.
func NewFilename() (string, error) {
	return randomHex(filenameSize)
}

// NewMasterSecret generates a URL-safe master secret.
func NewMasterSecret() (string, error) {
	b := make([]byte, masterSecretSize)

	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)

	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
