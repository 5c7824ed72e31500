// Package apikey implements the ApiKey entity (spec.md §3): the bearer
// credential end users present to the dispatch layer, distinct from the
// Google Code Assist credentials pooled by pkg/credential.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

const keyPrefix = "gcap_"

// MaxKeysPerUser bounds how many live keys a single user may hold
// (spec.md §6's per-user key cap).
const MaxKeysPerUser = 5

// APIKey is the persisted record; only KeyHash is ever stored, the raw
// secret is shown once at creation time and never again.
type APIKey struct {
	ID         kernel.APIKeyID `db:"id" json:"id"`
	UserID     kernel.UserID   `db:"user_id" json:"user_id"`
	Name       string          `db:"name" json:"name"`
	KeyHash    string          `db:"key_hash" json:"-"`
	KeyPrefix  string          `db:"key_prefix" json:"key_prefix"`
	IsActive   bool            `db:"is_active" json:"is_active"`
	LastUsedAt *time.Time      `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// GeneratedKey is returned once, at creation, and never persisted.
type GeneratedKey struct {
	Secret    string
	KeyPrefix string
	Hash      string
}

// GenerateAPIKey produces a random bearer secret of the form
// "gcap_<40 hex chars>" together with its lookup hash.
func GenerateAPIKey() (*GeneratedKey, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return nil, errx.Wrap(err, "failed to generate API key", errx.TypeInternal)
	}
	secret := keyPrefix + hex.EncodeToString(raw)
	return &GeneratedKey{
		Secret:    secret,
		KeyPrefix: secret[:len(keyPrefix)+6],
		Hash:      HashAPIKey(secret),
	}, nil
}

// HashAPIKey returns the SHA-256 hex digest used as the lookup key; raw
// secrets are never stored.
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ValidateAPIKeyFormat is a cheap pre-check before hitting the database.
func ValidateAPIKeyFormat(secret string) bool {
	return strings.HasPrefix(secret, keyPrefix) && len(secret) == len(keyPrefix)+40
}

func (k *APIKey) IsValid() bool {
	return k.IsActive
}

func (k *APIKey) Revoke() {
	k.IsActive = false
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("APIKEY")

var (
	CodeNotFound    = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "api key not found")
	CodeInvalid     = ErrRegistry.Register("INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "invalid api key")
	CodeRevoked     = ErrRegistry.Register("REVOKED", errx.TypeAuthorization, http.StatusUnauthorized, "api key has been revoked")
	CodeLimitReached = ErrRegistry.Register("LIMIT_REACHED", errx.TypeBusiness, http.StatusForbidden, fmt.Sprintf("a user may hold at most %d api keys", MaxKeysPerUser))
)

func ErrNotFound() *errx.Error     { return ErrRegistry.New(CodeNotFound) }
func ErrInvalid() *errx.Error      { return ErrRegistry.New(CodeInvalid) }
func ErrRevoked() *errx.Error      { return ErrRegistry.New(CodeRevoked) }
func ErrLimitReached() *errx.Error { return ErrRegistry.New(CodeLimitReached) }
