// Package cryptox is the symmetric vault (C1) that encrypts OAuth
// refresh/access tokens at rest.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/Abraxas-365/manifesto/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("VAULT")

var (
	CodeEncryptFailed = ErrRegistry.Register("ENCRYPT_FAILED", errx.TypeInternal, http.StatusInternalServerError, "failed to encrypt value")
	CodeDecryptFailed = ErrRegistry.Register("DECRYPT_FAILED", errx.TypeInternal, http.StatusInternalServerError, "failed to decrypt value")
)

// Vault performs AES-256-GCM authenticated encryption over UTF-8 plaintext.
//
// This is deliberately non-deterministic (a random nonce per call), which
// is the safer choice for credential material at rest. Because of that,
// ciphertext can never be compared byte-for-byte for dedup — see
// pkg/credential's refresh_token_hash column, which hashes the plaintext
// independently for that purpose (spec.md §4.1's open question).
type Vault struct {
	gcm cipher.AEAD
}

// New derives a 256-bit key from key material (typically an operator
// secret of arbitrary length) via SHA-256 and builds an AES-GCM vault.
func New(key string) (*Vault, error) {
	if key == "" {
		return nil, errors.New("cryptox: vault key must not be empty")
	}
	sum := sha256.Sum256([]byte(key))

	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{gcm: gcm}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrRegistry.New(CodeEncryptFailed)
	}

	sealed := v.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It returns an empty string and an error for
// ciphertext that fails authentication (corrupted, wrong key, truncated).
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrRegistry.New(CodeDecryptFailed)
	}

	nonceSize := v.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrRegistry.New(CodeDecryptFailed)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrRegistry.New(CodeDecryptFailed)
	}
	return string(plaintext), nil
}

// HashRefreshToken returns the unpadded base64url SHA-256 digest of a plaintext refresh
// token, stored alongside the encrypted value for dedup at upload time.
func HashRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
