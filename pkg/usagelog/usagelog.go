// Package usagelog implements the append-only UsageLog entity (spec.md §3).
// Dispatch writes a row for every attempt that succeeds or gets an upstream
// HTTP error status, including failed retries, so quota and rate windows
// derive solely from created_at. Attempts that fail at token refresh or with
// a transport or decode error write no row.
package usagelog

import (
	"crypto/rand"
	"net/http"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/oklog/ulid/v2"
)

// UsageLog is a single dispatch attempt, successful or not.
type UsageLog struct {
	ID           string              `db:"id" json:"id"`
	UserID       kernel.UserID       `db:"user_id" json:"user_id"`
	APIKeyID     *kernel.APIKeyID    `db:"api_key_id" json:"api_key_id,omitempty"`
	CredentialID *kernel.CredentialID `db:"credential_id" json:"credential_id,omitempty"`
	Model        string              `db:"model" json:"model"`
	Endpoint     string              `db:"endpoint" json:"endpoint"`
	StatusCode   int                 `db:"status_code" json:"status_code"`
	LatencyMs    int                 `db:"latency_ms" json:"latency_ms"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// NewID mints a lexicographically sortable ulid, a time-ordered identifier
// for these high-volume append-only rows.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("USAGELOG")

var (
	CodeWriteFailed = ErrRegistry.Register("WRITE_FAILED", errx.TypeInternal, http.StatusInternalServerError, "failed to record usage log")
)

func ErrWriteFailed() *errx.Error { return ErrRegistry.New(CodeWriteFailed) }
