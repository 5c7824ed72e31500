// Package quota implements the C6 daily-quota and per-minute rate limiter
// (spec.md §4.5): a non-midnight daily rollover, per-user and
// per-credential budgets, and the RPM ceiling that exempts admins.
package quota

import (
	"net/http"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
)

// rolloverHour is the UTC hour at which the daily quota window resets
// (07:00 UTC / 15:00 Beijing).
const rolloverHour = 7

// StartOfDay returns the rollover boundary in effect for now: 07:00 UTC of
// today if now is at or after that hour, else 07:00 UTC of yesterday.
func StartOfDay(now time.Time) time.Time {
	now = now.UTC()
	boundary := time.Date(now.Year(), now.Month(), now.Day(), rolloverHour, 0, 0, 0, time.UTC)
	if now.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}

// CredentialQuotaFor returns the per-credential daily request budget for a
// model group, from the same tunables that define donation rewards
// (spec.md §6: "the per-credential daily budgets that also define donation
// rewards").
func CredentialQuotaFor(cfg sysconfig.Tunables, group credential.ModelGroup) int {
	switch group {
	case credential.GroupPro:
		return cfg.Quota25Pro
	case credential.Group30:
		return cfg.Quota30Pro
	default:
		return cfg.QuotaFlash
	}
}

// NoCredentialQuotaFor returns the daily cap applied to a user who owns no
// active credential of their own, matched against the requested model's
// group.
func NoCredentialQuotaFor(cfg sysconfig.Tunables, group credential.ModelGroup) int {
	switch group {
	case credential.GroupPro:
		return cfg.NoCredQuota25Pro
	case credential.Group30:
		return cfg.NoCredQuota30Pro
	default:
		return cfg.NoCredQuotaFlash
	}
}

// RPMLimitFor returns the per-minute request ceiling for a user, based on
// whether they currently donate an active public credential.
func RPMLimitFor(cfg sysconfig.Tunables, hasActivePublicCredential bool) int {
	if hasActivePublicCredential {
		return cfg.ContributorRPM
	}
	return cfg.BaseRPM
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("QUOTA")

var (
	CodeDailyExceeded = ErrRegistry.Register("DAILY_EXCEEDED", errx.TypeBusiness, http.StatusTooManyRequests, "daily quota exceeded")
	CodeRPMExceeded   = ErrRegistry.Register("RPM_EXCEEDED", errx.TypeBusiness, http.StatusTooManyRequests, "rate limit exceeded")
)

func ErrDailyExceeded() *errx.Error { return ErrRegistry.New(CodeDailyExceeded) }
func ErrRPMExceeded() *errx.Error   { return ErrRegistry.New(CodeRPMExceeded) }
