// Package user implements the User entity (spec.md §3): self-registered or
// Discord-linked accounts with a base + donation-bonus daily quota.
package user

import (
	"net/http"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// User mirrors spec.md §3's User entity.
type User struct {
	ID           kernel.UserID `db:"id" json:"id"`
	Username     string        `db:"username" json:"username"`
	PasswordHash string        `db:"password_hash" json:"-"`
	DiscordID    *string       `db:"discord_id" json:"discord_id,omitempty"`
	IsActive     bool          `db:"is_active" json:"is_active"`
	IsAdmin      bool          `db:"is_admin" json:"is_admin"`
	BaseQuota    int           `db:"base_quota" json:"base_quota"`
	BonusQuota   int           `db:"bonus_quota" json:"bonus_quota"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// EffectiveQuota is the user's total daily request budget (spec.md §3).
func (u *User) EffectiveQuota() int {
	return u.BaseQuota + u.BonusQuota
}

// ApplyBonusDelta adjusts BonusQuota by delta, flooring at zero per
// spec.md §4.5's clawback rule.
func (u *User) ApplyBonusDelta(delta int) {
	u.BonusQuota += delta
	if u.BonusQuota < 0 {
		u.BonusQuota = 0
	}
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("USER")

var (
	CodeNotFound          = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "user not found")
	CodeUsernameTaken      = ErrRegistry.Register("USERNAME_TAKEN", errx.TypeConflict, http.StatusConflict, "username already taken")
	CodeDiscordTaken       = ErrRegistry.Register("DISCORD_TAKEN", errx.TypeConflict, http.StatusConflict, "discord account already linked")
	CodeInvalidCredentials = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "invalid username or password")
	CodeInactive           = ErrRegistry.Register("INACTIVE", errx.TypeAuthorization, http.StatusForbidden, "user account is disabled")
	CodeRegistrationClosed = ErrRegistry.Register("REGISTRATION_CLOSED", errx.TypeBusiness, http.StatusForbidden, "registration is currently closed")
)

func ErrNotFound() *errx.Error          { return ErrRegistry.New(CodeNotFound) }
func ErrUsernameTaken() *errx.Error      { return ErrRegistry.New(CodeUsernameTaken) }
func ErrDiscordTaken() *errx.Error       { return ErrRegistry.New(CodeDiscordTaken) }
func ErrInvalidCredentials() *errx.Error { return ErrRegistry.New(CodeInvalidCredentials) }
func ErrInactive() *errx.Error           { return ErrRegistry.New(CodeInactive) }
func ErrRegistrationClosed() *errx.Error { return ErrRegistry.New(CodeRegistrationClosed) }
