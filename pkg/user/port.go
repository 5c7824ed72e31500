package user

import (
	"context"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// Repository persists User aggregates.
type Repository interface {
	Create(ctx context.Context, u User) error
	FindByID(ctx context.Context, id kernel.UserID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByDiscordID(ctx context.Context, discordID string) (*User, error)
	Update(ctx context.Context, u User) error
	// ApplyBonusDelta adjusts bonus_quota atomically at the row level,
	// flooring at zero, independent of any in-memory copy the caller holds.
	ApplyBonusDelta(ctx context.Context, id kernel.UserID, delta int) error
	Delete(ctx context.Context, id kernel.UserID) error
}
