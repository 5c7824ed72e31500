package apikey

import (
	"context"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// Repository persists APIKey records.
type Repository interface {
	Save(ctx context.Context, key APIKey) error
	FindByID(ctx context.Context, id kernel.APIKeyID) (*APIKey, error)
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)
	FindByUser(ctx context.Context, userID kernel.UserID) ([]*APIKey, error)
	CountActiveByUser(ctx context.Context, userID kernel.UserID) (int, error)
	Delete(ctx context.Context, id kernel.APIKeyID) error
	UpdateLastUsed(ctx context.Context, id kernel.APIKeyID) error
}
