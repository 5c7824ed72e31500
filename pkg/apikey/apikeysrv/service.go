package apikeysrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/apikey"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/google/uuid"
)

// APIKeyService issues and revokes the bearer credentials end users present
// to the dispatch layer.
type APIKeyService struct {
	repo apikey.Repository
}

func NewAPIKeyService(repo apikey.Repository) *APIKeyService {
	return &APIKeyService{repo: repo}
}

// Create mints a new key for userID, enforcing apikey.MaxKeysPerUser.
func (s *APIKeyService) Create(ctx context.Context, userID kernel.UserID, name string) (*apikey.APIKey, string, error) {
	count, err := s.repo.CountActiveByUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if count >= apikey.MaxKeysPerUser {
		return nil, "", apikey.ErrLimitReached()
	}

	generated, err := apikey.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	newKey := apikey.APIKey{
		ID:        kernel.NewAPIKeyID(uuid.NewString()),
		UserID:    userID,
		Name:      name,
		KeyHash:   generated.Hash,
		KeyPrefix: generated.KeyPrefix,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Save(ctx, newKey); err != nil {
		return nil, "", errx.Wrap(err, "failed to save api key", errx.TypeInternal)
	}
	return &newKey, generated.Secret, nil
}

func (s *APIKeyService) ListForUser(ctx context.Context, userID kernel.UserID) ([]*apikey.APIKey, error) {
	return s.repo.FindByUser(ctx, userID)
}

func (s *APIKeyService) Revoke(ctx context.Context, id kernel.APIKeyID, userID kernel.UserID) error {
	key, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return apikey.ErrNotFound()
	}
	if key.UserID != userID {
		return apikey.ErrNotFound()
	}
	key.Revoke()
	return s.repo.Save(ctx, *key)
}

func (s *APIKeyService) Delete(ctx context.Context, id kernel.APIKeyID, userID kernel.UserID) error {
	key, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return apikey.ErrNotFound()
	}
	if key.UserID != userID {
		return apikey.ErrNotFound()
	}
	return s.repo.Delete(ctx, id)
}

// Authenticate validates a raw bearer secret and returns the owning key,
// touching last_used_at asynchronously as the teacher's ValidateAPIKey does.
func (s *APIKeyService) Authenticate(ctx context.Context, secret string) (*apikey.APIKey, error) {
	if !apikey.ValidateAPIKeyFormat(secret) {
		return nil, apikey.ErrInvalid()
	}

	key, err := s.repo.FindByHash(ctx, apikey.HashAPIKey(secret))
	if err != nil {
		return nil, apikey.ErrInvalid()
	}

	if !key.IsValid() {
		return nil, apikey.ErrRevoked()
	}

	go s.repo.UpdateLastUsed(context.Background(), key.ID)

	return key, nil
}
