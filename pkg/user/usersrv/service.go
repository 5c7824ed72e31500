package usersrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserService implements registration, password login, and Discord account
// linking on top of a user.Repository.
type UserService struct {
	repo     user.Repository
	registry *sysconfig.Registry
}

func NewUserService(repo user.Repository, registry *sysconfig.Registry) *UserService {
	return &UserService{repo: repo, registry: registry}
}

// Register creates a password-authenticated user, honoring the
// allow_registration / discord_only_registration tunables (spec.md §6).
func (s *UserService) Register(ctx context.Context, username, password string) (*user.User, error) {
	cfg := s.registry.Get()
	if !cfg.AllowRegistration || cfg.DiscordOnlyRegistration {
		return nil, user.ErrRegistrationClosed()
	}

	if existing, _ := s.repo.FindByUsername(ctx, username); existing != nil {
		return nil, user.ErrUsernameTaken()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}

	newUser := user.User{
		ID:           kernel.NewUserID(uuid.NewString()),
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     true,
		BaseQuota:    cfg.NoCredQuotaFlash + cfg.NoCredQuota25Pro + cfg.NoCredQuota30Pro,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, newUser); err != nil {
		return nil, err
	}
	return &newUser, nil
}

// Login validates a username/password pair.
func (s *UserService) Login(ctx context.Context, username, password string) (*user.User, error) {
	u, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, user.ErrInvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, user.ErrInvalidCredentials()
	}

	if !u.IsActive {
		return nil, user.ErrInactive()
	}

	return u, nil
}

// LoginOrRegisterDiscord upserts a user keyed on discordID, honoring
// allow_registration for new accounts (spec.md §6); discord_oauth_only is
// not consulted.
func (s *UserService) LoginOrRegisterDiscord(ctx context.Context, discordID, username string) (*user.User, error) {
	if existing, _ := s.repo.FindByDiscordID(ctx, discordID); existing != nil {
		if !existing.IsActive {
			return nil, user.ErrInactive()
		}
		return existing, nil
	}

	cfg := s.registry.Get()
	if !cfg.AllowRegistration {
		return nil, user.ErrRegistrationClosed()
	}

	id := discordID
	newUser := user.User{
		ID:         kernel.NewUserID(uuid.NewString()),
		Username:   username,
		DiscordID:  &id,
		IsActive:   true,
		BaseQuota:  cfg.NoCredQuotaFlash + cfg.NoCredQuota25Pro + cfg.NoCredQuota30Pro,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, newUser); err != nil {
		return nil, err
	}
	return &newUser, nil
}

func (s *UserService) Get(ctx context.Context, id kernel.UserID) (*user.User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, user.ErrNotFound()
	}
	return u, nil
}

// SetActive toggles a user's is_active flag (admin action).
func (s *UserService) SetActive(ctx context.Context, id kernel.UserID, active bool) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	u.IsActive = active
	return s.repo.Update(ctx, *u)
}

// ApplyBonusDelta adjusts the user's donation bonus (spec.md §4.5) through
// the repository's row-level update.
func (s *UserService) ApplyBonusDelta(ctx context.Context, id kernel.UserID, delta int) error {
	return s.repo.ApplyBonusDelta(ctx, id, delta)
}
