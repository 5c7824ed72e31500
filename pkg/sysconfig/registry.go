package sysconfig

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/logx"
)

var ErrRegistry = errx.NewRegistry("CONFIG")

var (
	CodeUnknownKey   = ErrRegistry.Register("UNKNOWN_KEY", errx.TypeValidation, http.StatusBadRequest, "unknown config key")
	CodeInvalidValue = ErrRegistry.Register("INVALID_VALUE", errx.TypeValidation, http.StatusBadRequest, "invalid value for config key")
)

func ErrUnknownKey(key string) *errx.Error {
	return ErrRegistry.New(CodeUnknownKey).WithDetail("key", key)
}

func ErrInvalidValue(key, value string) *errx.Error {
	return ErrRegistry.New(CodeInvalidValue).WithDetail("key", key).WithDetail("value", value)
}

// Registry owns the live Tunables snapshot. It is safe for concurrent use:
// readers take a lock-free atomic load, the (rare) admin write path takes
// the write-through slow path through Repository.
type Registry struct {
	repo     Repository
	snapshot atomic.Pointer[Tunables]
}

// NewRegistry loads defaults, merges whitelisted DB overrides on top, and
// returns a Registry holding the merged snapshot.
func NewRegistry(ctx context.Context, repo Repository) (*Registry, error) {
	r := &Registry{repo: repo}

	defaults := DefaultTunables()
	r.snapshot.Store(&defaults)

	entries, err := repo.LoadAll(ctx)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load config overrides", errx.TypeInternal)
	}

	merged := defaults
	for _, e := range entries {
		if err := applyOverride(&merged, e.Key, e.Value); err != nil {
			logx.WithField("key", e.Key).Warnf("ignoring invalid stored config override: %v", err)
			continue
		}
	}
	r.snapshot.Store(&merged)

	return r, nil
}

// Get returns the current tunables snapshot. The returned value is a copy;
// mutating it has no effect on the registry.
func (r *Registry) Get() Tunables {
	return *r.snapshot.Load()
}

// Set validates and persists an override, then atomically swaps the
// in-memory snapshot. This is the single write-through entry point for
// admin config mutation (spec.md §4.2).
func (r *Registry) Set(ctx context.Context, key, value string) error {
	current := r.Get()
	if err := applyOverride(&current, key, value); err != nil {
		return err
	}

	if err := r.repo.Upsert(ctx, key, value); err != nil {
		return errx.Wrap(err, "failed to persist config override", errx.TypeInternal)
	}

	r.snapshot.Store(&current)
	return nil
}

// applyOverride parses value according to key and mutates t in place.
func applyOverride(t *Tunables, key, value string) error {
	switch key {
	case "base_rpm":
		return setInt(&t.BaseRPM, key, value)
	case "contributor_rpm":
		return setInt(&t.ContributorRPM, key, value)
	case "error_retry_count":
		return setInt(&t.ErrorRetryCount, key, value)
	case "cd_flash":
		return setInt(&t.CooldownFlashSeconds, key, value)
	case "cd_pro":
		return setInt(&t.CooldownProSeconds, key, value)
	case "cd_30":
		return setInt(&t.Cooldown30Seconds, key, value)
	case "quota_flash":
		return setInt(&t.QuotaFlash, key, value)
	case "quota_25pro":
		return setInt(&t.Quota25Pro, key, value)
	case "quota_30pro":
		return setInt(&t.Quota30Pro, key, value)
	case "no_cred_quota_flash":
		return setInt(&t.NoCredQuotaFlash, key, value)
	case "no_cred_quota_25pro":
		return setInt(&t.NoCredQuota25Pro, key, value)
	case "no_cred_quota_30pro":
		return setInt(&t.NoCredQuota30Pro, key, value)
	case "credential_pool_mode":
		switch SharingMode(value) {
		case SharingPrivate, SharingTier3Shared, SharingFullShared:
			t.CredentialPoolMode = SharingMode(value)
			return nil
		default:
			return ErrInvalidValue(key, value)
		}
	case "force_donate":
		return setBool(&t.ForceDonate, key, value)
	case "lock_donate":
		return setBool(&t.LockDonate, key, value)
	case "allow_registration":
		return setBool(&t.AllowRegistration, key, value)
	case "discord_only_registration":
		return setBool(&t.DiscordOnlyRegistration, key, value)
	case "discord_oauth_only":
		return setBool(&t.DiscordOAuthOnly, key, value)
	default:
		return ErrUnknownKey(key)
	}
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return ErrInvalidValue(key, value)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return ErrInvalidValue(key, value)
	}
	*dst = b
	return nil
}
