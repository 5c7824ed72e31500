// Package quotasrv orchestrates the C6 enforcement decision that gates
// every dispatched request (spec.md §4.5): daily quota, then per-minute rate,
// both exempting admins.
package quotasrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/quota"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/Abraxas-365/manifesto/pkg/usagelog"
	"github.com/Abraxas-365/manifesto/pkg/user"
)

// Service implements the single enforce(user, model) → allow/reject
// decision that C8 dispatch calls once per inbound request, before the
// retry/failover loop.
type Service struct {
	usage    usagelog.Repository
	users    user.Repository
	credRepo credential.Repository
	limiter  quota.RateLimiter
	registry *sysconfig.Registry
	now      func() time.Time
}

func NewService(usage usagelog.Repository, users user.Repository, credRepo credential.Repository, limiter quota.RateLimiter, registry *sysconfig.Registry) *Service {
	return &Service{usage: usage, users: users, credRepo: credRepo, limiter: limiter, registry: registry, now: time.Now}
}

// Enforce checks daily quota then RPM for u dispatching model, returning a
// quota.ErrDailyExceeded/ErrRPMExceeded on breach. Admins bypass both.
func (s *Service) Enforce(ctx context.Context, u *user.User, model string) error {
	if u.IsAdmin {
		return nil
	}

	cfg := s.registry.Get()
	group := credential.ModelGroupFor(model)
	since := quota.StartOfDay(s.now())

	activeCreds, err := s.credRepo.CountActiveByOwner(ctx, u.ID)
	if err != nil {
		return err
	}

	if activeCreds > 0 {
		// A user with at least one credential draws from one shared total
		// budget across every model group.
		count, err := s.usage.CountSince(ctx, u.ID, since)
		if err != nil {
			return err
		}
		if count >= u.EffectiveQuota() {
			return quota.ErrDailyExceeded()
		}
	} else {
		// Without a credential, each model group (flash/pro/30) draws
		// against its own cap, so flash usage never eats into the pro/30
		// budget or vice versa.
		groupCount, err := s.usage.CountSinceByGroup(ctx, u.ID, since, group)
		if err != nil {
			return err
		}
		if groupCount >= quota.NoCredentialQuotaFor(cfg, group) {
			return quota.ErrDailyExceeded()
		}
	}

	publicCreds, err := s.credRepo.CountActivePublicByOwner(ctx, u.ID)
	if err != nil {
		return err
	}
	rpmLimit := quota.RPMLimitFor(cfg, publicCreds > 0)

	allowed, err := s.limiter.Allow(ctx, u.ID, rpmLimit)
	if err != nil {
		return err
	}
	if !allowed {
		return quota.ErrRPMExceeded()
	}

	return nil
}

// RecordAttempt writes the UsageLog row for one dispatched attempt, whether
// or not it ultimately succeeded against this credential. Dispatch calls it
// for attempts that succeed or get an upstream HTTP error status; attempts
// that fail at token refresh or with a transport error are not recorded.
func (s *Service) RecordAttempt(ctx context.Context, userID kernel.UserID, apiKeyID *kernel.APIKeyID, credID *kernel.CredentialID, model, endpoint string, statusCode, latencyMs int) error {
	return s.usage.Write(ctx, usagelog.UsageLog{
		ID:           usagelog.NewID(),
		UserID:       userID,
		APIKeyID:     apiKeyID,
		CredentialID: credID,
		Model:        model,
		Endpoint:     endpoint,
		StatusCode:   statusCode,
		LatencyMs:    latencyMs,
		CreatedAt:    time.Now().UTC(),
	})
}
