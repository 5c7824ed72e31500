// Package credentialsrv implements the credential pool service (C5):
// selection, failure handling with auto-disablement, and donation
// reward/clawback accounting orchestrated against pkg/user.
package credentialsrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/Abraxas-365/manifesto/pkg/user"
)

// OwnerNotifier is the minimal surface credentialsrv needs from pkg/notifyx,
// kept as a local interface so this package never imports the concrete
// email/console implementation (dependency inversion, teacher's own
// pattern of narrow service-local ports).
type OwnerNotifier interface {
	NotifyCredentialDisabled(ctx context.Context, ownerEmail, displayName, reason string)
}

// Pool is the C5 credential pool service.
type Pool struct {
	repo     credential.Repository
	userRepo user.Repository
	registry *sysconfig.Registry
	notifier OwnerNotifier
}

func NewPool(repo credential.Repository, userRepo user.Repository, registry *sysconfig.Registry, notifier OwnerNotifier) *Pool {
	return &Pool{repo: repo, userRepo: userRepo, registry: registry, notifier: notifier}
}

func cooldownFor(cfg sysconfig.Tunables, group credential.ModelGroup) time.Duration {
	switch group {
	case credential.GroupPro:
		return time.Duration(cfg.CooldownProSeconds) * time.Second
	case credential.Group30:
		return time.Duration(cfg.Cooldown30Seconds) * time.Second
	default:
		return time.Duration(cfg.CooldownFlashSeconds) * time.Second
	}
}

// Select implements spec.md §4.4's full selection contract: sharing-mode
// eligibility is resolved here (it needs the user's own credential
// posture), the tier/cooldown/LRU ordering is delegated to the repository
// so it can run inside the locked transaction.
func (p *Pool) Select(ctx context.Context, userID kernel.UserID, model string, excluded []kernel.CredentialID) (*credential.Credential, error) {
	cfg := p.registry.Get()
	required := credential.RequiredTier(model)
	group := credential.ModelGroupFor(model)

	ownsTier3, err := p.repo.CountActiveTier3ByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	ownsPublic, err := p.repo.CountActivePublicByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	params := credential.SelectionParams{
		RequestingUser:      userID,
		RequiredTier:        required,
		Group:               group,
		Cooldown:            cooldownFor(cfg, group),
		ExcludedIDs:         excluded,
		SharingMode:         credential.SharingMode(cfg.CredentialPoolMode),
		OwnsOwnActiveTier3:  ownsTier3 > 0,
		OwnsAnyActivePublic: ownsPublic > 0,
	}

	cred, err := p.repo.Select(ctx, params)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		reason := noneAvailableReason(required, credential.SharingMode(cfg.CredentialPoolMode), ownsTier3 > 0)
		return nil, credential.ErrNoneAvailable(reason)
	}
	return cred, nil
}

func noneAvailableReason(required credential.Tier, mode credential.SharingMode, ownsTier3 bool) string {
	if required == credential.Tier3 && !ownsTier3 && mode != credential.SharingFullShared {
		return "no tier-3 credential available to this user under the current sharing mode"
	}
	if mode == credential.SharingPrivate {
		return "no private credential available; sharing is disabled"
	}
	return "no credential available after exhausting retries"
}

// RecordFailure applies spec.md §4.4's always-on bookkeeping plus, on an
// auth failure against a publicly donated credential, the clawback
// described in §4.5. A best-effort owner notification follows, never
// blocking the transaction.
func (p *Pool) RecordFailure(ctx context.Context, cred *credential.Credential, errText string) {
	clawback := 0
	wasAuthFailure := credential.IsAuthFailure(errText)
	if wasAuthFailure && cred.IsPublic && cred.OwnerUserID != nil {
		cfg := p.registry.Get()
		if cred.ModelTier == credential.Tier3 {
			clawback = cfg.RewardFor30()
		} else {
			clawback = cfg.RewardFor25()
		}
	}

	if err := p.repo.RecordFailure(ctx, cred.ID, errText, clawback); err != nil {
		logx.WithError(err).WithField("credential_id", cred.ID.String()).Error("failed to record credential failure")
		return
	}

	if wasAuthFailure && cred.OwnerUserID != nil {
		owner, err := p.userRepo.FindByID(ctx, *cred.OwnerUserID)
		if err == nil && p.notifier != nil {
			p.notifier.NotifyCredentialDisabled(ctx, owner.Username, cred.DisplayName, errText)
		}
	}
}

// SetDonated toggles Credential.IsPublic and applies the matching
// bonus_quota reward/clawback on the owner, idempotently (toggling
// off→on→off restores the pre-toggle bonus, per spec.md §8).
func (p *Pool) SetDonated(ctx context.Context, credID kernel.CredentialID, requestingUser kernel.UserID, public bool) error {
	cred, err := p.repo.FindByID(ctx, credID)
	if err != nil {
		return err
	}
	if cred.OwnerUserID == nil || *cred.OwnerUserID != requestingUser {
		return credential.ErrNotFound()
	}

	cfg := p.registry.Get()
	if cred.IsPublic == public {
		return nil
	}

	if !public && cfg.LockDonate && cred.IsActive {
		return credential.ErrDonateLocked()
	}

	reward := cfg.RewardFor25()
	if cred.ModelTier == credential.Tier3 {
		reward = cfg.RewardFor30()
	}

	delta := reward
	if !public {
		delta = -reward
	}

	cred.IsPublic = public
	if err := p.repo.Update(ctx, *cred); err != nil {
		return err
	}

	if cred.IsActive {
		return p.userRepo.ApplyBonusDelta(ctx, requestingUser, delta)
	}
	return nil
}

// Delete removes a credential, reversing its donation bonus first if it
// was an active public credential (spec.md §3's lifecycle rule).
func (p *Pool) Delete(ctx context.Context, credID kernel.CredentialID, requestingUser kernel.UserID) error {
	cred, err := p.repo.FindByID(ctx, credID)
	if err != nil {
		return err
	}
	if cred.OwnerUserID == nil || *cred.OwnerUserID != requestingUser {
		return credential.ErrNotFound()
	}

	if cred.IsPublic && cred.IsActive {
		cfg := p.registry.Get()
		reward := cfg.RewardFor25()
		if cred.ModelTier == credential.Tier3 {
			reward = cfg.RewardFor30()
		}
		if err := p.userRepo.ApplyBonusDelta(ctx, requestingUser, -reward); err != nil {
			return err
		}
	}

	return p.repo.Delete(ctx, credID)
}
