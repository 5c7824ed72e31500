package sysconfig

// SharingMode controls whether a user may consume other users' donated
// credentials (spec.md §4.4).
type SharingMode string

const (
	SharingPrivate     SharingMode = "private"
	SharingTier3Shared SharingMode = "tier3_shared"
	SharingFullShared  SharingMode = "full_shared"
)

// Tunables is the whitelisted set of operator-overridable knobs (spec.md §6).
// Every field here may be persisted as a `system_config` row and mutated at
// runtime through Registry.Set without a restart.
type Tunables struct {
	BaseRPM        int `config:"base_rpm"`
	ContributorRPM int `config:"contributor_rpm"`

	ErrorRetryCount int `config:"error_retry_count"`

	CooldownFlashSeconds int `config:"cd_flash"`
	CooldownProSeconds   int `config:"cd_pro"`
	Cooldown30Seconds    int `config:"cd_30"`

	QuotaFlash  int `config:"quota_flash"`
	Quota25Pro  int `config:"quota_25pro"`
	Quota30Pro  int `config:"quota_30pro"`

	NoCredQuotaFlash int `config:"no_cred_quota_flash"`
	NoCredQuota25Pro int `config:"no_cred_quota_25pro"`
	NoCredQuota30Pro int `config:"no_cred_quota_30pro"`

	CredentialPoolMode SharingMode `config:"credential_pool_mode"`

	ForceDonate bool `config:"force_donate"`
	LockDonate  bool `config:"lock_donate"`

	AllowRegistration       bool `config:"allow_registration"`
	DiscordOnlyRegistration bool `config:"discord_only_registration"`
	DiscordOAuthOnly        bool `config:"discord_oauth_only"`
}

// DefaultTunables mirrors the reference implementation's defaults.
func DefaultTunables() Tunables {
	return Tunables{
		BaseRPM:                 5,
		ContributorRPM:          15,
		ErrorRetryCount:         2,
		CooldownFlashSeconds:    8,
		CooldownProSeconds:      20,
		Cooldown30Seconds:       60,
		QuotaFlash:              100,
		Quota25Pro:              50,
		Quota30Pro:              50,
		NoCredQuotaFlash:        20,
		NoCredQuota25Pro:        5,
		NoCredQuota30Pro:        0,
		CredentialPoolMode:      SharingTier3Shared,
		ForceDonate:             false,
		LockDonate:              false,
		AllowRegistration:       true,
		DiscordOnlyRegistration: false,
		DiscordOAuthOnly:        false,
	}
}

// RewardFor25 is the per-credential donation bonus for a tier-2.5 credential.
func (t Tunables) RewardFor25() int {
	return t.QuotaFlash + t.Quota25Pro
}

// RewardFor30 is the per-credential donation bonus for a tier-3 credential.
func (t Tunables) RewardFor30() int {
	return t.QuotaFlash + t.Quota25Pro + t.Quota30Pro
}
