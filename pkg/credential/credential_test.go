package credential

import (
	"testing"
	"time"
)

func TestRequiredTier(t *testing.T) {
	cases := map[string]Tier{
		"gemini-3-pro-preview": Tier3,
		"gemini-3-flash":       Tier3,
		"gemini-2.5-flash":     Tier25,
		"gemini-2.5-pro":       Tier25,
		"gpt-4o":               Tier25,
	}
	for model, want := range cases {
		if got := RequiredTier(model); got != want {
			t.Errorf("RequiredTier(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestModelGroupFor(t *testing.T) {
	cases := map[string]ModelGroup{
		"gemini-3-pro-preview": Group30,
		"gemini-2.5-pro":       GroupPro,
		"gemini-2.5-flash":     GroupFlash,
		"gpt-4o":               GroupFlash,
	}
	for model, want := range cases {
		if got := ModelGroupFor(model); got != want {
			t.Errorf("ModelGroupFor(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestSatisfiesTier(t *testing.T) {
	tier3Cred := &Credential{ModelTier: Tier3}
	tier25Cred := &Credential{ModelTier: Tier25}

	if !tier3Cred.SatisfiesTier(Tier25) {
		t.Error("a tier-3 credential must satisfy a tier-2.5 request (upward tier permitted)")
	}
	if !tier3Cred.SatisfiesTier(Tier3) {
		t.Error("a tier-3 credential must satisfy a tier-3 request")
	}
	if !tier25Cred.SatisfiesTier(Tier25) {
		t.Error("a tier-2.5 credential must satisfy a tier-2.5 request")
	}
	if tier25Cred.SatisfiesTier(Tier3) {
		t.Error("a tier-2.5 credential must never satisfy a tier-3 request")
	}
}

func TestInCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-5 * time.Second)
	c := &Credential{LastUsedFlash: &recent}

	if !c.InCooldown(GroupFlash, now, 10*time.Second) {
		t.Error("expected credential to be in cooldown 5s after last use with a 10s window")
	}
	if c.InCooldown(GroupFlash, now, 3*time.Second) {
		t.Error("expected credential to be out of cooldown 5s after last use with a 3s window")
	}
	if c.InCooldown(GroupPro, now, 10*time.Second) {
		t.Error("cooldown is scoped per model group; an unused group must never report in-cooldown")
	}
}

func TestMarkSelectedWritesCooldownAtSelectionTime(t *testing.T) {
	c := &Credential{}
	now := time.Now().UTC()
	c.MarkSelected(Group30, now)

	if c.LastUsed30 == nil || !c.LastUsed30.Equal(now) {
		t.Fatal("MarkSelected must write the group-specific cooldown timestamp")
	}
	if c.LastUsedFlash != nil {
		t.Fatal("MarkSelected must not touch other groups' cooldown timestamps")
	}
	if c.TotalRequests != 1 {
		t.Fatalf("TotalRequests = %d, want 1", c.TotalRequests)
	}
}

func TestIsAuthFailure(t *testing.T) {
	cases := map[string]bool{
		"401 Unauthorized":                  true,
		"403 Forbidden":                      true,
		"PERMISSION_DENIED: no access":       true,
		"500 Internal Server Error":          false,
		"RESOURCE_EXHAUSTED":                 false,
	}
	for errText, want := range cases {
		if got := IsAuthFailure(errText); got != want {
			t.Errorf("IsAuthFailure(%q) = %v, want %v", errText, got, want)
		}
	}
}

func TestRecordFailureDisablesOnAuthFailure(t *testing.T) {
	c := &Credential{IsActive: true}
	c.RecordFailure("503 Service Unavailable")
	if !c.IsActive {
		t.Fatal("a transient failure must not disable the credential")
	}
	if c.FailedRequests != 1 {
		t.Fatalf("FailedRequests = %d, want 1", c.FailedRequests)
	}

	c.RecordFailure("403 Forbidden")
	if c.IsActive {
		t.Fatal("an auth failure must disable the credential")
	}
	if c.FailedRequests != 2 {
		t.Fatalf("FailedRequests = %d, want 2", c.FailedRequests)
	}
}

func TestEligibleForSharingPrivateMode(t *testing.T) {
	c := &Credential{IsPublic: true}
	if c.EligibleForSharing(SharingPrivate, Tier25, false, false) {
		t.Fatal("private mode must never allow selection of a non-owned credential")
	}
}

func TestEligibleForSharingTier3SharedRequiresOwnedTier3ForTier3Public(t *testing.T) {
	tier3Public := &Credential{IsPublic: true, ModelTier: Tier3}
	if tier3Public.EligibleForSharing(SharingTier3Shared, Tier3, false, false) {
		t.Fatal("tier3_shared must gate public tier-3 credentials behind owning an active tier-3 credential")
	}
	if !tier3Public.EligibleForSharing(SharingTier3Shared, Tier3, true, false) {
		t.Fatal("tier3_shared must allow public tier-3 credentials once the user owns an active tier-3 credential")
	}
}

func TestEligibleForSharingTier3SharedAlwaysAllowsPublicTier25(t *testing.T) {
	tier25Public := &Credential{IsPublic: true, ModelTier: Tier25}
	if !tier25Public.EligibleForSharing(SharingTier3Shared, Tier25, false, false) {
		t.Fatal("public tier-2.5 credentials must always be usable under tier3_shared")
	}
}

func TestEligibleForSharingFullSharedPotluckRule(t *testing.T) {
	pub := &Credential{IsPublic: true, ModelTier: Tier25}
	if pub.EligibleForSharing(SharingFullShared, Tier25, false, false) {
		t.Fatal("full_shared requires the requester to own at least one active public credential (potluck rule)")
	}
	if !pub.EligibleForSharing(SharingFullShared, Tier25, false, true) {
		t.Fatal("full_shared must allow access once the potluck condition is met")
	}
}
