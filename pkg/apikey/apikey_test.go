package apikey

import "testing"

func TestGenerateAPIKeyRoundTrip(t *testing.T) {
	generated, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey returned error: %v", err)
	}
	if !ValidateAPIKeyFormat(generated.Secret) {
		t.Fatalf("generated secret %q fails format validation", generated.Secret)
	}
	if HashAPIKey(generated.Secret) != generated.Hash {
		t.Fatalf("hash mismatch: got %q want %q", HashAPIKey(generated.Secret), generated.Hash)
	}
}

func TestGenerateAPIKeyIsUnique(t *testing.T) {
	a, _ := GenerateAPIKey()
	b, _ := GenerateAPIKey()
	if a.Secret == b.Secret {
		t.Fatal("two consecutive GenerateAPIKey calls produced the same secret")
	}
}

func TestValidateAPIKeyFormatRejectsGarbage(t *testing.T) {
	cases := []string{"", "not-a-key", "gcap_tooshort", "sk-live-wrongprefix0000000000000000000000"}
	for _, c := range cases {
		if ValidateAPIKeyFormat(c) {
			t.Errorf("ValidateAPIKeyFormat(%q) = true, want false", c)
		}
	}
}

func TestRevoke(t *testing.T) {
	k := &APIKey{IsActive: true}
	k.Revoke()
	if k.IsValid() {
		t.Fatal("key should be invalid after Revoke")
	}
}
