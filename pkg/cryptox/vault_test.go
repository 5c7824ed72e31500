package cryptox

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-key-material")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := "1//refresh-token-value"
	ct, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ct == plaintext {
		t.Fatal("ciphertext must not equal plaintext")
	}

	got, err := v.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plaintext {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	v, err := New("test-key-material")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, _ := v.Encrypt("same-plaintext")
	b, _ := v.Encrypt("same-plaintext")
	if a == b {
		t.Fatal("expected distinct ciphertexts for repeated encryption (random nonce)")
	}
}

func TestHashRefreshTokenIsStable(t *testing.T) {
	a := HashRefreshToken("refresh-token-value")
	b := HashRefreshToken("refresh-token-value")
	if a != b {
		t.Fatal("hash of identical plaintext must be stable for dedup")
	}

	c := HashRefreshToken("different-value")
	if a == c {
		t.Fatal("hash collision between distinct plaintexts")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v, _ := New("test-key-material")
	ct, _ := v.Encrypt("secret")

	tampered := ct[:len(ct)-4] + "abcd"
	if _, err := v.Decrypt(tampered); err == nil {
		t.Fatal("expected decrypt of tampered ciphertext to fail")
	}
}
