package crypto

import "testing"

func TestNewTokenCipher_RejectsWrongKeyLength(t *testing.T) {
	if _, err := NewTokenCipher("too-short"); err == nil {
		t.Fatalf("expected error for a non-32-byte key")
	}
}

func TestTokenCipher_EncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewTokenCipher("01234567890123456789012345678901"[:32])
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	plaintext := "sk-super-secret-api-key"
	wire, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if wire == plaintext {
		t.Fatalf("ciphertext must not equal plaintext")
	}

	got, err := c.Decrypt(wire)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != plaintext {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestTokenCipher_EncryptIsRandomizedPerCall(t *testing.T) {
	c, err := NewTokenCipher("01234567890123456789012345678901"[:32])
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	a, err := c.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("encrypt a: %v", err)
	}
	b, err := c.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("encrypt b: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct ciphertexts for the same plaintext (random IV per call)")
	}
}

func TestTokenCipher_DecryptRejectsMalformedWire(t *testing.T) {
	c, err := NewTokenCipher("01234567890123456789012345678901"[:32])
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	cases := []string{
		"",
		"no-colon-here",
		"zz:zz",
		"aabbcc:zz",
	}
	for _, wire := range cases {
		if _, err := c.Decrypt(wire); err == nil {
			t.Fatalf("expected error decrypting malformed wire %q", wire)
		}
	}
}

func TestHashPassword_CheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Fatalf("expected matching password to check out")
	}
	if CheckPassword(hash, "wrong password") {
		t.Fatalf("expected mismatched password to fail")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("shared-secret", "shared-secret") {
		t.Fatalf("expected equal strings to compare equal")
	}
	if ConstantTimeEqual("shared-secret", "different") {
		t.Fatalf("expected different strings to compare unequal")
	}
}
