package util

import "testing"

func TestLoginDigestVerifies(t *testing.T) {
	challenge, err := NewChallenge()
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	stored := HashPassword("hunter2")

	digest, err := LoginDigest(challenge, HashPassword("hunter2"))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if !VerifyLogin(challenge, stored, digest) {
		t.Fatal("correct password rejected")
	}

	wrong, _ := LoginDigest(challenge, HashPassword("hunter3"))
	if VerifyLogin(challenge, stored, wrong) {
		t.Fatal("wrong password accepted")
	}

	other, _ := NewChallenge()
	if VerifyLogin(other, stored, digest) {
		t.Fatal("digest replayed against another challenge")
	}
	if VerifyLogin(challenge, "", digest) {
		t.Fatal("login accepted with no password configured")
	}
}
