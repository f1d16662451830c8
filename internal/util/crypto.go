package util

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// ChallengeSize is the length of an admin login challenge.
const ChallengeSize = 16

// NewChallenge returns random bytes a client must bind its admin login to.
func NewChallenge() ([ChallengeSize]byte, error) {
	var c [ChallengeSize]byte
	if _, err := rand.Read(c[:]); err != nil {
		return c, fmt.Errorf("failed to generate challenge: %w", err)
	}
	return c, nil
}

// HashPassword returns the hex digest stored in configuration in place of
// the admin password.
func HashPassword(password string) string {
	sum := blake3.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// LoginDigest binds a stored password hash to a challenge. Clients compute
// it from the plain password through HashPassword.
func LoginDigest(challenge [ChallengeSize]byte, passwordHash string) ([32]byte, error) {
	key, err := hex.DecodeString(passwordHash)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to decode password hash: %w", err)
	}
	h := blake3.New(32, nil)
	h.Write(challenge[:])
	h.Write(key)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// VerifyLogin reports whether digest proves knowledge of the password
// behind passwordHash for challenge.
func VerifyLogin(challenge [ChallengeSize]byte, passwordHash string, digest [32]byte) bool {
	if passwordHash == "" {
		return false
	}
	want, err := LoginDigest(challenge, passwordHash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want[:], digest[:]) == 1
}
