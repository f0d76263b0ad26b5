package pasuki

import "crypto/rand"

// ChallengeLen is the byte length of a generated challenge (spec.md §6
// recommends 32; the WebAuthn spec's floor is 16).
const ChallengeLen = 32

// GenerateChallenge produces a fresh cryptographically random challenge.
// Declared as a var, not a func, so tests can substitute a deterministic
// generator (the teacher's pasuki2 package has this as a plain func; the
// redis-backed pending-challenge tests in app_test.go need to monkey-patch
// it to assert on a known value).
var GenerateChallenge = func() ([]byte, error) {
	b := make([]byte, ChallengeLen)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
