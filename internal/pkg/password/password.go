// Package password wraps bcrypt behind the two operations the auth core
// needs. bcrypt salts every digest, so hashing the same input twice yields
// different digests.
package password

import "golang.org/x/crypto/bcrypt"

// Hash derives a salted bcrypt digest from a plaintext password.
func Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plain matches digest. A malformed digest is simply a
// non-match; Verify never returns an error.
func Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
