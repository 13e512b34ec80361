// Package auth implements the optional HTTP basic authentication used by the
// server. Passwords are never stored or configured in plaintext: the config
// holds a salted SHA-256 digest, and verification compares digests in
// constant time.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidHash indicates the configured password hash is not a valid
// hex-encoded SHA-256 digest.
var ErrInvalidHash = errors.New("password hash must be a 64-character hex string")

// HashPassword returns the hex-encoded salted SHA-256 digest of password.
// The salt is prepended before hashing, matching what Verify expects.
func HashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// Credentials holds the expected user and the salted digest of the password.
type Credentials struct {
	User         string
	PasswordHash string
	Salt         string
}

// Validate checks that the credentials are usable before the server starts.
func (c Credentials) Validate() error {
	if c.User == "" {
		return errors.New("auth user must not be empty")
	}
	if len(c.PasswordHash) != sha256.Size*2 {
		return ErrInvalidHash
	}
	if _, err := hex.DecodeString(c.PasswordHash); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return nil
}

// Verify reports whether user and password match the stored credentials.
//
// SECURITY: both the user and the password digest are compared with
// subtle.ConstantTimeCompare so response timing does not reveal which of
// the two was wrong (CWE-208). The password is hashed before comparison,
// which also equalizes the compared lengths.
func (c Credentials) Verify(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.User)) == 1

	digest := HashPassword(password, c.Salt)
	passOK := subtle.ConstantTimeCompare([]byte(digest), []byte(c.PasswordHash)) == 1

	return userOK && passOK
}

// Middleware wraps next with HTTP basic authentication against creds.
// Unauthenticated requests receive 401 with a WWW-Authenticate challenge.
func Middleware(creds Credentials, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !creds.Verify(user, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
