package gameserver

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminTokenHeader carries the plaintext admin token.
const AdminTokenHeader = "X-Admin-Token"

// HashToken creates a bcrypt hash of the given admin token.
//
// Precondition: token must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckToken compares a plaintext token against a bcrypt hash.
//
// Postcondition: Returns true if token matches the hash.
func CheckToken(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// RequireAdmin wraps next so it only runs when the request carries a token
// matching tokenHash. An empty tokenHash disables the check.
func RequireAdmin(tokenHash string, next http.Handler) http.Handler {
	if tokenHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if token == "" || !CheckToken(token, tokenHash) {
			writeError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
