package middleware

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/chorechart/internal/auth"
)

// BasicAuth checks HTTP basic credentials against a username and bcrypt
// password hash and records the caller in the request context. With an
// empty username or hash every request passes as anonymous.
func BasicAuth(username, passwordHash string) func(http.Handler) http.Handler {
	enabled := username != "" && passwordHash != ""
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				ctx := auth.WithAuth(r.Context(), auth.AuthContext{Method: "none"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok || !checkCredentials(user, pass, username, passwordHash) {
				w.Header().Set("WWW-Authenticate", `Basic realm="chorechart", charset="UTF-8"`)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{Username: user, Method: "basic"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func checkCredentials(user, pass, wantUser, wantHash string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password.
	passOK := bcrypt.CompareHashAndPassword([]byte(wantHash), []byte(pass)) == nil
	return userOK && passOK
}
