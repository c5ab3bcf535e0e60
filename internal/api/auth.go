package api

import (
	"crypto/subtle"
	"net/http"
)

const authRealm = `Basic realm="Webhook Manager"`

// ValidateCredentials returns true if the provided pair matches the
// configured pair. An empty configured username or password never matches.
func ValidateCredentials(user, pass, wantUser, wantPass string) bool {
	if wantUser == "" || wantPass == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser))
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass))
	return userOK&passOK == 1
}

// basicAuthMiddleware gates the admin API behind HTTP Basic credentials.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", authRealm)
			s.writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !ValidateCredentials(user, pass, s.config.Username, s.config.Password) {
			s.logger.Warn("admin authentication failed", "user", user, "remote_addr", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", authRealm)
			s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}
