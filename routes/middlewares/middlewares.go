package middlewares

import (
	"crypto/subtle"
	"net/http"
	"regexp"

	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/log"
)

var reBearer = regexp.MustCompile(`(?i)^bearer\s+(.*)$`)

// Admin guards the admin API with a static bearer token. An empty token
// leaves the API open, for local use.
func Admin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			log.Info("admin API is not protected: no admin token configured")
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			match := reBearer.FindStringSubmatch(r.Header.Get("authorization"))
			if len(match) == 0 {
				w.Header().Set("www-authenticate", "Bearer")
				httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "admin.token.missing")
				return
			}
			if subtle.ConstantTimeCompare([]byte(match[1]), []byte(token)) != 1 {
				httpx.LogStatus(w, http.StatusForbidden, log.DebugLevel, "admin.token.invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
