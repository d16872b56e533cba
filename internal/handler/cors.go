package handler

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/cors"

	"github.com/dzerik/oauth-relay/internal/config"
)

const (
	corsAllowMethods = "GET,POST,OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type"
	corsMaxAge       = 86400
)

// localOrigin matches game clients and editors talking from the same machine.
var localOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`)

// OriginAllowed reports whether origin may call the client-facing API.
func OriginAllowed(origins []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return localOrigin.MatchString(origin)
}

// CORS returns the middleware for client-facing routes. Allowed origins are
// echoed back; preflight requests are answered with 204 whether or not the
// origin is allowed.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = corsMaxAge
	}
	origins := cfg.Origins

	originCheck := cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return OriginAllowed(origins, origin)
		},
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Authorization", "Content-Type"},
		MaxAge:             maxAge,
		OptionsPassthrough: true,
	})

	return func(next http.Handler) http.Handler {
		fixed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if w.Header().Get("Access-Control-Allow-Origin") != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
		return originCheck(fixed)
	}
}
