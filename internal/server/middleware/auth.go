package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth gates the control surface behind a static API key, accepted either as
// a Bearer token or an X-API-Key header. An empty key disables the check
// entirely, which is the expected setup when the server only binds loopback.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		want := []byte(apiKey)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := requestKey(r)
			if got == "" {
				deny(w, "missing credentials")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				deny(w, "invalid credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
