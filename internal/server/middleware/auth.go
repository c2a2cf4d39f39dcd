package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderAPIKey is the alternative to "Authorization: Bearer <key>".
const HeaderAPIKey = "X-API-Key"

// Auth gates the API behind an operator key. It does not identify callers;
// Identity does. Paths listed in open skip the gate so health checks need no key.
// An empty apiKey disables it.
func Auth(apiKey string, open ...string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(apiKey))
	public := make(map[string]bool, len(open))
	for _, p := range open {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			token := apiToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing_api_key", "missing API key")
				return
			}
			// Digests have equal length, so the comparison leaks nothing about the key.
			got := sha256.Sum256([]byte(token))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid_api_key", "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get(HeaderAPIKey))
}

// writeError writes the {"error","code"} body the handlers use for domain
// errors, so clients parse one shape.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	body, _ := json.Marshal(struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}{msg, code})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}
