package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, " + HeaderSignature + ", " + HeaderTimestamp
	corsMaxAge  = "86400"
)

// OriginPolicy decides which browser origins may call the API and open the
// event WebSocket. An empty list or "*" allows every origin. Origins compare
// case-insensitively.
type OriginPolicy struct {
	any     bool
	origins map[string]bool
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{any: len(origins) == 0, origins: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "*" {
			p.any = true
		}
		p.origins[o] = true
	}
	return p
}

func (p *OriginPolicy) Allows(origin string) bool {
	return p.any || p.origins[strings.ToLower(origin)]
}

// CheckOrigin fits websocket.Upgrader. Requests without an Origin header
// come from non-browser clients and are allowed.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.Allows(origin)
}

// CORS tags responses to allowed origins and answers preflight requests
// itself. A preflight from any other origin gets 403.
func CORS(p *OriginPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			allowed := origin != "" && p.Allows(origin)
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
				w.Header().Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
