package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/friendbet/internal/crypto"
)

const (
	// HeaderSignature carries the caller's hex signature over the request.
	HeaderSignature = "X-Signature"
	// HeaderTimestamp carries the unix seconds the signature was made at.
	HeaderTimestamp = "X-Timestamp"

	maxSignedBody = 1 << 20
)

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Caller returns the authenticated caller, if the request was signed.
func Caller(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// Identity returns middleware that authenticates signed requests. A request
// carrying X-Signature must also carry X-Timestamp within maxSkew of now; the
// recovered address is stored in the request context. Unsigned requests pass
// through without a caller. A nil now uses time.Now.
func Identity(maxSkew time.Duration, guard *ReplayGuard, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}

			ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_timestamp", "missing or invalid "+HeaderTimestamp)
				return
			}
			at := now()
			if skew := at.Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeError(w, http.StatusUnauthorized, "stale_request", "request timestamp outside accepted window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable_body", "unreadable request body")
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.RecoverAddress(r.Method, r.URL.Path, ts, body, sig)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_signature", "invalid signature")
				return
			}
			if guard != nil && guard.Seen(replayKey(addr, r.Method, r.URL.Path, ts, body), at) {
				writeError(w, http.StatusUnauthorized, "replayed_request", "request already used")
				return
			}

			noteCaller(r.Context(), addr)
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

// replayKey identifies a signed request by signer and signed content, so a
// re-encoded signature over the same request maps to the same key.
func replayKey(addr common.Address, method, path string, ts int64, body []byte) string {
	return addr.Hex() + ":" + hexutil.Encode(crypto.RequestDigest(method, path, ts, body))
}
