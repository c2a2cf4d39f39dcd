package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/friendbet/internal/crypto"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var fixedNow = time.Unix(1_700_000_000, 0)

func clock() time.Time { return fixedNow }

// echoCaller writes the caller address (or "anonymous") and the body it saw.
func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if addr, ok := Caller(r.Context()); ok {
			w.Header().Set("X-Caller", addr.Hex())
		} else {
			w.Header().Set("X-Caller", "anonymous")
		}
		w.Write(body)
	})
}

func signedRequest(t *testing.T, s *crypto.RequestSigner, method, path string, ts int64, body []byte) *http.Request {
	t.Helper()
	sig, err := s.SignRequest(method, path, ts, body)
	require.NoError(t, err)
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	r.Header.Set(HeaderSignature, sig)
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	return r
}

func TestIdentity(t *testing.T) {
	s, err := crypto.NewRequestSigner(testKey)
	require.NoError(t, err)
	body := []byte(`{"amount":2000000}`)

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
		wantCaller string
	}{
		{
			name:       "unsigned passes anonymously",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/markets", nil) },
			wantStatus: http.StatusOK,
			wantCaller: "anonymous",
		},
		{
			name: "valid signature",
			req: func() *http.Request {
				return signedRequest(t, s, http.MethodPost, "/api/markets/m/bets", fixedNow.Unix(), body)
			},
			wantStatus: http.StatusOK,
			wantCaller: s.Address().Hex(),
		},
		{
			name: "stale timestamp",
			req: func() *http.Request {
				return signedRequest(t, s, http.MethodPost, "/api/markets/m/bets", fixedNow.Unix()-301, body)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "missing timestamp",
			req: func() *http.Request {
				r := signedRequest(t, s, http.MethodPost, "/api/markets/m/bets", fixedNow.Unix(), body)
				r.Header.Del(HeaderTimestamp)
				return r
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "garbage signature",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/api/bets/m-1/match", nil)
				r.Header.Set(HeaderSignature, "0xdead")
				r.Header.Set(HeaderTimestamp, strconv.FormatInt(fixedNow.Unix(), 10))
				return r
			},
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Identity(5*time.Minute, NewReplayGuard(10*time.Minute), clock)(echoCaller())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req())
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantCaller, rec.Header().Get("X-Caller"))
			}
		})
	}
}

func TestIdentityBodyIsReplayedToHandler(t *testing.T) {
	s, err := crypto.NewRequestSigner(testKey)
	require.NoError(t, err)
	body := []byte(`{"direction":"above"}`)

	rec := httptest.NewRecorder()
	Identity(time.Minute, nil, clock)(echoCaller()).ServeHTTP(rec,
		signedRequest(t, s, http.MethodPost, "/api/markets/m/bets", fixedNow.Unix(), body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(body), rec.Body.String())
}

func TestIdentityTamperedBodyYieldsOtherCaller(t *testing.T) {
	s, err := crypto.NewRequestSigner(testKey)
	require.NoError(t, err)

	r := signedRequest(t, s, http.MethodPost, "/api/markets/m/bets", fixedNow.Unix(), []byte(`{"amount":2000000}`))
	r.Body = io.NopCloser(bytes.NewReader([]byte(`{"amount":9000000}`)))
	rec := httptest.NewRecorder()
	Identity(time.Minute, nil, clock)(echoCaller()).ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, s.Address().Hex(), rec.Header().Get("X-Caller"))
}

func TestIdentityRejectsReplay(t *testing.T) {
	s, err := crypto.NewRequestSigner(testKey)
	require.NoError(t, err)
	h := Identity(time.Minute, NewReplayGuard(2*time.Minute), clock)(echoCaller())

	first := signedRequest(t, s, http.MethodPost, "/api/bets/m-1/claim", fixedNow.Unix(), nil)
	again := first.Clone(context.Background())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, again)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "already used")
}

func TestIdentityRejectsReencodedSignature(t *testing.T) {
	s, err := crypto.NewRequestSigner(testKey)
	require.NoError(t, err)
	h := Identity(time.Minute, NewReplayGuard(2*time.Minute), clock)(echoCaller())

	path := "/api/markets/e62df6c8b4a85fe1/bets"
	body := []byte(`{"amount":10000000,"threshold":100,"direction":"above"}`)
	orig := signedRequest(t, s, http.MethodPost, path, fixedNow.Unix(), body)
	sig, err := hexutil.Decode(orig.Header.Get(HeaderSignature))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, orig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.Address().Hex(), rec.Header().Get("X-Caller"))

	lowV := bytes.Clone(sig)
	lowV[64] -= 27

	highS := bytes.Clone(sig)
	n := ethcrypto.S256().Params().N
	sv := new(big.Int).Sub(n, new(big.Int).SetBytes(sig[32:64]))
	sv.FillBytes(highS[32:64])
	highS[64] = 27 + (28 - sig[64])

	tests := []struct {
		name    string
		sig     []byte
		wantMsg string
	}{
		{"v without offset", lowV, "already used"},
		{"high s with flipped v", highS, "invalid signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
			r.Header.Set(HeaderSignature, hexutil.Encode(tt.sig))
			r.Header.Set(HeaderTimestamp, strconv.FormatInt(fixedNow.Unix(), 10))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
			assert.Empty(t, rec.Header().Get("X-Caller"))
		})
	}
}

func TestReplayGuardCleanup(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	assert.False(t, g.Seen("a", fixedNow))
	assert.True(t, g.Seen("a", fixedNow.Add(30*time.Second)))
	assert.False(t, g.Seen("a", fixedNow.Add(2*time.Minute)), "expired entries are recorded afresh")

	g.Seen("b", fixedNow)
	g.Cleanup(fixedNow.Add(90 * time.Second))
	assert.Equal(t, 1, g.Len())
}

type countingLimiter struct {
	keys  []string
	allow bool
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func (l *countingLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

func TestRateLimitKeys(t *testing.T) {
	l := &countingLimiter{allow: true}
	h := RateLimit(l, 10, time.Second)(echoCaller())

	r := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	h.ServeHTTP(httptest.NewRecorder(), r)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	r = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	r = r.WithContext(WithCaller(r.Context(), addr))
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, []string{"api:ip:10.1.2.3", "api:caller:0x00000000000000000000000000000000000000a1"}, l.keys)
}

func TestRateLimitRejectsAndFailsOpen(t *testing.T) {
	l := &countingLimiter{allow: false}
	rec := httptest.NewRecorder()
	RateLimit(l, 1, 1500*time.Millisecond)(echoCaller()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"code":"rate_limited"`)

	l = &countingLimiter{err: assert.AnError}
	rec = httptest.NewRecorder()
	RateLimit(l, 1, time.Second)(echoCaller()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	h := Auth("s3cret", "/api/health")(echoCaller())

	tests := []struct {
		name     string
		path     string
		header   string
		value    string
		want     int
		wantCode string
	}{
		{"missing key", "/api/markets", "", "", http.StatusUnauthorized, "missing_api_key"},
		{"wrong key", "/api/markets", "Authorization", "Bearer nope", http.StatusUnauthorized, "invalid_api_key"},
		{"bearer", "/api/markets", "Authorization", "Bearer s3cret", http.StatusOK, ""},
		{"lowercase scheme", "/api/markets", "Authorization", "bearer s3cret", http.StatusOK, ""},
		{"api key header", "/api/markets", HeaderAPIKey, "s3cret", http.StatusOK, ""},
		{"open path", "/api/health", "", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
			if tt.wantCode != "" {
				assert.Contains(t, rec.Body.String(), `"code":"`+tt.wantCode+`"`)
			}
		})
	}

	rec := httptest.NewRecorder()
	Auth("")(echoCaller()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOriginPolicy(t *testing.T) {
	p := NewOriginPolicy([]string{"https://App.example.com"})
	assert.True(t, p.Allows("https://app.example.com"))
	assert.False(t, p.Allows("https://evil.example.com"))

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, p.CheckOrigin(r), "non-browser clients send no origin")
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, p.CheckOrigin(r))

	assert.True(t, NewOriginPolicy([]string{"*"}).CheckOrigin(r))
	assert.True(t, NewOriginPolicy(nil).CheckOrigin(r))
}

func TestCORS(t *testing.T) {
	h := CORS(NewOriginPolicy([]string{"https://app.example.com"}))(echoCaller())

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllowed string
		wantMethods string
	}{
		{"allowed preflight", http.MethodOptions, "https://app.example.com", true, http.StatusNoContent, "https://app.example.com", corsMethods},
		{"refused preflight", http.MethodOptions, "https://evil.example.com", true, http.StatusForbidden, "", ""},
		{"allowed request", http.MethodPost, "https://app.example.com", false, http.StatusOK, "https://app.example.com", ""},
		{"other origin still served", http.MethodGet, "https://evil.example.com", false, http.StatusOK, "", ""},
		{"no origin", http.MethodGet, "", false, http.StatusOK, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/api/bets/m-1/match", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				r.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllowed, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantMethods, rec.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Origin", rec.Header().Get("Vary"))
		})
	}
	assert.Contains(t, corsHeaders, "X-Signature")
}

func TestLoggingRecordsCaller(t *testing.T) {
	s, err := crypto.NewRequestSigner(testKey)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := Logging(logger)(Identity(5*time.Minute, nil, clock)(echoCaller()))

	r := signedRequest(t, s, http.MethodPost, "/api/markets/m/bets", fixedNow.Unix(), []byte(`{}`))
	r.RemoteAddr = "10.0.0.9:4000"
	h.ServeHTTP(httptest.NewRecorder(), r)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "/api/markets/m/bets", line["path"])
	assert.Equal(t, float64(http.StatusOK), line["status"])
	assert.Equal(t, "10.0.0.9", line["client_ip"])
	assert.Equal(t, s.Address().Hex(), line["caller"])

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "DEBUG", line["level"])
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, requestLevel("/api/health", http.StatusBadGateway))
	assert.Equal(t, slog.LevelDebug, requestLevel("/metrics", http.StatusOK))
	assert.Equal(t, slog.LevelInfo, requestLevel("/api/markets", http.StatusNotFound))
}
