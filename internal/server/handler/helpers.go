package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorResponse is the body of a failed operation.
type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// statusForKind maps a domain error kind to an HTTP status.
func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindOracle:
		return http.StatusBadGateway
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeDomainError reports err to the client. Domain errors keep their code
// and detail; anything else is logged and hidden behind a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
		return
	}
	status := statusForKind(de.Kind)
	if errors.Is(err, domain.ErrMissingCaller) {
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, errorResponse{
		Error:  de.Message,
		Kind:   string(de.Kind),
		Code:   de.Code,
		Detail: de.Detail,
	})
}

// decodeJSON strictly decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// callerOf returns the signed caller of the request.
func callerOf(r *http.Request) (common.Address, error) {
	addr, ok := middleware.Caller(r.Context())
	if !ok {
		return common.Address{}, domain.ErrMissingCaller
	}
	return addr, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until accept RFC 3339 or unix
// seconds.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	var err error
	if opts.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return opts, fmt.Errorf("since: %w", err)
	}
	if opts.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return opts, fmt.Errorf("until: %w", err)
	}
	return opts, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(unix, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// betIDParam parses the {id} path parameter.
func betIDParam(r *http.Request) (domain.BetID, error) {
	return domain.ParseBetID(r.PathValue("id"))
}
