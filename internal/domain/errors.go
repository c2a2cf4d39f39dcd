package domain

import (
	"errors"
	"fmt"
)

// Kind groups domain errors by the class of failure so that callers (the HTTP
// layer, metrics) can react without matching every individual code.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindAuthorization Kind = "authorization"
	KindOracle        Kind = "oracle"
	KindArithmetic    Kind = "arithmetic"
	KindNotFound      Kind = "not_found"
)

// Error is a typed domain failure. Two errors are equal under errors.Is when
// their codes match, so a sentinel carrying no detail matches the same error
// returned with detail attached.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// Is reports whether target is a domain error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetail returns a copy of e carrying a formatted detail string, e.g. the
// attempted and required settlement times.
func (e *Error) WithDetail(format string, args ...any) *Error {
	c := *e
	c.Detail = fmt.Sprintf(format, args...)
	return &c
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// KindOf returns the Kind of the first domain error in err's chain, or the
// empty string when err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// AsError returns the first domain error in err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}

// Validation.
var (
	ErrInvalidSettlementTime = newError(KindValidation, "invalid_settlement_time", "settlement time must be in the future")
	ErrSettlementTimeTooClose = newError(KindValidation, "settlement_time_too_close", "settlement time is too close")
	ErrInvalidBetAmount      = newError(KindValidation, "invalid_bet_amount", "invalid bet amount")
	ErrInvalidPriceThreshold = newError(KindValidation, "invalid_price_threshold", "invalid price threshold")
	ErrInvalidDirection      = newError(KindValidation, "invalid_direction", "invalid price direction")
	ErrInvalidAddress        = newError(KindValidation, "invalid_address", "invalid address")
	ErrInvalidFeedID         = newError(KindValidation, "invalid_feed_id", "invalid feed id")
	ErrInvalidBetID          = newError(KindValidation, "invalid_bet_id", "invalid bet id")
	ErrInsufficientFunds     = newError(KindValidation, "insufficient_funds", "insufficient funds")
)

// State.
var (
	ErrBetAlreadyMatched      = newError(KindState, "bet_already_matched", "bet is already matched")
	ErrBetAlreadySettled      = newError(KindState, "bet_already_settled", "bet is already settled")
	ErrBetAlreadyFunded       = newError(KindState, "bet_already_funded", "bet is already funded")
	ErrBetNotMatched          = newError(KindState, "bet_not_matched", "bet is not matched yet")
	ErrBetNotSettled          = newError(KindState, "bet_not_settled", "bet is not settled yet")
	ErrBetNotFunded           = newError(KindState, "bet_not_funded", "bet is not funded yet")
	ErrBetExpired             = newError(KindState, "bet_expired", "bet has expired")
	ErrSettlementTimeTooEarly = newError(KindState, "settlement_time_too_early", "current time is before settlement time")
	ErrMarketExists           = newError(KindState, "market_exists", "market already exists")
	ErrBetExists              = newError(KindState, "bet_exists", "bet already exists")
	ErrEscrowExists           = newError(KindState, "escrow_exists", "escrow already exists")
	ErrEscrowNotEmpty         = newError(KindState, "escrow_not_empty", "escrow still holds funds")
	ErrEscrowMismatch         = newError(KindState, "escrow_mismatch", "escrow balance does not match bet state")
	ErrSettlementMismatch     = newError(KindState, "settlement_mismatch", "settlement record does not reproduce")
	ErrConflict               = newError(KindState, "conflict", "state changed by a concurrent operation")
)

// Authorization.
var (
	ErrOnlyAdmin          = newError(KindAuthorization, "only_admin", "only the admin can call this function")
	ErrUnauthorizedCloser = newError(KindAuthorization, "unauthorized_closer", "only the better or the admin can close a bet")
	ErrNotWinner          = newError(KindAuthorization, "not_winner", "only the winner can claim funds")
	ErrMissingCaller      = newError(KindAuthorization, "missing_caller", "request is not signed")
)

// Oracle.
var (
	ErrOracleStale       = newError(KindOracle, "stale_oracle_data", "oracle data is stale")
	ErrFeedMismatch      = newError(KindOracle, "feed_mismatch", "oracle feed does not match market feed")
	ErrOracleUnavailable = newError(KindOracle, "oracle_unavailable", "failed to load price feed")
	ErrPriceConversion   = newError(KindOracle, "price_conversion", "error converting price data")
)

// Arithmetic.
var (
	ErrArithmeticOverflow = newError(KindArithmetic, "arithmetic_overflow", "arithmetic overflow")
)

// Not found.
var (
	ErrMarketNotFound  = newError(KindNotFound, "market_not_found", "market not found")
	ErrBetNotFound     = newError(KindNotFound, "bet_not_found", "bet not found")
	ErrAccountNotFound = newError(KindNotFound, "account_not_found", "ledger account not found")
	ErrNotFound        = newError(KindNotFound, "not_found", "not found")
)

// Infrastructure errors that never reach the bet state machine.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")
)
