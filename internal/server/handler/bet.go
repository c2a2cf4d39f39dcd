package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/engine"
)

// BetEngine is the write side the bet handler needs.
type BetEngine interface {
	CreateBet(ctx context.Context, caller common.Address, market domain.MarketID, terms engine.BetTerms) (domain.Bet, error)
	CreateBetForUser(ctx context.Context, caller common.Address, market domain.MarketID, terms engine.BetTerms, beneficiary common.Address, fundImmediately bool) (domain.Bet, error)
	FundBet(ctx context.Context, caller common.Address, id domain.BetID) (domain.Bet, error)
	MatchBet(ctx context.Context, caller common.Address, id domain.BetID) (domain.Bet, error)
	SettleBet(ctx context.Context, caller common.Address, id domain.BetID) (domain.SettlementRecord, error)
	ClaimFunds(ctx context.Context, caller common.Address, id domain.BetID) (engine.ClaimResult, error)
	CloseBet(ctx context.Context, caller common.Address, id domain.BetID) (engine.CloseResult, error)
}

// BetReader is the read side the bet handler needs.
type BetReader interface {
	GetBet(ctx context.Context, id domain.BetID) (domain.Bet, error)
	ListBets(ctx context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Bet, error)
}

// BetHandler serves the bet lifecycle endpoints.
type BetHandler struct {
	engine BetEngine
	bets   BetReader
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(eng BetEngine, bets BetReader, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		engine: eng,
		bets:   bets,
		logger: logger,
	}
}

// betResponse adds the derived lifecycle state to a bet.
type betResponse struct {
	domain.Bet
	State domain.BetState `json:"state"`
}

func newBetResponse(b domain.Bet) betResponse {
	return betResponse{Bet: b, State: b.State()}
}

// createBetRequest carries the bet terms. settlement_time is unix seconds.
type createBetRequest struct {
	Amount         uint64           `json:"amount"`
	PriceThreshold uint64           `json:"price_threshold"`
	Direction      domain.Direction `json:"direction"`
	SettlementTime int64            `json:"settlement_time"`
}

func (req createBetRequest) terms() engine.BetTerms {
	return engine.BetTerms{
		Amount:         req.Amount,
		PriceThreshold: req.PriceThreshold,
		Direction:      req.Direction,
		SettlementTime: time.Unix(req.SettlementTime, 0).UTC(),
	}
}

// CreateBet opens and funds a bet for the caller.
// POST /api/markets/{market}/bets
func (h *BetHandler) CreateBet(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "create bet", err)
		return
	}
	var req createBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bet, err := h.engine.CreateBet(r.Context(), caller, domain.MarketID(r.PathValue("market")), req.terms())
	if err != nil {
		writeDomainError(w, r, h.logger, "create bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, newBetResponse(bet))
}

type createBetForUserRequest struct {
	createBetRequest
	Beneficiary     string `json:"beneficiary"`
	FundImmediately bool   `json:"fund_immediately"`
}

// CreateBetForUser opens a bet on behalf of a beneficiary. Admin only.
// POST /api/markets/{market}/bets/for-user
func (h *BetHandler) CreateBetForUser(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "create bet for user", err)
		return
	}
	var req createBetForUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	beneficiary, err := domain.ParseAddress(req.Beneficiary)
	if err != nil {
		writeDomainError(w, r, h.logger, "create bet for user", err)
		return
	}

	bet, err := h.engine.CreateBetForUser(r.Context(), caller, domain.MarketID(r.PathValue("market")),
		req.terms(), beneficiary, req.FundImmediately)
	if err != nil {
		writeDomainError(w, r, h.logger, "create bet for user", err)
		return
	}
	writeJSON(w, http.StatusCreated, newBetResponse(bet))
}

// GetBet returns a live bet. Claimed and closed bets no longer exist.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, err := betIDParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get bet", err)
		return
	}
	bet, err := h.bets.GetBet(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get bet", err)
		return
	}
	writeJSON(w, http.StatusOK, newBetResponse(bet))
}

type listBetsResponse struct {
	Bets   []betResponse `json:"bets"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListBets returns the live bets of a market by sequence number.
// GET /api/markets/{market}/bets?limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bets, err := h.bets.ListBets(r.Context(), domain.MarketID(r.PathValue("market")), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list bets", err)
		return
	}
	out := make([]betResponse, 0, len(bets))
	for _, b := range bets {
		out = append(out, newBetResponse(b))
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Bets: out, Limit: opts.Limit, Offset: opts.Offset})
}

// betAction runs a lifecycle operation on the {id} bet for the signed caller.
func betAction[T any](h *BetHandler, op string, fn func(ctx context.Context, caller common.Address, id domain.BetID) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerOf(r)
		if err != nil {
			writeDomainError(w, r, h.logger, op, err)
			return
		}
		id, err := betIDParam(r)
		if err != nil {
			writeDomainError(w, r, h.logger, op, err)
			return
		}
		res, err := fn(r.Context(), caller, id)
		if err != nil {
			writeDomainError(w, r, h.logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// FundBet moves the stake of a deferred bet into escrow.
// POST /api/bets/{id}/fund
func (h *BetHandler) FundBet(w http.ResponseWriter, r *http.Request) {
	betAction(h, "fund bet", func(ctx context.Context, caller common.Address, id domain.BetID) (betResponse, error) {
		b, err := h.engine.FundBet(ctx, caller, id)
		return newBetResponse(b), err
	})(w, r)
}

// MatchBet takes the opposite side of a funded bet.
// POST /api/bets/{id}/match
func (h *BetHandler) MatchBet(w http.ResponseWriter, r *http.Request) {
	betAction(h, "match bet", func(ctx context.Context, caller common.Address, id domain.BetID) (betResponse, error) {
		b, err := h.engine.MatchBet(ctx, caller, id)
		return newBetResponse(b), err
	})(w, r)
}

// SettleBet resolves a matched bet against the oracle.
// POST /api/bets/{id}/settle
func (h *BetHandler) SettleBet(w http.ResponseWriter, r *http.Request) {
	betAction(h, "settle bet", h.engine.SettleBet)(w, r)
}

// ClaimFunds pays out a settled bet to its winner.
// POST /api/bets/{id}/claim
func (h *BetHandler) ClaimFunds(w http.ResponseWriter, r *http.Request) {
	betAction(h, "claim funds", h.engine.ClaimFunds)(w, r)
}

// CloseBet refunds an unmatched bet.
// POST /api/bets/{id}/close
func (h *BetHandler) CloseBet(w http.ResponseWriter, r *http.Request) {
	betAction(h, "close bet", h.engine.CloseBet)(w, r)
}
