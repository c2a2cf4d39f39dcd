package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/engine"
)

// MarketEngine is the write side the market handler needs.
type MarketEngine interface {
	InitializeMarket(ctx context.Context, caller common.Address, req engine.InitializeMarketRequest) (domain.Market, error)
}

// MarketReader is the read side the market handler needs.
type MarketReader interface {
	GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	engine  MarketEngine
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(eng MarketEngine, markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		engine:  eng,
		markets: markets,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets ordered by id.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market.
// GET /api/markets/{market}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.markets.GetMarket(r.Context(), domain.MarketID(r.PathValue("market")))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

type initializeMarketRequest struct {
	AssetName  string        `json:"asset_name"`
	FeeClaimer string        `json:"fee_claimer"`
	FeedID     domain.FeedID `json:"feed_id"`
}

// InitializeMarket registers a market for a price feed. Admin only.
// POST /api/markets
func (h *MarketHandler) InitializeMarket(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "initialize market", err)
		return
	}

	var req initializeMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	feeClaimer, err := domain.ParseAddress(req.FeeClaimer)
	if err != nil {
		writeDomainError(w, r, h.logger, "initialize market", err)
		return
	}

	market, err := h.engine.InitializeMarket(r.Context(), caller, engine.InitializeMarketRequest{
		AssetName:  req.AssetName,
		FeeClaimer: feeClaimer,
		FeedID:     req.FeedID,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "initialize market", err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}
