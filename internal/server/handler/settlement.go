package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/engine"
)

// SettlementReader lists durable settlement records.
type SettlementReader interface {
	ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementRecord, error)
}

// SettlementHandler serves the settlement history.
type SettlementHandler struct {
	settlements SettlementReader
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementReader, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, logger: logger}
}

type settlementView struct {
	domain.SettlementRecord
	Verified bool `json:"verified"`
}

type listSettlementsResponse struct {
	Settlements []settlementView `json:"settlements"`
	Limit       int              `json:"limit"`
	Offset      int              `json:"offset"`
}

// ListSettlements returns settlement records in settlement order, each
// re-verified from its stored oracle reading.
// GET /api/settlements?since=...&until=...&limit=50&offset=0
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.settlements.ListSettlements(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list settlements", err)
		return
	}
	out := make([]settlementView, 0, len(recs))
	for _, rec := range recs {
		verr := engine.VerifySettlement(rec)
		if verr != nil {
			h.logger.WarnContext(r.Context(), "handler: settlement does not verify",
				slog.String("bet", rec.BetID.String()),
				slog.String("error", verr.Error()),
			)
		}
		out = append(out, settlementView{SettlementRecord: rec, Verified: verr == nil})
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: out, Limit: opts.Limit, Offset: opts.Offset})
}
