package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// WalletHandler serves ledger balances and the development faucet.
type WalletHandler struct {
	store         domain.Store
	admin         common.Address
	faucetEnabled bool
	logger        *slog.Logger
}

// NewWalletHandler creates a WalletHandler. Credits are refused unless
// faucetEnabled is set, and then only for admin.
func NewWalletHandler(store domain.Store, admin common.Address, faucetEnabled bool, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		store:         store,
		admin:         admin,
		faucetEnabled: faucetEnabled,
		logger:        logger,
	}
}

type balanceResponse struct {
	Address common.Address   `json:"address"`
	Account domain.AccountID `json:"account"`
	Balance uint64           `json:"balance"`
}

// GetBalance returns the wallet balance of an address.
// GET /api/wallets/{address}
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get balance", err)
		return
	}
	acct := domain.WalletAccount(addr)
	bal, err := h.store.Balance(r.Context(), acct)
	if err != nil {
		writeDomainError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: addr, Account: acct, Balance: bal})
}

type creditRequest struct {
	Amount uint64 `json:"amount"`
}

// Credit mints funds into a wallet. Admin only, development deployments only.
// POST /api/wallets/{address}/credit
func (h *WalletHandler) Credit(w http.ResponseWriter, r *http.Request) {
	if !h.faucetEnabled {
		writeError(w, http.StatusNotFound, "faucet disabled")
		return
	}
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "credit", err)
		return
	}
	if caller != h.admin {
		writeDomainError(w, r, h.logger, "credit", domain.ErrOnlyAdmin.WithDetail("caller %s", caller.Hex()))
		return
	}
	addr, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeDomainError(w, r, h.logger, "credit", err)
		return
	}
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct := domain.WalletAccount(addr)
	var bal uint64
	err = h.store.InTx(r.Context(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Ledger().Credit(ctx, acct, req.Amount); err != nil {
			return err
		}
		b, err := tx.Ledger().Balance(ctx, acct)
		bal = b
		return err
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "credit", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: wallet credited",
		slog.String("account", string(acct)),
		slog.Uint64("amount", req.Amount),
	)
	writeJSON(w, http.StatusOK, balanceResponse{Address: addr, Account: acct, Balance: bal})
}
