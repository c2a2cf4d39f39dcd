package engine

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// FeeSplit divides an escrow balance between the fee claimer and the winner.
// Fee + Payout always equals the balance.
type FeeSplit struct {
	Fee    uint64
	Payout uint64
}

// SplitFee computes fee = floor(balance*num/den) and payout = balance - fee.
func SplitFee(balance, num, den uint64) (FeeSplit, error) {
	if den == 0 {
		return FeeSplit{}, domain.ErrArithmeticOverflow.WithDetail("fee denominator is zero")
	}
	prod, err := domain.CheckedMul(balance, num)
	if err != nil {
		return FeeSplit{}, err
	}
	fee := prod / den
	payout, err := domain.CheckedSub(balance, fee)
	if err != nil {
		return FeeSplit{}, err
	}
	return FeeSplit{Fee: fee, Payout: payout}, nil
}

// ClaimResult reports the payouts of a claim.
type ClaimResult struct {
	BetID      domain.BetID   `json:"bet_id"`
	Winner     common.Address `json:"winner"`
	FeeClaimer common.Address `json:"fee_claimer"`
	Escrowed   uint64         `json:"escrowed"`
	Fee        uint64         `json:"fee"`
	Payout     uint64         `json:"payout"`
}

// ClaimFunds pays the fee to the market's fee claimer and the remainder to
// the winner, then removes the escrow and the bet. Only the winner may claim.
func (e *Engine) ClaimFunds(ctx context.Context, caller common.Address, id domain.BetID) (ClaimResult, error) {
	var res ClaimResult
	err := e.run(ctx, "claim_funds", id.Market, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, id.Market)
		if err != nil {
			return err
		}
		bet, err := tx.Bets().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := bet.CanClaim(caller); err != nil {
			return err
		}

		ledger := tx.Ledger()
		balance, err := ledger.Balance(ctx, bet.Escrow)
		if err != nil {
			return err
		}
		pot, err := domain.CheckedMul(bet.Amount, 2)
		if err != nil {
			return err
		}
		if balance != pot {
			return domain.ErrEscrowMismatch.WithDetail("escrow %d, expected %d", balance, pot)
		}

		split, err := SplitFee(balance, e.policy.FeeNumerator, e.policy.FeeDenominator)
		if err != nil {
			return err
		}
		if err := m.RecordClaim(split.Fee); err != nil {
			return err
		}
		if err := ledger.Transfer(ctx, bet.Escrow, domain.WalletAccount(m.FeeClaimer), split.Fee); err != nil {
			return err
		}
		if err := ledger.Transfer(ctx, bet.Escrow, domain.WalletAccount(*bet.Winner), split.Payout); err != nil {
			return err
		}
		if err := ledger.CloseEscrow(ctx, bet.Escrow); err != nil {
			return err
		}
		if err := tx.Bets().Delete(ctx, id); err != nil {
			return err
		}

		res = ClaimResult{
			BetID:      id,
			Winner:     *bet.Winner,
			FeeClaimer: m.FeeClaimer,
			Escrowed:   balance,
			Fee:        split.Fee,
			Payout:     split.Payout,
		}
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return ClaimResult{}, err
	}

	e.observer.AddFees(res.Fee)
	e.logger.InfoContext(ctx, "engine: funds claimed",
		slog.String("bet", id.String()),
		slog.String("winner", res.Winner.Hex()),
		slog.Uint64("fee", res.Fee),
		slog.Uint64("payout", res.Payout),
	)
	e.publish(ctx, domain.BetEvent{Type: domain.EventBetClaimed, MarketID: id.Market, BetID: id, Actor: caller, Amount: res.Payout, Fee: res.Fee})
	return res, nil
}

// CloseResult reports the refund of a closed bet.
type CloseResult struct {
	BetID  domain.BetID   `json:"bet_id"`
	Better common.Address `json:"better"`
	Refund uint64         `json:"refund"`
}

// CloseBet refunds the escrow of an unmatched bet to its better and removes
// the escrow and the bet. Only the better or the admin may close.
func (e *Engine) CloseBet(ctx context.Context, caller common.Address, id domain.BetID) (CloseResult, error) {
	var res CloseResult
	err := e.run(ctx, "close_bet", id.Market, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, id.Market)
		if err != nil {
			return err
		}
		bet, err := tx.Bets().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := bet.CanClose(caller, e.admin); err != nil {
			return err
		}

		ledger := tx.Ledger()
		balance, err := ledger.Balance(ctx, bet.Escrow)
		if err != nil {
			return err
		}
		var expected uint64
		if bet.IsFunded {
			expected = bet.Amount
		}
		if balance != expected {
			return domain.ErrEscrowMismatch.WithDetail("escrow %d, expected %d", balance, expected)
		}

		if bet.IsFunded {
			if err := m.RecordClose(bet.Amount); err != nil {
				return err
			}
		}
		if balance > 0 {
			if err := ledger.Transfer(ctx, bet.Escrow, domain.WalletAccount(bet.Better), balance); err != nil {
				return err
			}
		}
		if err := ledger.CloseEscrow(ctx, bet.Escrow); err != nil {
			return err
		}
		if err := tx.Bets().Delete(ctx, id); err != nil {
			return err
		}

		res = CloseResult{BetID: id, Better: bet.Better, Refund: balance}
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return CloseResult{}, err
	}

	e.logger.InfoContext(ctx, "engine: bet closed",
		slog.String("bet", id.String()),
		slog.String("closer", caller.Hex()),
		slog.Uint64("refund", res.Refund),
	)
	e.publish(ctx, domain.BetEvent{Type: domain.EventBetClosed, MarketID: id.Market, BetID: id, Actor: caller, Amount: res.Refund})
	return res, nil
}
