package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// BetTerms is the wager condition proposed by a better.
type BetTerms struct {
	Amount         uint64
	PriceThreshold uint64
	Direction      domain.Direction
	SettlementTime time.Time
}

func (e *Engine) validateTerms(t BetTerms, now time.Time) error {
	st := t.SettlementTime.Unix()
	if st <= now.Unix() {
		return domain.ErrInvalidSettlementTime.WithDetail("attempted %d, now %d", st, now.Unix())
	}
	required := now.Add(e.policy.MinLeadTime).Unix()
	if st < required {
		return domain.ErrSettlementTimeTooClose.WithDetail("attempted %d, required >= %d", st, required)
	}
	if t.Amount <= e.policy.MinStake {
		return domain.ErrInvalidBetAmount.WithDetail("amount %d, must exceed %d", t.Amount, e.policy.MinStake)
	}
	if t.PriceThreshold == 0 {
		return domain.ErrInvalidPriceThreshold.WithDetail("threshold must be positive")
	}
	if !t.Direction.Valid() {
		return domain.ErrInvalidDirection
	}
	return nil
}

// CreateBet opens a bet for caller and escrows the stake from caller's wallet.
func (e *Engine) CreateBet(ctx context.Context, caller common.Address, market domain.MarketID, terms BetTerms) (domain.Bet, error) {
	return e.createBet(ctx, "create_bet", caller, caller, market, terms, true, false)
}

// CreateBetForUser opens a bet on behalf of beneficiary. Admin only. When
// fundImmediately is set the admin's wallet supplies the stake; otherwise the
// bet waits for FundBet.
func (e *Engine) CreateBetForUser(ctx context.Context, caller common.Address, market domain.MarketID, terms BetTerms, beneficiary common.Address, fundImmediately bool) (domain.Bet, error) {
	const op = "create_bet_for_user"
	if err := e.requireAdmin(caller); err != nil {
		e.observer.ObserveOperation(op, err)
		return domain.Bet{}, err
	}
	return e.createBet(ctx, op, caller, beneficiary, market, terms, fundImmediately, true)
}

func (e *Engine) createBet(ctx context.Context, op string, funder, better common.Address, marketID domain.MarketID, terms BetTerms, fund, byAdmin bool) (domain.Bet, error) {
	now := e.clock()
	if err := e.validateTerms(terms, now); err != nil {
		e.observer.ObserveOperation(op, err)
		return domain.Bet{}, err
	}

	var bet domain.Bet
	err := e.run(ctx, op, marketID, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			return err
		}
		seq, err := m.RecordBet()
		if err != nil {
			return err
		}

		id := domain.BetID{Market: m.ID, Seq: seq}
		bet = domain.Bet{
			ID:             id,
			Better:         better,
			Amount:         terms.Amount,
			PriceThreshold: terms.PriceThreshold,
			Direction:      terms.Direction,
			SettlementTime: time.Unix(terms.SettlementTime.Unix(), 0).UTC(),
			CreatedByAdmin: byAdmin,
			Escrow:         domain.EscrowAccount(id),
			CreatedAt:      now,
		}

		if err := tx.Ledger().OpenEscrow(ctx, bet.Escrow); err != nil {
			return err
		}
		if fund {
			if err := tx.Ledger().Transfer(ctx, domain.WalletAccount(funder), bet.Escrow, bet.Amount); err != nil {
				return err
			}
			if err := m.RecordFund(bet.Amount); err != nil {
				return err
			}
			bet.MarkFunded()
		}

		if err := tx.Bets().Insert(ctx, bet); err != nil {
			return err
		}
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return domain.Bet{}, err
	}

	e.logger.InfoContext(ctx, "engine: bet created",
		slog.String("bet", bet.ID.String()),
		slog.String("better", bet.Better.Hex()),
		slog.Uint64("amount", bet.Amount),
		slog.Uint64("threshold", bet.PriceThreshold),
		slog.String("direction", bet.Direction.String()),
		slog.Bool("funded", bet.IsFunded),
	)
	ev := domain.BetEvent{Type: domain.EventBetCreated, MarketID: marketID, BetID: bet.ID, Actor: funder}
	if bet.IsFunded {
		ev.Amount = bet.Amount
	}
	e.publish(ctx, ev)
	return bet, nil
}

// FundBet escrows the stake of a bet whose funding was deferred. The caller's
// wallet supplies the funds.
func (e *Engine) FundBet(ctx context.Context, caller common.Address, id domain.BetID) (domain.Bet, error) {
	var bet domain.Bet
	err := e.run(ctx, "fund_bet", id.Market, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, id.Market)
		if err != nil {
			return err
		}
		bet, err = tx.Bets().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := bet.CanFund(e.clock()); err != nil {
			return err
		}
		if err := m.RecordFund(bet.Amount); err != nil {
			return err
		}
		if err := tx.Ledger().Transfer(ctx, domain.WalletAccount(caller), bet.Escrow, bet.Amount); err != nil {
			return err
		}
		bet.MarkFunded()
		if err := tx.Bets().Update(ctx, bet); err != nil {
			return err
		}
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return domain.Bet{}, err
	}

	e.logger.InfoContext(ctx, "engine: bet funded",
		slog.String("bet", id.String()),
		slog.String("funder", caller.Hex()),
		slog.Uint64("amount", bet.Amount),
	)
	e.publish(ctx, domain.BetEvent{Type: domain.EventBetFunded, MarketID: id.Market, BetID: id, Actor: caller, Amount: bet.Amount})
	return bet, nil
}

// MatchBet takes the other side of a funded bet; caller stakes an equal amount.
func (e *Engine) MatchBet(ctx context.Context, caller common.Address, id domain.BetID) (domain.Bet, error) {
	var bet domain.Bet
	err := e.run(ctx, "match_bet", id.Market, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, id.Market)
		if err != nil {
			return err
		}
		bet, err = tx.Bets().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := bet.CanMatch(e.clock()); err != nil {
			return err
		}
		if err := m.RecordMatch(bet.Amount); err != nil {
			return err
		}
		if err := tx.Ledger().Transfer(ctx, domain.WalletAccount(caller), bet.Escrow, bet.Amount); err != nil {
			return err
		}
		bet.MarkMatched(caller)
		if err := tx.Bets().Update(ctx, bet); err != nil {
			return err
		}
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return domain.Bet{}, err
	}

	e.logger.InfoContext(ctx, "engine: bet matched",
		slog.String("bet", id.String()),
		slog.String("matcher", caller.Hex()),
		slog.Uint64("amount", bet.Amount),
	)
	e.publish(ctx, domain.BetEvent{Type: domain.EventBetMatched, MarketID: id.Market, BetID: id, Actor: caller, Amount: bet.Amount})
	return bet, nil
}
