package engine

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/oracle"
)

// BetterWins applies the winner rule. A price equal to the threshold goes to
// the matcher in both directions.
func BetterWins(dir domain.Direction, price, threshold uint64) bool {
	switch dir {
	case domain.DirectionAbove:
		return price > threshold
	case domain.DirectionBelow:
		return price < threshold
	}
	return false
}

// DecideWinner returns the winning identity of a matched bet at price.
func DecideWinner(b domain.Bet, price uint64) (common.Address, error) {
	if b.Matcher == nil {
		return common.Address{}, domain.ErrBetNotMatched
	}
	if !b.Direction.Valid() {
		return common.Address{}, domain.ErrInvalidDirection
	}
	if BetterWins(b.Direction, price, b.PriceThreshold) {
		return b.Better, nil
	}
	return *b.Matcher, nil
}

// SettleBet reads the oracle once and records the winner. Any caller may
// trigger settlement; a stale or unavailable reading fails the attempt.
func (e *Engine) SettleBet(ctx context.Context, caller common.Address, id domain.BetID) (domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	err := e.run(ctx, "settle_bet", id.Market, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, id.Market)
		if err != nil {
			return err
		}
		bet, err := tx.Bets().Get(ctx, id)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := bet.CanSettle(now); err != nil {
			return err
		}

		reading, err := e.oracle.GetPrice(ctx, m.FeedID, e.policy.MaxStaleness)
		if err != nil {
			return err
		}
		winner, err := DecideWinner(bet, reading.Normalized)
		if err != nil {
			return err
		}
		if err := m.RecordSettle(); err != nil {
			return err
		}
		bet.MarkSettled(winner)

		rec = domain.SettlementRecord{
			BetID:       bet.ID,
			MarketID:    m.ID,
			AssetName:   m.AssetName.String(),
			FeedID:      m.FeedID,
			RawPrice:    reading.Price,
			Exponent:    reading.Expo,
			PublishTime: reading.PublishTime,
			Price:       reading.Normalized,
			Threshold:   bet.PriceThreshold,
			Direction:   bet.Direction,
			Better:      bet.Better,
			Matcher:     *bet.Matcher,
			Winner:      winner,
			SettledAt:   now,
		}
		if err := tx.Bets().Update(ctx, bet); err != nil {
			return err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return err
		}
		return tx.Settlements().Append(ctx, rec)
	})
	if err != nil {
		return domain.SettlementRecord{}, err
	}

	e.observer.ObserveSettlement(rec.Direction, rec.Winner == rec.Better)
	e.logger.InfoContext(ctx, "engine: bet settled",
		slog.String("bet", id.String()),
		slog.String("asset", rec.AssetName),
		slog.Uint64("price", rec.Price),
		slog.Uint64("threshold", rec.Threshold),
		slog.String("direction", rec.Direction.String()),
		slog.String("winner", rec.Winner.Hex()),
	)
	r := rec
	e.publish(ctx, domain.BetEvent{Type: domain.EventBetSettled, MarketID: id.Market, BetID: id, Actor: caller, Settlement: &r, At: rec.SettledAt})
	return rec, nil
}

// VerifySettlement recomputes a record's normalized price and winner from its
// stored inputs.
func VerifySettlement(rec domain.SettlementRecord) error {
	price, err := oracle.Normalize(rec.RawPrice, rec.Exponent)
	if err != nil {
		return err
	}
	if price != rec.Price {
		return domain.ErrSettlementMismatch.WithDetail("bet %s: price %d, recomputed %d", rec.BetID, rec.Price, price)
	}
	want := rec.Matcher
	if BetterWins(rec.Direction, price, rec.Threshold) {
		want = rec.Better
	}
	if want != rec.Winner {
		return domain.ErrSettlementMismatch.WithDetail("bet %s: winner %s, recomputed %s", rec.BetID, rec.Winner.Hex(), want.Hex())
	}
	return nil
}
