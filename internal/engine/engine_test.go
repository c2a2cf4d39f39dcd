package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/oracle"
	"github.com/alanyoungcy/friendbet/internal/store/memory"
)

var (
	admin      = common.HexToAddress("0x00000000000000000000000000000000000ad111")
	feeClaimer = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	mallory    = common.HexToAddress("0x000000000000000000000000000000000000bad0")

	btcFeed = domain.FeedID{0xe6, 0x2d, 0xf6, 0xc8, 0xb4, 0xa8, 0x5f, 0xe1, 0xa6}
)

const (
	startBalance = 100_000_000
	stake        = 10_000_000
	threshold    = 50_000
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// priceSource serves a quote published "now" at the given display price
// with an exponent of -8, unless overridden.
type priceSource struct {
	mu    sync.Mutex
	clock *clock
	price int64
	age   time.Duration
	feed  *domain.FeedID
	err   error
}

func (p *priceSource) Set(displayPrice int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price = displayPrice * 100_000_000
}

func (p *priceSource) Latest(_ context.Context, feed domain.FeedID) (domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.Quote{}, p.err
	}
	if p.feed != nil {
		feed = *p.feed
	}
	return domain.Quote{FeedID: feed, Price: p.price, Expo: -8, PublishTime: p.clock.Now().Add(-p.age)}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.BetEvent
}

func (r *recorder) Publish(_ context.Context, ev domain.BetEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	eng    *Engine
	store  *memory.Store
	clock  *clock
	source *priceSource
	events *recorder
	market domain.Market
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0).UTC()}
	src := &priceSource{clock: clk}
	st := memory.New()
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := New(st, oracle.NewAdapter(src, clk.Now), admin, DefaultPolicy(), logger,
		WithClock(clk.Now), WithPublisher(rec))

	for _, who := range []common.Address{admin, alice, bob} {
		require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return tx.Ledger().Credit(ctx, domain.WalletAccount(who), startBalance)
		}))
	}

	m, err := eng.InitializeMarket(ctx, admin, InitializeMarketRequest{
		AssetName:  "BTC/USD",
		FeeClaimer: feeClaimer,
		FeedID:     btcFeed,
	})
	require.NoError(t, err)

	return &fixture{t: t, ctx: ctx, eng: eng, store: st, clock: clk, source: src, events: rec, market: m}
}

func (f *fixture) terms(dir domain.Direction) BetTerms {
	return BetTerms{
		Amount:         stake,
		PriceThreshold: threshold,
		Direction:      dir,
		SettlementTime: f.clock.Now().Add(2 * time.Hour),
	}
}

func (f *fixture) matchedBet(dir domain.Direction) domain.Bet {
	f.t.Helper()
	b, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(dir))
	require.NoError(f.t, err)
	b, err = f.eng.MatchBet(f.ctx, bob, b.ID)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) balance(acct domain.AccountID) uint64 {
	f.t.Helper()
	bal, err := f.store.Balance(f.ctx, acct)
	require.NoError(f.t, err)
	return bal
}

func (f *fixture) wallet(who common.Address) uint64 {
	return f.balance(domain.WalletAccount(who))
}

func (f *fixture) marketState() domain.Market {
	f.t.Helper()
	m, err := f.store.GetMarket(f.ctx, f.market.ID)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) totalSupply() uint64 {
	f.t.Helper()
	var sum uint64
	for _, who := range []common.Address{admin, alice, bob, feeClaimer, mallory} {
		sum += f.wallet(who)
	}
	bets, err := f.store.ListBets(f.ctx, f.market.ID, domain.ListOpts{})
	require.NoError(f.t, err)
	for _, b := range bets {
		sum += f.balance(b.Escrow)
	}
	return sum
}

func TestEndToEndBetterWins(t *testing.T) {
	f := newFixture(t)
	supply := f.totalSupply()

	bet := f.matchedBet(domain.DirectionAbove)
	assert.Equal(t, uint64(2*stake), f.balance(bet.Escrow))
	assert.Equal(t, uint64(2*stake), f.marketState().TotalVolume)

	f.clock.Advance(2 * time.Hour)
	f.source.Set(60_000)

	rec, err := f.eng.SettleBet(f.ctx, mallory, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, rec.Winner)
	assert.Equal(t, uint64(60_000), rec.Price)
	assert.Equal(t, "BTC/USD", rec.AssetName)
	require.NoError(t, VerifySettlement(rec))

	_, err = f.eng.ClaimFunds(f.ctx, bob, bet.ID)
	require.ErrorIs(t, err, domain.ErrNotWinner)

	res, err := f.eng.ClaimFunds(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), res.Escrowed)
	assert.Equal(t, uint64(600_000), res.Fee)
	assert.Equal(t, uint64(19_400_000), res.Payout)

	assert.Equal(t, uint64(startBalance-stake+19_400_000), f.wallet(alice))
	assert.Equal(t, uint64(startBalance-stake), f.wallet(bob))
	assert.Equal(t, uint64(600_000), f.wallet(feeClaimer))

	m := f.marketState()
	assert.Equal(t, uint64(600_000), m.TotalFeesCollected)
	assert.Equal(t, uint64(1), m.TotalMatchedCount)
	assert.Equal(t, uint64(1), m.TotalSettledCount)

	_, err = f.store.GetBet(f.ctx, bet.ID)
	assert.ErrorIs(t, err, domain.ErrBetNotFound)
	_, err = f.store.Balance(f.ctx, bet.Escrow)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Equal(t, supply, f.totalSupply())

	assert.Equal(t, []domain.EventType{
		domain.EventMarketInitialized,
		domain.EventBetCreated,
		domain.EventBetMatched,
		domain.EventBetSettled,
		domain.EventBetClaimed,
	}, f.events.types())
}

func TestEndToEndMatcherWins(t *testing.T) {
	f := newFixture(t)
	bet := f.matchedBet(domain.DirectionAbove)

	f.clock.Advance(2 * time.Hour)
	f.source.Set(40_000)

	rec, err := f.eng.SettleBet(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, bob, rec.Winner)

	res, err := f.eng.ClaimFunds(f.ctx, bob, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(600_000), res.Fee)
	assert.Equal(t, uint64(19_400_000), res.Payout)
	assert.Equal(t, uint64(startBalance-stake+19_400_000), f.wallet(bob))

	_, err = f.eng.ClaimFunds(f.ctx, bob, bet.ID)
	assert.ErrorIs(t, err, domain.ErrBetNotFound)
}

func TestSettlementWinnerRule(t *testing.T) {
	tests := []struct {
		dir    domain.Direction
		price  int64
		winner common.Address
	}{
		{domain.DirectionAbove, 60_000, alice},
		{domain.DirectionAbove, 50_000, bob},
		{domain.DirectionAbove, 40_000, bob},
		{domain.DirectionBelow, 40_000, alice},
		{domain.DirectionBelow, 50_000, bob},
		{domain.DirectionBelow, 60_000, bob},
	}
	for _, tt := range tests {
		t.Run(tt.dir.String(), func(t *testing.T) {
			f := newFixture(t)
			bet := f.matchedBet(tt.dir)
			f.clock.Advance(2 * time.Hour)
			f.source.Set(tt.price)

			rec, err := f.eng.SettleBet(f.ctx, alice, bet.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.winner, rec.Winner, "price %d", tt.price)

			got, err := f.store.GetBet(f.ctx, bet.ID)
			require.NoError(t, err)
			assert.True(t, got.IsSettled)
			assert.Equal(t, tt.winner, *got.Winner)
		})
	}
}

func TestSettleGuards(t *testing.T) {
	f := newFixture(t)
	bet := f.matchedBet(domain.DirectionAbove)
	f.source.Set(60_000)

	f.clock.Advance(2*time.Hour - time.Second)
	_, err := f.eng.SettleBet(f.ctx, alice, bet.ID)
	require.ErrorIs(t, err, domain.ErrSettlementTimeTooEarly)

	f.clock.Advance(time.Second)
	f.source.age = 61 * time.Second
	_, err = f.eng.SettleBet(f.ctx, alice, bet.ID)
	require.ErrorIs(t, err, domain.ErrOracleStale)
	assert.Equal(t, domain.KindOracle, domain.KindOf(err))

	other := domain.FeedID{0x01}
	f.source.age = 0
	f.source.feed = &other
	_, err = f.eng.SettleBet(f.ctx, alice, bet.ID)
	require.ErrorIs(t, err, domain.ErrFeedMismatch)

	// Failed attempts leave no trace.
	got, err := f.store.GetBet(f.ctx, bet.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSettled)
	assert.Nil(t, got.Winner)
	assert.Zero(t, f.marketState().TotalSettledCount)
	recs, err := f.store.ListSettlements(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	// The caller retries once the feed is fresh.
	f.source.feed = nil
	_, err = f.eng.SettleBet(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	_, err = f.eng.SettleBet(f.ctx, alice, bet.ID)
	require.ErrorIs(t, err, domain.ErrBetAlreadySettled)

	unmatched, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionAbove))
	require.NoError(t, err)
	_, err = f.eng.SettleBet(f.ctx, alice, unmatched.ID)
	require.ErrorIs(t, err, domain.ErrBetNotMatched)
}

func TestMatchTwiceLeavesBetUnchanged(t *testing.T) {
	f := newFixture(t)
	bet := f.matchedBet(domain.DirectionAbove)
	before, err := f.store.GetBet(f.ctx, bet.ID)
	require.NoError(t, err)
	volume := f.marketState().TotalVolume

	_, err = f.eng.MatchBet(f.ctx, mallory, bet.ID)
	require.ErrorIs(t, err, domain.ErrBetAlreadyMatched)
	assert.Equal(t, domain.KindState, domain.KindOf(err))

	f.clock.Advance(2 * time.Hour)
	f.source.Set(60_000)
	_, err = f.eng.SettleBet(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	_, err = f.eng.MatchBet(f.ctx, mallory, bet.ID)
	require.ErrorIs(t, err, domain.ErrBetAlreadyMatched)

	after, err := f.store.GetBet(f.ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, *before.Matcher, *after.Matcher)
	assert.Equal(t, before.Amount, after.Amount)
	assert.Equal(t, volume, f.marketState().TotalVolume)
}

func TestMatchAfterSettlementTimeExpires(t *testing.T) {
	f := newFixture(t)
	bet, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionAbove))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	_, err = f.eng.MatchBet(f.ctx, bob, bet.ID)
	require.ErrorIs(t, err, domain.ErrBetExpired)
}

func TestCloseUnmatchedRefunds(t *testing.T) {
	f := newFixture(t)
	supply := f.totalSupply()

	bet, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionAbove))
	require.NoError(t, err)
	assert.Equal(t, uint64(stake), f.marketState().TotalVolume)
	assert.Equal(t, uint64(startBalance-stake), f.wallet(alice))

	_, err = f.eng.CloseBet(f.ctx, mallory, bet.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorizedCloser)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	res, err := f.eng.CloseBet(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(stake), res.Refund)
	assert.Equal(t, uint64(startBalance), f.wallet(alice))
	assert.Zero(t, f.marketState().TotalVolume)

	_, err = f.store.GetBet(f.ctx, bet.ID)
	assert.ErrorIs(t, err, domain.ErrBetNotFound)
	_, err = f.store.Balance(f.ctx, bet.Escrow)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Equal(t, supply, f.totalSupply())
}

func TestCloseByAdminAndAfterMatch(t *testing.T) {
	f := newFixture(t)
	bet, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionBelow))
	require.NoError(t, err)
	res, err := f.eng.CloseBet(f.ctx, admin, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, res.Better)
	assert.Equal(t, uint64(startBalance), f.wallet(alice))

	matched := f.matchedBet(domain.DirectionAbove)
	_, err = f.eng.CloseBet(f.ctx, alice, matched.ID)
	require.ErrorIs(t, err, domain.ErrBetAlreadyMatched)
	_, err = f.eng.CloseBet(f.ctx, admin, matched.ID)
	require.ErrorIs(t, err, domain.ErrBetAlreadyMatched)
}

func TestCreateBetValidation(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	tests := []struct {
		name   string
		mutate func(*BetTerms)
		want   error
	}{
		{"settlement in past", func(b *BetTerms) { b.SettlementTime = now.Add(-time.Second) }, domain.ErrInvalidSettlementTime},
		{"settlement now", func(b *BetTerms) { b.SettlementTime = now }, domain.ErrInvalidSettlementTime},
		{"settlement too close", func(b *BetTerms) { b.SettlementTime = now.Add(time.Hour - time.Second) }, domain.ErrSettlementTimeTooClose},
		{"stake at minimum", func(b *BetTerms) { b.Amount = 1_000_000 }, domain.ErrInvalidBetAmount},
		{"zero threshold", func(b *BetTerms) { b.PriceThreshold = 0 }, domain.ErrInvalidPriceThreshold},
		{"no direction", func(b *BetTerms) { b.Direction = 0 }, domain.ErrInvalidDirection},
		{"lead time exactly one hour", func(b *BetTerms) { b.SettlementTime = now.Add(time.Hour) }, nil},
		{"stake just above minimum", func(b *BetTerms) { b.Amount = 1_000_001 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := f.terms(domain.DirectionAbove)
			tt.mutate(&terms)
			_, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, terms)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}

	tooClose := f.terms(domain.DirectionAbove)
	tooClose.SettlementTime = now.Add(10 * time.Minute)
	_, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, tooClose)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Contains(t, de.Detail, "attempted")
	assert.Contains(t, de.Detail, "required")
}

func TestCreateBetWithoutFundsIsAtomic(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.CreateBet(f.ctx, mallory, f.market.ID, f.terms(domain.DirectionAbove))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	m := f.marketState()
	assert.Zero(t, m.BetCount)
	assert.Zero(t, m.TotalVolume)
	_, err = f.store.Balance(f.ctx, domain.EscrowAccount(domain.BetID{Market: m.ID, Seq: 1}))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = f.eng.CreateBet(f.ctx, alice, "0000000000000000", f.terms(domain.DirectionAbove))
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestBetSequenceNumbers(t *testing.T) {
	f := newFixture(t)
	for i := uint64(1); i <= 3; i++ {
		b, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionAbove))
		require.NoError(t, err)
		assert.Equal(t, i, b.ID.Seq)
		assert.Equal(t, domain.EscrowAccount(b.ID), b.Escrow)
	}
	assert.Equal(t, uint64(3), f.marketState().BetCount)
}

func TestCreateBetForUserDeferredFunding(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateBetForUser(f.ctx, alice, f.market.ID, f.terms(domain.DirectionAbove), bob, true)
	require.ErrorIs(t, err, domain.ErrOnlyAdmin)

	bet, err := f.eng.CreateBetForUser(f.ctx, admin, f.market.ID, f.terms(domain.DirectionAbove), alice, false)
	require.NoError(t, err)
	assert.True(t, bet.CreatedByAdmin)
	assert.False(t, bet.IsFunded)
	assert.Equal(t, alice, bet.Better)
	assert.Zero(t, f.marketState().TotalVolume)
	assert.Zero(t, f.balance(bet.Escrow))

	_, err = f.eng.MatchBet(f.ctx, bob, bet.ID)
	require.ErrorIs(t, err, domain.ErrBetNotFunded)

	_, err = f.eng.FundBet(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(stake), f.marketState().TotalVolume)
	assert.Equal(t, uint64(stake), f.balance(bet.Escrow))

	_, err = f.eng.FundBet(f.ctx, alice, bet.ID)
	require.ErrorIs(t, err, domain.ErrBetAlreadyFunded)

	_, err = f.eng.MatchBet(f.ctx, bob, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*stake), f.marketState().TotalVolume)
}

func TestCreateBetForUserFundedByAdmin(t *testing.T) {
	f := newFixture(t)
	bet, err := f.eng.CreateBetForUser(f.ctx, admin, f.market.ID, f.terms(domain.DirectionBelow), alice, true)
	require.NoError(t, err)
	assert.True(t, bet.IsFunded)
	assert.Equal(t, uint64(startBalance-stake), f.wallet(admin))
	assert.Equal(t, uint64(startBalance), f.wallet(alice))
	assert.Equal(t, uint64(stake), f.marketState().TotalVolume)

	// The refund goes to the beneficiary.
	_, err = f.eng.CloseBet(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(startBalance+stake), f.wallet(alice))
}

func TestCloseUnfundedBetLeavesVolume(t *testing.T) {
	f := newFixture(t)
	funded, err := f.eng.CreateBet(f.ctx, bob, f.market.ID, f.terms(domain.DirectionAbove))
	require.NoError(t, err)
	bet, err := f.eng.CreateBetForUser(f.ctx, admin, f.market.ID, f.terms(domain.DirectionAbove), alice, false)
	require.NoError(t, err)

	res, err := f.eng.CloseBet(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Refund)
	assert.Equal(t, funded.Amount, f.marketState().TotalVolume)
}

func TestVolumeTracksOpenStake(t *testing.T) {
	f := newFixture(t)
	a, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionAbove))
	require.NoError(t, err)
	b, err := f.eng.CreateBet(f.ctx, bob, f.market.ID, f.terms(domain.DirectionBelow))
	require.NoError(t, err)
	_, err = f.eng.MatchBet(f.ctx, bob, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3*stake), f.marketState().TotalVolume)

	_, err = f.eng.CloseBet(f.ctx, bob, b.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*stake), f.marketState().TotalVolume)

	f.clock.Advance(2 * time.Hour)
	f.source.Set(70_000)
	_, err = f.eng.SettleBet(f.ctx, bob, a.ID)
	require.NoError(t, err)
	_, err = f.eng.ClaimFunds(f.ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*stake), f.marketState().TotalVolume, "settle and claim leave volume alone")
}

func TestInitializeMarket(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, btcFeed.MarketID(), f.market.ID)
	assert.Equal(t, admin, f.market.Authority)

	_, err := f.eng.InitializeMarket(f.ctx, alice, InitializeMarketRequest{AssetName: "ETH", FeedID: domain.FeedID{7}})
	require.ErrorIs(t, err, domain.ErrOnlyAdmin)

	_, err = f.eng.InitializeMarket(f.ctx, admin, InitializeMarketRequest{AssetName: "dup", FeedID: btcFeed})
	require.ErrorIs(t, err, domain.ErrMarketExists)

	_, err = f.eng.InitializeMarket(f.ctx, admin, InitializeMarketRequest{AssetName: "zero"})
	require.ErrorIs(t, err, domain.ErrInvalidFeedID)
}

func TestConcurrentMatchOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	bet, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionAbove))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.eng.MatchBet(f.ctx, bob, bet.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, uint64(startBalance-stake), f.wallet(bob))
	assert.Equal(t, uint64(2*stake), f.balance(bet.Escrow))
}

func TestSplitFee(t *testing.T) {
	for _, bal := range []uint64{0, 1, 33, 99, 100, 2_000_001, 20_000_000, 1<<63 / 3} {
		s, err := SplitFee(bal, 3, 100)
		require.NoError(t, err)
		assert.Equal(t, bal, s.Fee+s.Payout)
		assert.Equal(t, bal*3/100, s.Fee)
	}

	_, err := SplitFee(1<<63, 3, 100)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	_, err = SplitFee(100, 3, 0)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	_, err = SplitFee(100, 101, 100)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestVerifySettlementDetectsTampering(t *testing.T) {
	rec := domain.SettlementRecord{
		BetID:     domain.BetID{Market: "m", Seq: 1},
		RawPrice:  6_000_000_000_000,
		Exponent:  -8,
		Price:     60_000,
		Threshold: 50_000,
		Direction: domain.DirectionAbove,
		Better:    alice,
		Matcher:   bob,
		Winner:    alice,
	}
	require.NoError(t, VerifySettlement(rec))

	tampered := rec
	tampered.Winner = bob
	assert.ErrorIs(t, VerifySettlement(tampered), domain.ErrSettlementMismatch)

	tampered = rec
	tampered.Price = 50_000
	assert.ErrorIs(t, VerifySettlement(tampered), domain.ErrSettlementMismatch)
}

// expiredLocks never excludes, like a Redis lock whose TTL ran out while
// its holder was still working.
type expiredLocks struct{}

func (expiredLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// gatedSource blocks each read until release is closed.
type gatedSource struct {
	*priceSource
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Latest(ctx context.Context, feed domain.FeedID) (domain.Quote, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.priceSource.Latest(ctx, feed)
}

func TestSettleLosingLockRefusesStaleCommit(t *testing.T) {
	f := newFixture(t)
	bet := f.matchedBet(domain.DirectionAbove)
	f.source.Set(60_000)
	f.clock.Advance(2 * time.Hour)

	gated := &gatedSource{priceSource: f.source, entered: make(chan struct{}, 1), release: make(chan struct{})}
	slow := New(f.store, oracle.NewAdapter(gated, f.clock.Now), admin, DefaultPolicy(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(f.clock.Now), WithLocks(expiredLocks{}, time.Minute))

	settled := make(chan error, 1)
	go func() {
		_, err := slow.SettleBet(f.ctx, alice, bet.ID)
		settled <- err
	}()
	<-gated.entered

	second, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionBelow))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.ID.Seq)

	close(gated.release)
	err = <-settled
	require.ErrorIs(t, err, domain.ErrConflict)

	m := f.marketState()
	assert.Equal(t, uint64(2), m.BetCount)
	assert.Equal(t, uint64(3*stake), m.TotalVolume)
	assert.Zero(t, m.TotalSettledCount)

	// Retrying on the fresh state settles and later bets keep numbering.
	_, err = f.eng.SettleBet(f.ctx, alice, bet.ID)
	require.NoError(t, err)
	third, err := f.eng.CreateBet(f.ctx, alice, f.market.ID, f.terms(domain.DirectionAbove))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), third.ID.Seq)
	assert.Equal(t, uint64(1), f.marketState().TotalSettledCount)
}
