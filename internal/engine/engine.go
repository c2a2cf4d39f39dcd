// Package engine runs the bet lifecycle: every operation validates its
// guards, moves funds through the ledger and updates market counters inside
// a single transaction, then publishes an event once committed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// Policy holds the tunable limits of the wager.
type Policy struct {
	// MinStake is exclusive: a stake must be strictly greater.
	MinStake     uint64
	MinLeadTime  time.Duration
	MaxStaleness time.Duration

	FeeNumerator   uint64
	FeeDenominator uint64
}

// DefaultPolicy is 1 USDC minimum stake, one hour lead time, 60 second
// oracle staleness and a 3% fee.
func DefaultPolicy() Policy {
	return Policy{
		MinStake:       1_000_000,
		MinLeadTime:    time.Hour,
		MaxStaleness:   60 * time.Second,
		FeeNumerator:   3,
		FeeDenominator: 100,
	}
}

// Observer receives operation outcomes, e.g. for metrics.
type Observer interface {
	ObserveOperation(op string, err error)
	ObserveSettlement(dir domain.Direction, betterWon bool)
	AddFees(fee uint64)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, error)            {}
func (nopObserver) ObserveSettlement(domain.Direction, bool) {}
func (nopObserver) AddFees(uint64)                           {}

const lockRetry = 25 * time.Millisecond

// Engine executes lifecycle operations.
type Engine struct {
	store     domain.TxRunner
	oracle    domain.Oracle
	locks     domain.LockManager
	publisher domain.EventPublisher
	observer  Observer
	admin     common.Address
	policy    Policy
	now       func() time.Time
	lockTTL   time.Duration
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithPublisher sets where committed events go.
func WithPublisher(p domain.EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

// WithLocks replaces the in-process market locks, e.g. with a Redis lock
// shared by several instances.
func WithLocks(l domain.LockManager, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locks = l
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithObserver reports operation outcomes to o.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// New creates an Engine. admin is the identity allowed to run admin-only
// operations and to close any unmatched bet.
func New(store domain.TxRunner, oracle domain.Oracle, admin common.Address, policy Policy, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		oracle:   oracle,
		locks:    NewLocalLocks(),
		observer: nopObserver{},
		admin:    admin,
		policy:   policy,
		now:      time.Now,
		lockTTL:  30 * time.Second,
		logger:   logger.With(slog.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Admin returns the configured admin identity.
func (e *Engine) Admin() common.Address { return e.admin }

// Policy returns the active policy.
func (e *Engine) Policy() Policy { return e.policy }

// clock returns the current time in whole seconds.
func (e *Engine) clock() time.Time { return time.Unix(e.now().Unix(), 0).UTC() }

// run holds the market lock and executes fn in one transaction. The
// transaction must finish within the lock TTL; a commit that races an
// expired lock is refused by the store with domain.ErrConflict.
func (e *Engine) run(ctx context.Context, op string, market domain.MarketID, fn func(ctx context.Context, tx domain.Tx) error) error {
	unlock, err := e.acquire(ctx, "market:"+string(market))
	if err != nil {
		err = fmt.Errorf("engine: %s: lock market %s: %w", op, market, err)
		e.observer.ObserveOperation(op, err)
		return err
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, e.lockTTL)
	defer cancel()
	err = e.store.InTx(ctx, fn)
	e.observer.ObserveOperation(op, err)
	return err
}

func (e *Engine) acquire(ctx context.Context, key string) (func(), error) {
	for {
		unlock, err := e.locks.Acquire(ctx, key, e.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}

func (e *Engine) publish(ctx context.Context, ev domain.BetEvent) {
	if e.publisher == nil {
		return
	}
	ev.ID = uuid.NewString()
	if ev.At.IsZero() {
		ev.At = e.clock()
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "engine: publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("bet", ev.BetID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.admin {
		return domain.ErrOnlyAdmin.WithDetail("caller %s", caller.Hex())
	}
	return nil
}

// InitializeMarketRequest describes a new market.
type InitializeMarketRequest struct {
	AssetName  string
	FeeClaimer common.Address
	FeedID     domain.FeedID
}

// InitializeMarket registers a market for a feed. Admin only.
func (e *Engine) InitializeMarket(ctx context.Context, caller common.Address, req InitializeMarketRequest) (domain.Market, error) {
	const op = "initialize_market"
	if err := e.requireAdmin(caller); err != nil {
		e.observer.ObserveOperation(op, err)
		return domain.Market{}, err
	}
	if req.FeedID.IsZero() {
		err := domain.ErrInvalidFeedID.WithDetail("feed id is zero")
		e.observer.ObserveOperation(op, err)
		return domain.Market{}, err
	}

	m := domain.NewMarket(caller, req.FeeClaimer, req.AssetName, req.FeedID, e.clock())
	err := e.run(ctx, op, m.ID, func(ctx context.Context, tx domain.Tx) error {
		return tx.Markets().Insert(ctx, m)
	})
	if err != nil {
		return domain.Market{}, err
	}

	e.logger.InfoContext(ctx, "engine: market initialized",
		slog.String("market", string(m.ID)),
		slog.String("asset", m.AssetName.String()),
		slog.String("feed", m.FeedID.Hex()),
	)
	e.publish(ctx, domain.BetEvent{Type: domain.EventMarketInitialized, MarketID: m.ID, Actor: caller, At: m.CreatedAt})
	return m, nil
}
