package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/friendbet/internal/config"
	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/events"
	"github.com/alanyoungcy/friendbet/internal/metrics"
	"github.com/alanyoungcy/friendbet/internal/store/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func seedMarkets(t *testing.T, store *memory.Store, n int) []domain.FeedID {
	t.Helper()
	feeds := make([]domain.FeedID, 0, n)
	err := store.InTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for i := 0; i < n; i++ {
			var feed domain.FeedID
			feed[0] = byte(i >> 8)
			feed[1] = byte(i)
			feed[31] = 0x01
			feeds = append(feeds, feed)
			m := domain.NewMarket(common.HexToAddress("0xad111"), common.HexToAddress("0xfee"), "ASSET", feed, time.Now())
			if err := tx.Markets().Insert(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return feeds
}

func TestFeedListerPagesAndDeduplicates(t *testing.T) {
	store := memory.New()
	feeds := seedMarkets(t, store, feedPageSize+3)

	var extra domain.FeedID
	extra[0] = 0xff
	list := feedLister(store, []domain.FeedID{extra, feeds[0]})

	got, err := list(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, feedPageSize+4)
	assert.Equal(t, extra, got[0])
	assert.ElementsMatch(t, append(feeds, extra), got)
}

func TestFeedListerEmptyStore(t *testing.T) {
	got, err := feedLister(memory.New(), nil)(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

type stubCache struct {
	err    error
	quotes []domain.Quote
}

func (s *stubCache) SetQuote(_ context.Context, q domain.Quote) error {
	if s.err != nil {
		return s.err
	}
	s.quotes = append(s.quotes, q)
	return nil
}

func (s *stubCache) GetQuote(context.Context, domain.FeedID) (domain.Quote, error) {
	return domain.Quote{}, domain.ErrNotFound
}

func TestCountingCacheForwards(t *testing.T) {
	inner := &stubCache{}
	c := countingCache{PriceCache: inner, metrics: metrics.New()}

	require.NoError(t, c.SetQuote(context.Background(), domain.Quote{Price: 1}))
	assert.Len(t, inner.quotes, 1)

	inner.err = errors.New("down")
	assert.Error(t, c.SetQuote(context.Background(), domain.Quote{Price: 2}))
	assert.Len(t, inner.quotes, 1)
}

func TestPublisherSkipsUnwiredSinks(t *testing.T) {
	deps := &Dependencies{}
	pub, ok := deps.publisher().(events.Multi)
	require.True(t, ok)
	assert.Empty(t, pub)
	assert.NoError(t, pub.Publish(context.Background(), domain.BetEvent{Type: domain.EventBetCreated}))
}

func newTestApp(mutate func(*config.Config)) *App {
	cfg := config.Defaults()
	cfg.Admin.Address = "0x00000000000000000000000000000000000ad111"
	if mutate != nil {
		mutate(&cfg)
	}
	return New(&cfg, discard)
}

func TestNewEngineNeedsOracle(t *testing.T) {
	a := newTestApp(func(c *config.Config) { c.Oracle.Source = "cache" })
	_, err := a.newEngine(&Dependencies{Store: memory.New(), Metrics: metrics.New()})
	assert.Error(t, err)

	a = newTestApp(nil)
	_, err = a.newEngine(&Dependencies{Store: memory.New(), Metrics: metrics.New()})
	assert.Error(t, err, "hermes source without a client")
}

func TestArchiveModeWithoutS3(t *testing.T) {
	a := newTestApp(nil)
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	assert.ErrorContains(t, err, "s3 is not wired")
}

func TestWireMemoryOnly(t *testing.T) {
	a := newTestApp(nil)
	deps, cleanup, err := Wire(context.Background(), a.cfg, discard)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.Hermes)
	assert.NotNil(t, deps.Metrics)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Notifier)
	assert.Empty(t, deps.Checks)

	eng, err := a.newEngine(deps)
	require.NoError(t, err)
	assert.NotNil(t, eng)
}
