package oracle

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

type stubSource struct {
	quote domain.Quote
	err   error
}

func (s stubSource) Latest(context.Context, domain.FeedID) (domain.Quote, error) {
	return s.quote, s.err
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		price   int64
		expo    int32
		want    uint64
		wantErr bool
	}{
		{"negative exponent floors", 6_000_012_345_678, -8, 60_000, false},
		{"zero exponent", 50_000, 0, 50_000, false},
		{"positive exponent", 5, 4, 50_000, false},
		{"zero price", 0, -8, 0, false},
		{"negative price", -1, -8, 0, true},
		{"multiply overflow", math.MaxInt64, 1, 0, true},
		{"scale overflow", 1, 20, 0, true},
		{"negative scale overflow", 1, -20, 0, true},
		{"largest scale", 1, 19, 10_000_000_000_000_000_000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.price, tt.expo)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrPriceConversion)
				assert.Equal(t, domain.KindOracle, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdapterGetPrice(t *testing.T) {
	feed := domain.FeedID{1, 2, 3}
	other := domain.FeedID{9}
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	quote := func(id domain.FeedID, age time.Duration) domain.Quote {
		return domain.Quote{FeedID: id, Price: 6_000_000_000_000, Expo: -8, PublishTime: now.Add(-age)}
	}

	t.Run("fresh", func(t *testing.T) {
		a := NewAdapter(stubSource{quote: quote(feed, 10*time.Second)}, clock)
		r, err := a.GetPrice(context.Background(), feed, 60*time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(60_000), r.Normalized)
		assert.Equal(t, int64(6_000_000_000_000), r.Price)
	})

	t.Run("exactly at bound", func(t *testing.T) {
		a := NewAdapter(stubSource{quote: quote(feed, 60*time.Second)}, clock)
		_, err := a.GetPrice(context.Background(), feed, 60*time.Second)
		require.NoError(t, err)
	})

	t.Run("stale", func(t *testing.T) {
		a := NewAdapter(stubSource{quote: quote(feed, 61*time.Second)}, clock)
		_, err := a.GetPrice(context.Background(), feed, 60*time.Second)
		require.ErrorIs(t, err, domain.ErrOracleStale)
	})

	t.Run("feed mismatch", func(t *testing.T) {
		a := NewAdapter(stubSource{quote: quote(other, 0)}, clock)
		_, err := a.GetPrice(context.Background(), feed, 60*time.Second)
		require.ErrorIs(t, err, domain.ErrFeedMismatch)
	})

	t.Run("source failure becomes unavailable", func(t *testing.T) {
		a := NewAdapter(stubSource{err: errors.New("connection refused")}, clock)
		_, err := a.GetPrice(context.Background(), feed, 60*time.Second)
		require.ErrorIs(t, err, domain.ErrOracleUnavailable)
	})

	t.Run("oracle errors pass through", func(t *testing.T) {
		a := NewAdapter(stubSource{err: domain.ErrPriceConversion}, clock)
		_, err := a.GetPrice(context.Background(), feed, 60*time.Second)
		require.ErrorIs(t, err, domain.ErrPriceConversion)
	})

	t.Run("malformed upstream feed id is an oracle failure", func(t *testing.T) {
		a := NewAdapter(stubSource{err: domain.ErrInvalidFeedID.WithDetail("id %q", "0xzz")}, clock)
		_, err := a.GetPrice(context.Background(), feed, 60*time.Second)
		require.ErrorIs(t, err, domain.ErrOracleUnavailable)
		assert.Equal(t, domain.KindOracle, domain.KindOf(err))
		assert.Contains(t, err.Error(), "invalid feed id")
	})
}
