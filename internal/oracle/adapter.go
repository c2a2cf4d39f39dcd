// Package oracle reads and validates external price feeds.
package oracle

import (
	"context"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// Source returns the latest raw quote for a feed, without any validation.
type Source interface {
	Latest(ctx context.Context, feed domain.FeedID) (domain.Quote, error)
}

// Adapter enforces the feed match and staleness bound over a Source and
// normalizes the price.
type Adapter struct {
	source Source
	now    func() time.Time
}

var _ domain.Oracle = (*Adapter)(nil)

// NewAdapter wraps src. A nil clock defaults to time.Now.
func NewAdapter(src Source, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{source: src, now: now}
}

// GetPrice returns a reading for feed that is at most maxStaleness old,
// measured in whole seconds.
func (a *Adapter) GetPrice(ctx context.Context, feed domain.FeedID, maxStaleness time.Duration) (domain.Reading, error) {
	q, err := a.source.Latest(ctx, feed)
	if err != nil {
		if domain.KindOf(err) == domain.KindOracle {
			return domain.Reading{}, err
		}
		return domain.Reading{}, domain.ErrOracleUnavailable.WithDetail("feed %s: %v", feed.Hex(), err)
	}
	if q.FeedID != feed {
		return domain.Reading{}, domain.ErrFeedMismatch.WithDetail("requested %s, got %s", feed.Hex(), q.FeedID.Hex())
	}

	age := a.now().Unix() - q.PublishTime.Unix()
	if age > int64(maxStaleness/time.Second) {
		return domain.Reading{}, domain.ErrOracleStale.WithDetail("published %ds ago, bound %ds", age, int64(maxStaleness/time.Second))
	}

	price, err := Normalize(q.Price, q.Expo)
	if err != nil {
		return domain.Reading{}, err
	}
	return domain.Reading{Quote: q, Normalized: price}, nil
}

// Normalize converts a fixed-point oracle price to whole display units:
// price * 10^expo for expo >= 0, floor(price / 10^-expo) otherwise. A negative
// price or any overflow is a conversion error.
func Normalize(price int64, expo int32) (uint64, error) {
	if price < 0 {
		return 0, domain.ErrPriceConversion.WithDetail("negative price %d", price)
	}
	e := int64(expo)
	if e < 0 {
		e = -e
	}
	scale, err := pow10(e)
	if err != nil {
		return 0, domain.ErrPriceConversion.WithDetail("exponent %d", expo)
	}
	if expo >= 0 {
		v, err := domain.CheckedMul(uint64(price), scale)
		if err != nil {
			return 0, domain.ErrPriceConversion.WithDetail("%d * 10^%d overflows", price, expo)
		}
		return v, nil
	}
	return uint64(price) / scale, nil
}

func pow10(n int64) (uint64, error) {
	v := uint64(1)
	for i := int64(0); i < n; i++ {
		next, err := domain.CheckedMul(v, 10)
		if err != nil {
			return 0, err
		}
		v = next
	}
	return v, nil
}
