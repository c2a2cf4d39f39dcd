package domain

import (
	"math/bits"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// MaxAssetNameLen bounds the display name of a market's asset in bytes.
const MaxAssetNameLen = 40

// AssetName is a fixed-width, NUL-padded display name.
type AssetName [MaxAssetNameLen]byte

// NewAssetName truncates s to MaxAssetNameLen bytes without splitting a rune.
func NewAssetName(s string) AssetName {
	var n AssetName
	if len(s) > MaxAssetNameLen {
		cut := MaxAssetNameLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	copy(n[:], s)
	return n
}

// String returns the name with the NUL padding stripped.
func (n AssetName) String() string {
	s := string(n[:])
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s
}

func (n AssetName) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *AssetName) UnmarshalText(b []byte) error {
	*n = NewAssetName(string(b))
	return nil
}

// Market is the aggregate record for one tradable asset feed.
type Market struct {
	ID                 MarketID       `json:"id"`
	Authority          common.Address `json:"authority"`
	FeeClaimer         common.Address `json:"fee_claimer"`
	AssetName          AssetName      `json:"asset_name"`
	FeedID             FeedID         `json:"feed_id"`
	BetCount           uint64         `json:"bet_count"`
	TotalVolume        uint64         `json:"total_volume"`
	TotalMatchedCount  uint64         `json:"total_matched_count"`
	TotalSettledCount  uint64         `json:"total_settled_count"`
	TotalFeesCollected uint64         `json:"total_fees_collected"`
	CreatedAt          time.Time      `json:"created_at"`
}

// NewMarket returns a market keyed by its feed.
func NewMarket(authority, feeClaimer common.Address, name string, feed FeedID, now time.Time) Market {
	return Market{
		ID:         feed.MarketID(),
		Authority:  authority,
		FeeClaimer: feeClaimer,
		AssetName:  NewAssetName(name),
		FeedID:     feed,
		CreatedAt:  now,
	}
}

// The Record* methods update the market counters. Each computes every new
// value before assigning any, so a failed call leaves m untouched.

// RecordBet advances the sequence counter and returns the new bet's sequence number.
func (m *Market) RecordBet() (uint64, error) {
	seq, err := CheckedAdd(m.BetCount, 1)
	if err != nil {
		return 0, err
	}
	m.BetCount = seq
	return seq, nil
}

// RecordFund adds a newly escrowed stake to the at-risk volume.
func (m *Market) RecordFund(amount uint64) error {
	v, err := CheckedAdd(m.TotalVolume, amount)
	if err != nil {
		return err
	}
	m.TotalVolume = v
	return nil
}

// RecordMatch adds the counterparty stake and counts the match.
func (m *Market) RecordMatch(amount uint64) error {
	v, err := CheckedAdd(m.TotalVolume, amount)
	if err != nil {
		return err
	}
	c, err := CheckedAdd(m.TotalMatchedCount, 1)
	if err != nil {
		return err
	}
	m.TotalVolume, m.TotalMatchedCount = v, c
	return nil
}

func (m *Market) RecordSettle() error {
	c, err := CheckedAdd(m.TotalSettledCount, 1)
	if err != nil {
		return err
	}
	m.TotalSettledCount = c
	return nil
}

func (m *Market) RecordClaim(fee uint64) error {
	f, err := CheckedAdd(m.TotalFeesCollected, fee)
	if err != nil {
		return err
	}
	m.TotalFeesCollected = f
	return nil
}

// RecordClose removes a refunded stake from the at-risk volume.
func (m *Market) RecordClose(amount uint64) error {
	v, err := CheckedSub(m.TotalVolume, amount)
	if err != nil {
		return err
	}
	m.TotalVolume = v
	return nil
}

// CheckedAdd returns a+b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow.WithDetail("%d + %d", a, b)
	}
	return s, nil
}

// CheckedSub returns a-b or ErrArithmeticOverflow on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	d, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmeticOverflow.WithDetail("%d - %d", a, b)
	}
	return d, nil
}

// CheckedMul returns a*b or ErrArithmeticOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrArithmeticOverflow.WithDetail("%d * %d", a, b)
	}
	return lo, nil
}
