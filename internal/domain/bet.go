package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction states which side of the threshold the better expects.
type Direction uint8

const (
	DirectionAbove Direction = iota + 1
	DirectionBelow
)

// ParseDirection accepts "above" or "below" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "above":
		return DirectionAbove, nil
	case "below":
		return DirectionBelow, nil
	}
	return 0, ErrInvalidDirection.WithDetail("%q", s)
}

func (d Direction) Valid() bool { return d == DirectionAbove || d == DirectionBelow }

func (d Direction) String() string {
	switch d {
	case DirectionAbove:
		return "above"
	case DirectionBelow:
		return "below"
	}
	return "unknown"
}

func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, ErrInvalidDirection.WithDetail("%d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	p, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// BetID identifies a bet by its market and sequence number.
type BetID struct {
	Market MarketID
	Seq    uint64
}

func (id BetID) IsZero() bool { return id.Market == "" && id.Seq == 0 }

func (id BetID) String() string {
	if id.IsZero() {
		return ""
	}
	return string(id.Market) + "-" + strconv.FormatUint(id.Seq, 10)
}

// ParseBetID parses the "<market>-<seq>" form.
func ParseBetID(s string) (BetID, error) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return BetID{}, ErrInvalidBetID.WithDetail("%q", s)
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil || seq == 0 {
		return BetID{}, ErrInvalidBetID.WithDetail("%q", s)
	}
	return BetID{Market: MarketID(s[:i]), Seq: seq}, nil
}

func (id BetID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *BetID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = BetID{}
		return nil
	}
	p, err := ParseBetID(string(b))
	if err != nil {
		return err
	}
	*id = p
	return nil
}

// BetState is the lifecycle position derived from a bet's flags.
type BetState string

const (
	BetStateCreated BetState = "created"
	BetStateFunded  BetState = "funded"
	BetStateMatched BetState = "matched"
	BetStateSettled BetState = "settled"
)

// Bet is one two-party wager. Claimed and closed bets are deleted, so they
// have no state of their own.
type Bet struct {
	ID             BetID           `json:"id"`
	Better         common.Address  `json:"better"`
	Matcher        *common.Address `json:"matcher,omitempty"`
	Amount         uint64          `json:"amount"`
	PriceThreshold uint64          `json:"price_threshold"`
	Direction      Direction       `json:"direction"`
	SettlementTime time.Time       `json:"settlement_time"`
	IsFunded       bool            `json:"is_funded"`
	IsMatched      bool            `json:"is_matched"`
	IsSettled      bool            `json:"is_settled"`
	CreatedByAdmin bool            `json:"created_by_admin"`
	Winner         *common.Address `json:"winner,omitempty"`
	Escrow         AccountID       `json:"escrow"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (b *Bet) State() BetState {
	switch {
	case b.IsSettled:
		return BetStateSettled
	case b.IsMatched:
		return BetStateMatched
	case b.IsFunded:
		return BetStateFunded
	}
	return BetStateCreated
}

func (b *Bet) expired(now time.Time) bool { return !now.Before(b.SettlementTime) }

// CanFund checks the guards of the fund transition.
func (b *Bet) CanFund(now time.Time) error {
	switch {
	case b.IsFunded:
		return ErrBetAlreadyFunded
	case b.IsMatched:
		return ErrBetAlreadyMatched
	case b.IsSettled:
		return ErrBetAlreadySettled
	case b.expired(now):
		return ErrBetExpired.WithDetail("settlement time %d, now %d", b.SettlementTime.Unix(), now.Unix())
	}
	return nil
}

// CanMatch checks the guards of the match transition.
func (b *Bet) CanMatch(now time.Time) error {
	switch {
	case b.IsMatched:
		return ErrBetAlreadyMatched
	case b.IsSettled:
		return ErrBetAlreadySettled
	case !b.IsFunded:
		return ErrBetNotFunded
	case b.expired(now):
		return ErrBetExpired.WithDetail("settlement time %d, now %d", b.SettlementTime.Unix(), now.Unix())
	}
	return nil
}

// CanSettle checks the guards of the settle transition.
func (b *Bet) CanSettle(now time.Time) error {
	switch {
	case !b.IsMatched:
		return ErrBetNotMatched
	case b.IsSettled:
		return ErrBetAlreadySettled
	case now.Before(b.SettlementTime):
		return ErrSettlementTimeTooEarly.WithDetail("settlement time %d, now %d", b.SettlementTime.Unix(), now.Unix())
	}
	return nil
}

// CanClaim checks that the bet is settled and caller is the recorded winner.
func (b *Bet) CanClaim(caller common.Address) error {
	if !b.IsSettled || b.Winner == nil {
		return ErrBetNotSettled
	}
	if *b.Winner != caller {
		return ErrNotWinner.WithDetail("caller %s", caller.Hex())
	}
	return nil
}

// CanClose checks that caller is the better or admin and the bet is unmatched.
func (b *Bet) CanClose(caller, admin common.Address) error {
	if caller != b.Better && caller != admin {
		return ErrUnauthorizedCloser.WithDetail("caller %s", caller.Hex())
	}
	if b.IsMatched {
		return ErrBetAlreadyMatched
	}
	return nil
}

func (b *Bet) MarkFunded() { b.IsFunded = true }

func (b *Bet) MarkMatched(matcher common.Address) {
	m := matcher
	b.Matcher = &m
	b.IsMatched = true
}

func (b *Bet) MarkSettled(winner common.Address) {
	w := winner
	b.Winner = &w
	b.IsSettled = true
}

// Clone returns a deep copy.
func (b Bet) Clone() Bet {
	if b.Matcher != nil {
		m := *b.Matcher
		b.Matcher = &m
	}
	if b.Winner != nil {
		w := *b.Winner
		b.Winner = &w
	}
	return b
}
