package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseAddress parses a 0x-prefixed hex account identity.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress.WithDetail("%q", s)
	}
	return common.HexToAddress(s), nil
}

// FeedID names an oracle price series.
type FeedID [32]byte

// ParseFeedID decodes a 32-byte feed id from hex, with or without the 0x prefix.
func ParseFeedID(s string) (FeedID, error) {
	var f FeedID
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return f, ErrInvalidFeedID.WithDetail("%v", err)
	}
	if len(b) != len(f) {
		return f, ErrInvalidFeedID.WithDetail("want %d bytes, got %d", len(f), len(b))
	}
	copy(f[:], b)
	return f, nil
}

// Hex returns the 0x-prefixed lowercase encoding.
func (f FeedID) Hex() string { return hexutil.Encode(f[:]) }

func (f FeedID) String() string { return f.Hex() }

// IsZero reports whether f is unset.
func (f FeedID) IsZero() bool { return f == FeedID{} }

// MarketID derives the market key for this feed: the first 8 bytes, hex encoded.
func (f FeedID) MarketID() MarketID { return MarketID(common.Bytes2Hex(f[:8])) }

func (f FeedID) MarshalText() ([]byte, error) { return []byte(f.Hex()), nil }

func (f *FeedID) UnmarshalText(b []byte) error {
	parsed, err := ParseFeedID(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// MarketID identifies a market.
type MarketID string

// AccountID identifies a ledger holding account.
type AccountID string

const (
	walletPrefix = "wallet:"
	escrowPrefix = "escrow:"
)

// WalletAccount returns the ledger account of an identity.
func WalletAccount(addr common.Address) AccountID {
	return AccountID(walletPrefix + strings.ToLower(addr.Hex()))
}

// EscrowAccount returns the holding account owned by a bet.
func EscrowAccount(id BetID) AccountID {
	return AccountID(escrowPrefix + id.String())
}

// IsEscrow reports whether the account is a bet escrow rather than a wallet.
func (a AccountID) IsEscrow() bool { return strings.HasPrefix(string(a), escrowPrefix) }
