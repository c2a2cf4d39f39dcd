package domain

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	admin = common.HexToAddress("0x00000000000000000000000000000000000ad111")
)

func TestBetIDRoundTrip(t *testing.T) {
	id := BetID{Market: "e62df6c8b4a85fe1", Seq: 42}
	assert.Equal(t, "e62df6c8b4a85fe1-42", id.String())
	got, err := ParseBetID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, bad := range []string{"", "abc", "-1", "abc-", "abc-0", "abc-x"} {
		_, err := ParseBetID(bad)
		assert.ErrorIs(t, err, ErrInvalidBetID, bad)
	}
	assert.Equal(t, AccountID("escrow:e62df6c8b4a85fe1-42"), EscrowAccount(id))
	assert.True(t, EscrowAccount(id).IsEscrow())
	assert.False(t, WalletAccount(alice).IsEscrow())
}

func TestDirection(t *testing.T) {
	d, err := ParseDirection("Above")
	require.NoError(t, err)
	assert.Equal(t, DirectionAbove, d)
	d, err = ParseDirection("below")
	require.NoError(t, err)
	assert.Equal(t, DirectionBelow, d)
	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestBetGuards(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	settle := now.Add(2 * time.Hour)
	fresh := func() Bet {
		return Bet{Better: alice, Amount: 10, SettlementTime: settle}
	}

	b := fresh()
	assert.Equal(t, BetStateCreated, b.State())
	require.NoError(t, b.CanFund(now))
	assert.ErrorIs(t, b.CanMatch(now), ErrBetNotFunded)
	assert.ErrorIs(t, b.CanFund(settle), ErrBetExpired)

	b.MarkFunded()
	assert.ErrorIs(t, b.CanFund(now), ErrBetAlreadyFunded)
	require.NoError(t, b.CanMatch(now))
	assert.ErrorIs(t, b.CanMatch(settle), ErrBetExpired)
	assert.ErrorIs(t, b.CanSettle(settle), ErrBetNotMatched)

	b.MarkMatched(bob)
	assert.Equal(t, BetStateMatched, b.State())
	assert.ErrorIs(t, b.CanMatch(now), ErrBetAlreadyMatched)
	assert.ErrorIs(t, b.CanSettle(now), ErrSettlementTimeTooEarly)
	require.NoError(t, b.CanSettle(settle))
	assert.ErrorIs(t, b.CanClose(alice, admin), ErrBetAlreadyMatched)
	assert.ErrorIs(t, b.CanClaim(bob), ErrBetNotSettled)

	b.MarkSettled(bob)
	assert.Equal(t, BetStateSettled, b.State())
	assert.ErrorIs(t, b.CanSettle(settle), ErrBetAlreadySettled)
	assert.ErrorIs(t, b.CanClaim(alice), ErrNotWinner)
	require.NoError(t, b.CanClaim(bob))
}

func TestBetCloseAuthorization(t *testing.T) {
	b := Bet{Better: alice, Amount: 10}
	require.NoError(t, b.CanClose(alice, admin))
	require.NoError(t, b.CanClose(admin, admin))
	assert.ErrorIs(t, b.CanClose(bob, admin), ErrUnauthorizedCloser)
}

func TestBetCloneIsDeep(t *testing.T) {
	b := Bet{Better: alice}
	b.MarkMatched(bob)
	c := b.Clone()
	*c.Matcher = admin
	assert.Equal(t, bob, *b.Matcher)
}
