package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/state"
)

var (
	minter = common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	bob    = common.HexToAddress("0x3000000000000000000000000000000000000003")
	router = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

func setup(t *testing.T) (*state.DB, *Token) {
	t.Helper()
	db, err := state.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tok := New(common.HexToAddress("0xaaaa000000000000000000000000000000000001"), "wstETH", 18, minter)
	require.NoError(t, db.Execute(func(tx *state.Tx) error {
		return tok.Mint(tx, minter, alice, fixedpoint.Wad(10))
	}))
	return db, tok
}

func balance(t *testing.T, db *state.DB, tok *Token, owner common.Address) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	require.NoError(t, db.View(func(tx *state.Tx) error {
		var err error
		out, err = tok.BalanceOf(tx, owner)
		return err
	}))
	return out
}

func TestMintOnlyByMinter(t *testing.T) {
	db, tok := setup(t)
	err := db.Execute(func(tx *state.Tx) error {
		return tok.Mint(tx, alice, alice, fixedpoint.Wad(1))
	})
	require.ErrorIs(t, err, ErrNotMinter)
	require.Equal(t, fixedpoint.Wad(10), balance(t, db, tok, alice))
}

func TestTransfer(t *testing.T) {
	db, tok := setup(t)
	require.NoError(t, db.Execute(func(tx *state.Tx) error {
		return tok.Transfer(tx, alice, bob, fixedpoint.Wad(4))
	}))
	require.Equal(t, fixedpoint.Wad(6), balance(t, db, tok, alice))
	require.Equal(t, fixedpoint.Wad(4), balance(t, db, tok, bob))

	err := db.Execute(func(tx *state.Tx) error {
		return tok.Transfer(tx, bob, alice, fixedpoint.Wad(5))
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	db, tok := setup(t)
	require.NoError(t, db.Execute(func(tx *state.Tx) error {
		if err := tok.Approve(tx, alice, router, fixedpoint.Wad(3)); err != nil {
			return err
		}
		return tok.TransferFrom(tx, router, alice, bob, fixedpoint.Wad(2))
	}))
	require.NoError(t, db.View(func(tx *state.Tx) error {
		left, err := tok.Allowance(tx, alice, router)
		require.NoError(t, err)
		require.Equal(t, fixedpoint.Wad(1), left)
		return nil
	}))

	err := db.Execute(func(tx *state.Tx) error {
		return tok.TransferFrom(tx, router, alice, bob, fixedpoint.Wad(2))
	})
	require.ErrorIs(t, err, ErrInsufficientAllowance)
	require.Equal(t, fixedpoint.Wad(2), balance(t, db, tok, bob))
}

func TestMaxAllowanceIsNotDecremented(t *testing.T) {
	db, tok := setup(t)
	require.NoError(t, db.Execute(func(tx *state.Tx) error {
		if err := tok.Approve(tx, alice, router, fixedpoint.Max()); err != nil {
			return err
		}
		return tok.TransferFrom(tx, router, alice, bob, fixedpoint.Wad(7))
	}))
	require.NoError(t, db.View(func(tx *state.Tx) error {
		left, err := tok.Allowance(tx, alice, router)
		require.NoError(t, err)
		require.True(t, left.Eq(fixedpoint.Max()))
		return nil
	}))
}

func TestTransferToZeroAddress(t *testing.T) {
	db, tok := setup(t)
	err := db.Execute(func(tx *state.Tx) error {
		return tok.Transfer(tx, alice, common.Address{}, fixedpoint.Wad(1))
	})
	require.ErrorIs(t, err, ErrZeroAddress)
}

func TestDirectoryRegistersOnce(t *testing.T) {
	_, tok := setup(t)
	dir := NewDirectory()
	require.NoError(t, dir.Register(tok.Address, tok))
	require.Error(t, dir.Register(tok.Address, tok))

	got, ok := dir.Lookup(tok.Address)
	require.True(t, ok)
	require.Same(t, tok, got)

	_, ok = dir.Lookup(bob)
	require.False(t, ok)
}
