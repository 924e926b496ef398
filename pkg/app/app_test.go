package app

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlever/params"
	"github.com/uhyunpark/hyperlever/pkg/crypto"
	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/leverage"
	"github.com/uhyunpark/hyperlever/pkg/settlement"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/util"
)

var deployer = common.HexToAddress("0x00000000000000000000000000000000000d0000")

func newTestApp(t *testing.T) (*App, *util.ManualClock) {
	t.Helper()
	db, err := state.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	a, err := New(db, Options{
		Deployer: deployer,
		ChainID:  1337,
		Market:   params.Default().Market,
		Clock:    clock,
	})
	require.NoError(t, err)
	require.NoError(t, a.Bootstrap())
	return a, clock
}

func signOrder(t *testing.T, a *App, signer *crypto.Signer, p settlement.OrderParameters) *settlement.Order {
	t.Helper()
	var sig []byte
	require.NoError(t, a.DB.View(func(tx *state.Tx) error {
		var err error
		sig, err = a.Engine.Sign(tx, signer, &p)
		return err
	}))
	return &settlement.Order{Parameters: p, Signature: sig}
}

func TestDeterministicAddresses(t *testing.T) {
	a, _ := newTestApp(t)
	require.Equal(t, gethcrypto.CreateAddress(deployer, 0), a.Base.Address)
	require.Equal(t, gethcrypto.CreateAddress(deployer, 3), a.Pool.Address)
	require.Equal(t, gethcrypto.CreateAddress(deployer, 6), a.Leverager.Address)
	require.Equal(t, gethcrypto.CreateAddress(deployer, 7), a.Deleverager.Address)
	require.Equal(t, a.Engine.Address, a.Engine.Domain.VerifyingContract)

	for _, addr := range []common.Address{a.Base.Address, a.Collateral.Address, a.Leverager.Address, a.Deleverager.Address} {
		_, ok := a.Tokens.Lookup(addr)
		require.True(t, ok, addr.Hex())
	}
}

func TestBootstrapSeedsOnce(t *testing.T) {
	a, _ := newTestApp(t)
	seed := params.Default().Market.SeedLiquidity

	var liquidity *uint256.Int
	require.NoError(t, a.DB.View(func(tx *state.Tx) error {
		var err error
		liquidity, err = a.Pool.Liquidity(tx)
		return err
	}))
	require.Equal(t, seed, liquidity)

	require.NoError(t, a.Bootstrap())
	require.NoError(t, a.DB.View(func(tx *state.Tx) error {
		var err error
		liquidity, err = a.Pool.Liquidity(tx)
		return err
	}))
	require.Equal(t, seed, liquidity)
}

func TestLeverageRoundTrip(t *testing.T) {
	a, clock := newTestApp(t)
	borrower, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker, err := crypto.GenerateKey()
	require.NoError(t, err)

	require.NoError(t, a.Faucet(borrower.Address(), nil, fixedpoint.Wad(10)))
	require.NoError(t, a.Faucet(maker.Address(), fixedpoint.Wad(100), fixedpoint.Wad(100)))
	require.NoError(t, a.Setup(borrower.Address()))
	require.NoError(t, a.ApproveEngine(maker.Address()))

	now := uint64(clock.Now().Unix())
	q := leverage.RFQ{Counterparty: maker.Address(), User: borrower.Address(), StartTime: now, EndTime: now + 600}

	lever := signOrder(t, a, maker, a.Leverager.OrderFor(q, fixedpoint.Wad(2), fixedpoint.Wad(1)))
	require.NoError(t, a.Leverage(borrower.Address(), lever, fixedpoint.Wad(1), fixedpoint.Wad(3), fixedpoint.Wad(1), nil))

	v, err := a.Vault(a.Market, borrower.Address())
	require.NoError(t, err)
	require.Equal(t, fixedpoint.Wad(3), v.Collateral)
	require.Equal(t, fixedpoint.Wad(1), v.Debt)

	q.Salt = uint256.NewInt(1)
	delever := signOrder(t, a, maker, a.Deleverager.OrderFor(q, fixedpoint.Wad(3), fixedpoint.Wad(1)))
	require.NoError(t, a.Deleverage(borrower.Address(), delever, fixedpoint.Wad(3), fixedpoint.Wad(1)))

	v, err = a.Vault(a.Market, borrower.Address())
	require.NoError(t, err)
	require.True(t, v.Collateral.IsZero())
	require.True(t, v.NormalizedDebt.IsZero())

	base, coll, err := a.Balances(borrower.Address())
	require.NoError(t, err)
	require.True(t, base.IsZero())
	require.Equal(t, fixedpoint.Wad(9), coll)
}

func TestLeverageRequiresSetup(t *testing.T) {
	a, clock := newTestApp(t)
	borrower, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, a.Faucet(borrower.Address(), nil, fixedpoint.Wad(10)))
	require.NoError(t, a.Faucet(maker.Address(), fixedpoint.Wad(100), fixedpoint.Wad(100)))
	require.NoError(t, a.ApproveEngine(maker.Address()))

	now := uint64(clock.Now().Unix())
	q := leverage.RFQ{Counterparty: maker.Address(), User: borrower.Address(), StartTime: now, EndTime: now + 600}
	order := signOrder(t, a, maker, a.Leverager.OrderFor(q, fixedpoint.Wad(2), fixedpoint.Wad(1)))

	require.Error(t, a.Leverage(borrower.Address(), order, fixedpoint.Wad(1), fixedpoint.Wad(3), fixedpoint.Wad(1), nil))

	_, coll, err := a.Balances(borrower.Address())
	require.NoError(t, err)
	require.Equal(t, fixedpoint.Wad(10), coll)
}
