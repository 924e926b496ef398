package settlement

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlever/pkg/crypto"
	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/token"
	"github.com/uhyunpark/hyperlever/pkg/util"
)

var (
	minter    = common.HexToAddress("0x00000000000000000000000000000000000e0001")
	fulfiller = common.HexToAddress("0x00000000000000000000000000000000000e0002")
	payee     = common.HexToAddress("0x00000000000000000000000000000000000e0003")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000e0004")
	hookAddr  = common.HexToAddress("0x00000000000000000000000000000000000e0005")
)

type recordedCall struct {
	caller, from, to common.Address
	amount           *uint256.Int
}

// recorder stands in for a contract registered under a token address.
type recorder struct {
	calls []recordedCall
	err   error
}

func (r *recorder) TransferFrom(_ *state.Tx, caller, from, to common.Address, amount *uint256.Int) error {
	r.calls = append(r.calls, recordedCall{caller, from, to, amount.Clone()})
	return r.err
}

type fixture struct {
	db      *state.DB
	clock   *util.ManualClock
	engine  *Engine
	offerer *crypto.Signer
	coll    *token.Token
	base    *token.Token
	hook    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := state.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	offerer, err := crypto.GenerateKey()
	require.NoError(t, err)

	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	coll := token.New(common.HexToAddress("0x00000000000000000000000000000000000f0001"), "wstETH", 18, minter)
	base := token.New(common.HexToAddress("0x00000000000000000000000000000000000f0002"), "WETH", 18, minter)
	hook := &recorder{}

	dir := token.NewDirectory()
	require.NoError(t, dir.Register(coll.Address, coll))
	require.NoError(t, dir.Register(base.Address, base))
	require.NoError(t, dir.Register(hookAddr, hook))

	engineAddr := common.HexToAddress("0x00000000000000000000000000000000000f00ee")
	domain := crypto.Domain{Name: "Seaport", Version: "1.5", ChainID: big.NewInt(1337), VerifyingContract: engineAddr}
	engine := NewEngine(engineAddr, domain, dir, nil)
	db.SetClock(clock)

	require.NoError(t, db.Execute(func(tx *state.Tx) error {
		for _, step := range []func() error{
			func() error { return coll.Mint(tx, minter, offerer.Address(), fixedpoint.Wad(10)) },
			func() error { return base.Mint(tx, minter, fulfiller, fixedpoint.Wad(10)) },
			func() error { return coll.Approve(tx, offerer.Address(), engineAddr, fixedpoint.Max()) },
			func() error { return base.Approve(tx, fulfiller, engineAddr, fixedpoint.Max()) },
		} {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	}))
	return &fixture{db: db, clock: clock, engine: engine, offerer: offerer, coll: coll, base: base, hook: hook}
}

func (f *fixture) params() OrderParameters {
	now := uint64(f.clock.Now().Unix())
	return OrderParameters{
		Offerer: f.offerer.Address(),
		Zone:    fulfiller,
		Offer: []OfferItem{{
			ItemType: ItemERC20, Token: f.coll.Address,
			StartAmount: fixedpoint.Wad(2), EndAmount: fixedpoint.Wad(2),
		}},
		Consideration: []ConsiderationItem{
			{ItemType: ItemERC20, Token: hookAddr, StartAmount: fixedpoint.Wad(3), EndAmount: fixedpoint.Wad(3), Recipient: fulfiller},
			{ItemType: ItemERC20, Token: f.base.Address, StartAmount: fixedpoint.Wad(3), EndAmount: fixedpoint.Wad(3), Recipient: payee},
		},
		OrderType:                       FullRestricted,
		StartTime:                       now - 10,
		EndTime:                         now + 3600,
		Salt:                            uint256.NewInt(7),
		TotalOriginalConsiderationItems: 2,
	}
}

func (f *fixture) sign(t *testing.T, p OrderParameters) *Order {
	t.Helper()
	var sig []byte
	require.NoError(t, f.db.View(func(tx *state.Tx) error {
		var err error
		sig, err = f.engine.Sign(tx, f.offerer, &p)
		return err
	}))
	return &Order{Parameters: p, Signature: sig}
}

func (f *fixture) fulfill(caller common.Address, order *Order) error {
	return f.db.Execute(func(tx *state.Tx) error {
		return f.engine.FulfillOrder(tx, caller, order, common.Hash{})
	})
}

func (f *fixture) balance(t *testing.T, tok *token.Token, owner common.Address) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	require.NoError(t, f.db.View(func(tx *state.Tx) error {
		var err error
		out, err = tok.BalanceOf(tx, owner)
		return err
	}))
	return out
}

func TestFulfillOrderMovesItemsInOrder(t *testing.T) {
	f := newFixture(t)
	order := f.sign(t, f.params())
	require.NoError(t, f.fulfill(fulfiller, order))

	require.Equal(t, fixedpoint.Wad(2), f.balance(t, f.coll, fulfiller))
	require.Equal(t, fixedpoint.Wad(8), f.balance(t, f.coll, f.offerer.Address()))
	require.Equal(t, fixedpoint.Wad(3), f.balance(t, f.base, payee))

	require.Len(t, f.hook.calls, 1)
	call := f.hook.calls[0]
	require.Equal(t, f.engine.Address, call.caller)
	require.Equal(t, fulfiller, call.from)
	require.Equal(t, fulfiller, call.to)
	require.Equal(t, fixedpoint.Wad(3), call.amount)

	require.NoError(t, f.db.View(func(tx *state.Tx) error {
		hash, err := f.engine.GetOrderHash(tx, &order.Parameters)
		require.NoError(t, err)
		status, err := f.engine.GetOrderStatus(tx, hash)
		require.NoError(t, err)
		require.True(t, status.Filled)
		return nil
	}))

	require.ErrorIs(t, f.fulfill(fulfiller, order), ErrOrderAlreadyFilled)
}

func TestHookFailureRollsBackOffer(t *testing.T) {
	f := newFixture(t)
	f.hook.err = token.ErrInsufficientBalance
	order := f.sign(t, f.params())

	require.ErrorIs(t, f.fulfill(fulfiller, order), token.ErrInsufficientBalance)
	require.True(t, f.balance(t, f.coll, fulfiller).IsZero())

	// Status rolled back with the rest, so the order is still fillable.
	f.hook.err = nil
	require.NoError(t, f.fulfill(fulfiller, order))
}

func TestFulfillOrderRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, p *OrderParameters)
		caller common.Address
		want   error
	}{
		{
			name:   "conduit",
			mutate: func(_ *fixture, p *OrderParameters) { p.ConduitKey = common.HexToHash("0x01") },
			caller: fulfiller,
			want:   ErrUnknownConduit,
		},
		{
			name:   "not started",
			mutate: func(f *fixture, p *OrderParameters) { p.StartTime = uint64(f.clock.Now().Unix()) + 1 },
			caller: fulfiller,
			want:   ErrInvalidTime,
		},
		{
			name:   "expired",
			mutate: func(f *fixture, p *OrderParameters) { p.EndTime = uint64(f.clock.Now().Unix()) },
			caller: fulfiller,
			want:   ErrInvalidTime,
		},
		{
			name:   "missing consideration",
			mutate: func(_ *fixture, p *OrderParameters) { p.TotalOriginalConsiderationItems = 3 },
			caller: fulfiller,
			want:   ErrMissingOriginalConsiderationItems,
		},
		{
			name:   "restricted",
			mutate: func(*fixture, *OrderParameters) {},
			caller: stranger,
			want:   ErrInvalidRestrictedOrder,
		},
		{
			name:   "native item",
			mutate: func(_ *fixture, p *OrderParameters) { p.Offer[0].ItemType = ItemNative },
			caller: fulfiller,
			want:   ErrUnsupportedItemType,
		},
		{
			name: "zero amount",
			mutate: func(_ *fixture, p *OrderParameters) {
				p.Offer[0].StartAmount = fixedpoint.Zero()
				p.Offer[0].EndAmount = fixedpoint.Zero()
			},
			caller: fulfiller,
			want:   ErrMissingItemAmount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.params()
			tt.mutate(f, &p)
			require.ErrorIs(t, f.fulfill(tt.caller, f.sign(t, p)), tt.want)
			require.Empty(t, f.hook.calls)
		})
	}
}

func TestOpenOrderAnyoneMayFulfill(t *testing.T) {
	f := newFixture(t)
	p := f.params()
	p.OrderType = FullOpen
	p.Consideration[0].Token = f.base.Address
	order := f.sign(t, p)

	require.NoError(t, f.db.Execute(func(tx *state.Tx) error {
		if err := f.base.Mint(tx, minter, stranger, fixedpoint.Wad(6)); err != nil {
			return err
		}
		return f.base.Approve(tx, stranger, f.engine.Address, fixedpoint.Max())
	}))
	require.NoError(t, f.fulfill(stranger, order))
	require.Equal(t, fixedpoint.Wad(2), f.balance(t, f.coll, stranger))
}

func TestSignatureChecks(t *testing.T) {
	f := newFixture(t)
	order := f.sign(t, f.params())

	tampered := *order
	tampered.Parameters.Salt = uint256.NewInt(8)
	require.ErrorIs(t, f.fulfill(fulfiller, &tampered), ErrInvalidSigner)

	require.NoError(t, f.db.Execute(func(tx *state.Tx) error {
		counter, err := f.engine.IncrementCounter(tx, f.offerer.Address())
		require.Equal(t, uint256.NewInt(1), counter)
		return err
	}))
	require.ErrorIs(t, f.fulfill(fulfiller, order), ErrInvalidSigner)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	order := f.sign(t, f.params())

	err := f.db.Execute(func(tx *state.Tx) error {
		return f.engine.Cancel(tx, stranger, []OrderParameters{order.Parameters})
	})
	require.ErrorIs(t, err, ErrCannotCancelOrder)

	require.NoError(t, f.db.Execute(func(tx *state.Tx) error {
		return f.engine.Cancel(tx, f.offerer.Address(), []OrderParameters{order.Parameters})
	}))
	require.ErrorIs(t, f.fulfill(fulfiller, order), ErrOrderIsCancelled)
}

func TestCurrentAmountInterpolates(t *testing.T) {
	start, end := uint256.NewInt(100), uint256.NewInt(201)

	down, err := currentAmount(start, end, 0, 10, 5, false)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(150), down)

	up, err := currentAmount(start, end, 0, 10, 5, true)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(151), up)

	at, err := currentAmount(start, end, 0, 10, 0, true)
	require.NoError(t, err)
	require.Equal(t, start, at)

	fixed, err := currentAmount(start, start, 0, 10, 7, true)
	require.NoError(t, err)
	require.Equal(t, start, fixed)
}
