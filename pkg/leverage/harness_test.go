package leverage

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlever/pkg/crypto"
	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/join"
	"github.com/uhyunpark/hyperlever/pkg/pool"
	"github.com/uhyunpark/hyperlever/pkg/settlement"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/token"
	"github.com/uhyunpark/hyperlever/pkg/util"
	"github.com/uhyunpark/hyperlever/pkg/whitelist"
)

var (
	owner    = common.HexToAddress("0x000000000000000000000000000000000000a000")
	user     = common.HexToAddress("0x000000000000000000000000000000000000a001")
	lender   = common.HexToAddress("0x000000000000000000000000000000000000a002")
	stranger = common.HexToAddress("0x000000000000000000000000000000000000a003")

	baseAddr      = common.HexToAddress("0x000000000000000000000000000000000000b000")
	collAddr      = common.HexToAddress("0x000000000000000000000000000000000000b001")
	wlAddr        = common.HexToAddress("0x000000000000000000000000000000000000b002")
	poolAddr      = common.HexToAddress("0x000000000000000000000000000000000000b003")
	joinAddr      = common.HexToAddress("0x000000000000000000000000000000000000b004")
	engineAddr    = common.HexToAddress("0x000000000000000000000000000000000000b005")
	leverAddr     = common.HexToAddress("0x000000000000000000000000000000000000b006")
	deleverAddr   = common.HexToAddress("0x000000000000000000000000000000000000b007")
	testSpot      = fixedpoint.MustRay("900000000000000000000000000") // 0.9
	nanoPerSecond = fixedpoint.MustRay("1000000000000000000")         // 1e-9 per second
)

type harness struct {
	db     *state.DB
	clock  *util.ManualClock
	base   *token.Token
	coll   *token.Token
	wl     *whitelist.Whitelist
	pool   *pool.Pool
	join   *join.GemJoin
	engine *settlement.Engine
	lev    *Leverager
	del    *Deleverager
	maker  *crypto.Signer
	salt   uint64
}

func (h *harness) config() Config {
	return Config{
		Market:     0,
		Pool:       h.pool,
		Join:       h.join,
		Engine:     h.engine,
		Whitelist:  h.wl,
		Collateral: h.coll,
		Base:       h.base,
	}
}

// newHarness deploys every contract on a fresh ledger. The pool rate grows
// by ratePerSecond from the clock's start.
func newHarness(t *testing.T, ratePerSecond *uint256.Int) *harness {
	t.Helper()
	db, err := state.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	maker, err := crypto.GenerateKey()
	require.NoError(t, err)

	h := &harness{db: db, clock: util.NewManualClock(time.Unix(1_700_000_000, 0)), maker: maker}
	h.base = token.New(baseAddr, "WETH", 18, owner)
	h.coll = token.New(collAddr, "wstETH", 18, owner)
	h.wl = whitelist.New(wlAddr, owner)
	db.SetClock(h.clock)
	h.pool = pool.New(poolAddr, owner, h.base, h.wl)
	h.join = join.New(joinAddr, 0, h.coll, h.pool)

	dir := token.NewDirectory()
	h.engine = settlement.NewEngine(engineAddr, crypto.Domain{
		Name:              "Seaport",
		Version:           "1.5",
		ChainID:           big.NewInt(1337),
		VerifyingContract: engineAddr,
	}, dir, nil)

	h.lev, err = NewLeverager(leverAddr, h.config())
	require.NoError(t, err)
	h.del, err = NewDeleverager(deleverAddr, h.config())
	require.NoError(t, err)

	require.NoError(t, dir.Register(baseAddr, h.base))
	require.NoError(t, dir.Register(collAddr, h.coll))
	require.NoError(t, dir.Register(leverAddr, h.lev))
	require.NoError(t, dir.Register(deleverAddr, h.del))

	h.exec(t, func(tx *state.Tx) error {
		steps := []func() error{
			func() error {
				return h.pool.InitializeMarket(tx, owner, pool.MarketConfig{
					Index:         0,
					Collateral:    collAddr,
					Join:          joinAddr,
					RatePerSecond: ratePerSecond,
					Spot:          testSpot,
				})
			},
			func() error { return h.lev.Initialize(tx) },
			func() error { return h.del.Initialize(tx) },
			func() error { return h.wl.ApproveProtocolWhitelist(tx, owner, leverAddr) },
			func() error { return h.wl.ApproveProtocolWhitelist(tx, owner, deleverAddr) },

			func() error { return h.base.Mint(tx, owner, lender, fixedpoint.Wad(1000)) },
			func() error { return h.base.Approve(tx, lender, poolAddr, fixedpoint.Max()) },
			func() error { return h.pool.Supply(tx, lender, fixedpoint.Wad(1000)) },

			func() error { return h.coll.Mint(tx, owner, user, fixedpoint.Wad(10)) },
			func() error { return h.coll.Approve(tx, user, leverAddr, fixedpoint.Max()) },
			func() error { return h.coll.Approve(tx, user, joinAddr, fixedpoint.Max()) },
			func() error { return h.base.Approve(tx, user, poolAddr, fixedpoint.Max()) },
			func() error { return h.pool.AddOperator(tx, user, leverAddr) },
			func() error { return h.pool.AddOperator(tx, user, deleverAddr) },

			func() error { return h.coll.Mint(tx, owner, maker.Address(), fixedpoint.Wad(100)) },
			func() error { return h.base.Mint(tx, owner, maker.Address(), fixedpoint.Wad(100)) },
			func() error { return h.coll.Approve(tx, maker.Address(), engineAddr, fixedpoint.Max()) },
			func() error { return h.base.Approve(tx, maker.Address(), engineAddr, fixedpoint.Max()) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	return h
}

func (h *harness) exec(t *testing.T, fn func(tx *state.Tx) error) {
	t.Helper()
	require.NoError(t, h.db.Execute(fn))
}

func (h *harness) view(t *testing.T, fn func(tx *state.Tx)) {
	t.Helper()
	require.NoError(t, h.db.View(func(tx *state.Tx) error {
		fn(tx)
		return nil
	}))
}

func (h *harness) balance(t *testing.T, tok *token.Token, owner common.Address) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	h.view(t, func(tx *state.Tx) {
		var err error
		out, err = tok.BalanceOf(tx, owner)
		require.NoError(t, err)
	})
	return out
}

func (h *harness) vault(t *testing.T) (coll, debt *uint256.Int) {
	t.Helper()
	h.view(t, func(tx *state.Tx) {
		var err error
		coll, err = h.pool.Collateral(tx, 0, user)
		require.NoError(t, err)
		debt, err = h.pool.Debt(tx, 0, user)
		require.NoError(t, err)
	})
	return coll, debt
}

func (h *harness) normalizedDebt(t *testing.T) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	h.view(t, func(tx *state.Tx) {
		var err error
		out, err = h.pool.NormalizedDebt(tx, 0, user)
		require.NoError(t, err)
	})
	return out
}

// openPosition builds a vault for user directly against the pool.
func (h *harness) openPosition(t *testing.T, collateral, normalized *uint256.Int) {
	t.Helper()
	h.exec(t, func(tx *state.Tx) error {
		if err := h.join.Join(tx, user, user, collateral); err != nil {
			return err
		}
		if err := h.pool.DepositCollateral(tx, user, 0, user, user, collateral, nil); err != nil {
			return err
		}
		_, err := h.pool.Borrow(tx, user, 0, user, user, normalized, nil)
		return err
	})
}

func (h *harness) window() (uint64, uint64) {
	now := uint64(h.clock.Now().Unix())
	return now - 60, now + 3600
}

func (h *harness) nextSalt() *uint256.Int {
	h.salt++
	return uint256.NewInt(h.salt)
}

func (h *harness) leverageParams(collateralToPurchase, amountToBorrow *uint256.Int) settlement.OrderParameters {
	start, end := h.window()
	return settlement.OrderParameters{
		Offerer: h.maker.Address(),
		Zone:    leverAddr,
		Offer: []settlement.OfferItem{{
			ItemType: settlement.ItemERC20, Token: collAddr,
			StartAmount: collateralToPurchase.Clone(), EndAmount: collateralToPurchase.Clone(),
		}},
		Consideration: []settlement.ConsiderationItem{
			{
				ItemType: settlement.ItemERC20, Token: leverAddr,
				StartAmount: amountToBorrow.Clone(), EndAmount: amountToBorrow.Clone(),
				Recipient: user,
			},
			{
				ItemType: settlement.ItemERC20, Token: baseAddr,
				StartAmount: amountToBorrow.Clone(), EndAmount: amountToBorrow.Clone(),
				Recipient: h.maker.Address(),
			},
		},
		OrderType:                       settlement.FullRestricted,
		StartTime:                       start,
		EndTime:                         end,
		Salt:                            h.nextSalt(),
		TotalOriginalConsiderationItems: 2,
	}
}

func (h *harness) deleverageParams(debtToRepay, collateralToRemove *uint256.Int) settlement.OrderParameters {
	start, end := h.window()
	return settlement.OrderParameters{
		Offerer: h.maker.Address(),
		Zone:    deleverAddr,
		Offer: []settlement.OfferItem{{
			ItemType: settlement.ItemERC20, Token: baseAddr,
			StartAmount: debtToRepay.Clone(), EndAmount: debtToRepay.Clone(),
		}},
		Consideration: []settlement.ConsiderationItem{
			{
				ItemType: settlement.ItemERC20, Token: deleverAddr,
				StartAmount: debtToRepay.Clone(), EndAmount: debtToRepay.Clone(),
				Recipient: user,
			},
			{
				ItemType: settlement.ItemERC20, Token: collAddr,
				StartAmount: collateralToRemove.Clone(), EndAmount: collateralToRemove.Clone(),
				Recipient: h.maker.Address(),
			},
		},
		OrderType:                       settlement.FullRestricted,
		StartTime:                       start,
		EndTime:                         end,
		Salt:                            h.nextSalt(),
		TotalOriginalConsiderationItems: 2,
	}
}

func (h *harness) sign(t *testing.T, p settlement.OrderParameters) *settlement.Order {
	t.Helper()
	var sig []byte
	h.view(t, func(tx *state.Tx) {
		var err error
		sig, err = h.engine.Sign(tx, h.maker, &p)
		require.NoError(t, err)
	})
	return &settlement.Order{Parameters: p, Signature: sig}
}

func (h *harness) leverage(order *settlement.Order, deposit, resulting, borrow *uint256.Int, proof []common.Hash) error {
	return h.db.Execute(func(tx *state.Tx) error {
		return h.lev.Leverage(tx, user, order, deposit, resulting, borrow, proof)
	})
}

func (h *harness) deleverage(order *settlement.Order, collateral, repay *uint256.Int) error {
	return h.db.Execute(func(tx *state.Tx) error {
		return h.del.Deleverage(tx, user, order, collateral, repay)
	})
}

func (h *harness) filled(t *testing.T, order *settlement.Order) bool {
	t.Helper()
	var status settlement.OrderStatus
	h.view(t, func(tx *state.Tx) {
		hash, err := h.engine.GetOrderHash(tx, &order.Parameters)
		require.NoError(t, err)
		status, err = h.engine.GetOrderStatus(tx, hash)
		require.NoError(t, err)
	})
	return status.Filled
}

// sub returns a-b for test expectations that are known not to underflow.
func sub(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).Sub(a, b) }

func add(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).Add(a, b) }
