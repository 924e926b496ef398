// Package leverage opens and closes leveraged lending positions in one
// settlement. The counterparty signs an RFQ order whose first consideration
// item names this contract as its token; when the engine pays that item it
// calls TransferFrom here, and that call is where the position is changed,
// between the offer leg arriving and the remaining consideration leaving.
package leverage

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/join"
	"github.com/uhyunpark/hyperlever/pkg/metrics"
	"github.com/uhyunpark/hyperlever/pkg/pool"
	"github.com/uhyunpark/hyperlever/pkg/settlement"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/token"
	"github.com/uhyunpark/hyperlever/pkg/util"
	"github.com/uhyunpark/hyperlever/pkg/whitelist"
)

const callbackSlot = "callback"

// Config wires a core to its collaborators.
type Config struct {
	Market     uint8
	Pool       *pool.Pool
	Join       *join.GemJoin
	Engine     *settlement.Engine
	Whitelist  *whitelist.Whitelist
	Collateral *token.Token
	Base       *token.Token
	Logger     *zap.Logger
	Metrics    *metrics.LeverageMetrics
}

// Core is the part of a leverage contract both directions share: the order
// shape check, leg checks and the callback guard.
type Core struct {
	Address   common.Address
	direction Direction

	market     uint8
	pool       *pool.Pool
	join       *join.GemJoin
	engine     *settlement.Engine
	whitelist  *whitelist.Whitelist
	collateral *token.Token
	base       *token.Token
	logger     *zap.Logger
	metrics    *metrics.LeverageMetrics
}

// callbackContext lives in transaction-scoped storage for the duration of
// one FulfillOrder call.
type callbackContext struct {
	awaiting bool
	delta    *uint256.Int
}

func newCore(addr common.Address, d Direction, cfg Config) (*Core, error) {
	switch {
	case addr == (common.Address{}):
		return nil, fmt.Errorf("%w: zero address", ErrInvalidContractConfigs)
	case cfg.Pool == nil || cfg.Join == nil || cfg.Engine == nil || cfg.Whitelist == nil:
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidContractConfigs)
	case cfg.Collateral == nil || cfg.Base == nil:
		return nil, fmt.Errorf("%w: missing token", ErrInvalidContractConfigs)
	case cfg.Join.Pool != cfg.Pool:
		return nil, fmt.Errorf("%w: join serves another pool", ErrInvalidContractConfigs)
	case cfg.Join.Market != cfg.Market:
		return nil, fmt.Errorf("%w: join market %d, core market %d", ErrInvalidContractConfigs, cfg.Join.Market, cfg.Market)
	case cfg.Join.Collateral.Address != cfg.Collateral.Address:
		return nil, fmt.Errorf("%w: join collateral %s", ErrInvalidContractConfigs, cfg.Join.Collateral.Address.Hex())
	case cfg.Pool.Base.Address != cfg.Base.Address:
		return nil, fmt.Errorf("%w: pool base %s", ErrInvalidContractConfigs, cfg.Pool.Base.Address.Hex())
	}
	return &Core{
		Address:    addr,
		direction:  d,
		market:     cfg.Market,
		pool:       cfg.Pool,
		join:       cfg.Join,
		engine:     cfg.Engine,
		whitelist:  cfg.Whitelist,
		collateral: cfg.Collateral,
		base:       cfg.Base,
		logger:     util.OrNop(cfg.Logger).With(zap.String("component", d.Name), zap.String("address", addr.Hex())),
		metrics:    cfg.Metrics,
	}, nil
}

// Direction reports which way this core moves positions.
func (c *Core) Direction() Direction { return c.direction }

// Market is the pool market the core operates on.
func (c *Core) Market() uint8 { return c.market }

// Initialize checks the pool agrees with the configuration and grants the
// allowances the settlement flow spends.
func (c *Core) Initialize(tx *state.Tx) error {
	info, err := c.pool.Market(tx, c.market)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContractConfigs, err)
	}
	if info.Join != c.join.Address {
		return fmt.Errorf("%w: pool join %s, configured %s", ErrInvalidContractConfigs, info.Join.Hex(), c.join.Address.Hex())
	}
	if info.Collateral != c.collateral.Address {
		return fmt.Errorf("%w: pool collateral %s", ErrInvalidContractConfigs, info.Collateral.Hex())
	}
	approvals := []struct {
		tok     *token.Token
		spender common.Address
	}{
		{c.collateral, c.join.Address},
		{c.base, c.pool.Address},
		{c.base, c.engine.Address},
		{c.collateral, c.engine.Address},
	}
	for _, a := range approvals {
		if err := a.tok.Approve(tx, c.Address, a.spender, fixedpoint.Max()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) token(r Role) *token.Token {
	if r == RoleBase {
		return c.base
	}
	return c.collateral
}

// validateShape checks the parts of an order that do not depend on the
// direction.
func (c *Core) validateShape(order *settlement.Order) error {
	p := &order.Parameters
	if len(p.Offer) != 1 {
		return reject(ErrOffersLengthMustBeOne, len(p.Offer), 1)
	}
	if len(p.Consideration) != 2 {
		return reject(ErrConsiderationsLengthMustBeTwo, len(p.Consideration), 2)
	}
	if p.Zone != c.Address {
		return reject(ErrZoneMustBeThis, p.Zone, c.Address)
	}
	if p.OrderType != settlement.FullRestricted {
		return reject(ErrOrderTypeMustBeFullRestricted, p.OrderType, settlement.FullRestricted)
	}
	if p.ConduitKey != (common.Hash{}) {
		return reject(ErrConduitKeyMustBeZero, p.ConduitKey, common.Hash{})
	}
	if p.TotalOriginalConsiderationItems != 2 {
		return reject(ErrInvalidTotalOriginalConsiderationItems, p.TotalOriginalConsiderationItems, 2)
	}
	return nil
}

// legs are the amounts a well-formed order must carry on each leg.
type legs struct {
	offer  *uint256.Int
	first  *uint256.Int
	second *uint256.Int
}

// validateLegs checks the offer and both consideration items against the
// caller's declared amounts. Call validateShape first.
func (c *Core) validateLegs(order *settlement.Order, caller common.Address, want legs) error {
	rules := c.direction.rules
	offer := order.Parameters.Offer[0]
	first := order.Parameters.Consideration[0]
	second := order.Parameters.Consideration[1]

	offerToken := c.token(c.direction.OfferToken).Address
	secondToken := c.token(c.direction.SecondToken).Address

	checks := []struct {
		ok       bool
		rule     error
		actual   any
		expected any
	}{
		{offer.ItemType == settlement.ItemERC20, ErrOfferItemTypeMustBeERC20, offer.ItemType, settlement.ItemERC20},
		{offer.Token == offerToken, rules.offerToken, offer.Token, offerToken},
		{amountEq(offer.StartAmount, want.offer), rules.offerStart, offer.StartAmount, want.offer},
		{amountEq(offer.EndAmount, want.offer), rules.offerEnd, offer.EndAmount, want.offer},

		{first.ItemType == settlement.ItemERC20, ErrConsideration0ItemTypeMustBeERC20, first.ItemType, settlement.ItemERC20},
		{first.Token == c.Address, ErrConsideration0TokenMustBeThis, first.Token, c.Address},
		{amountEq(first.StartAmount, want.first), rules.firstStart, first.StartAmount, want.first},
		{amountEq(first.EndAmount, want.first), rules.firstEnd, first.EndAmount, want.first},
		{first.Recipient == caller, ErrConsideration0RecipientMustBeSender, first.Recipient, caller},

		{second.ItemType == settlement.ItemERC20, ErrConsideration1ItemTypeMustBeERC20, second.ItemType, settlement.ItemERC20},
		{second.Token == secondToken, rules.secondToken, second.Token, secondToken},
		{amountEq(second.StartAmount, want.second), rules.secondStart, second.StartAmount, want.second},
		{amountEq(second.EndAmount, want.second), rules.secondEnd, second.EndAmount, want.second},
	}
	for _, chk := range checks {
		if !chk.ok {
			return reject(chk.rule, chk.actual, chk.expected)
		}
	}
	return nil
}

// arm records delta for the callback and returns the func that clears it.
// Callers defer the returned func so the slot is cleared on every exit.
func (c *Core) arm(tx *state.Tx, delta *uint256.Int) (disarm func()) {
	tx.TStore(c.Address, callbackSlot, &callbackContext{awaiting: true, delta: delta.Clone()})
	return func() { tx.TStore(c.Address, callbackSlot, nil) }
}

// awaiting reports whether a settlement this core started is in flight.
func (c *Core) awaiting(tx *state.Tx) bool {
	ctx, ok := tx.TLoad(c.Address, callbackSlot).(*callbackContext)
	return ok && ctx.awaiting
}

// authorize admits one callback per armed settlement: the caller must be
// the engine and the guard must be armed. It consumes the armed delta.
func (c *Core) authorize(tx *state.Tx, caller common.Address) (*uint256.Int, error) {
	if caller != c.engine.Address {
		c.metrics.ObserveCallbackRejected("wrong_caller")
		return nil, reject(ErrMsgSenderMustBeSeaport, caller, c.engine.Address)
	}
	ctx, ok := tx.TLoad(c.Address, callbackSlot).(*callbackContext)
	if !ok || !ctx.awaiting {
		c.metrics.ObserveCallbackRejected("not_armed")
		return nil, ErrNotACallback
	}
	ctx.awaiting = false
	return ctx.delta.Clone(), nil
}

// settle hands order to the engine with the guard armed for delta.
func (c *Core) settle(tx *state.Tx, order *settlement.Order, delta *uint256.Int) error {
	disarm := c.arm(tx, delta)
	defer disarm()
	return c.engine.FulfillOrder(tx, c.Address, order, common.Hash{})
}

// observe is deferred by the entry points with a pointer to their named
// error. Rejections are counted at once; success is counted only when tx
// commits. A panic is counted as aborted and re-raised for Execute.
func (c *Core) observe(tx *state.Tx, start time.Time, err *error) {
	if r := recover(); r != nil {
		c.metrics.ObserveOperation(c.direction.Name, metrics.ResultAborted, time.Since(start))
		panic(r)
	}
	took := time.Since(start)
	if *err != nil {
		c.logger.Debug("rejected", zap.Error(*err))
		c.metrics.ObserveOperation(c.direction.Name, metrics.ResultError, took)
		return
	}
	tx.OnCommit(func() { c.metrics.ObserveOperation(c.direction.Name, metrics.ResultOK, took) })
}

// refund sends dust back to user.
func (c *Core) refund(tx *state.Tx, user common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := c.base.Transfer(tx, c.Address, user, amount); err != nil {
		return err
	}
	refunded := amount.Clone()
	tx.OnCommit(func() { c.metrics.ObserveDustRefunded(c.direction.Name, refunded) })
	return nil
}

func amountEq(got, want *uint256.Int) bool {
	if got == nil {
		return want.IsZero()
	}
	return got.Eq(want)
}

func render(v any) string {
	switch x := v.(type) {
	case *uint256.Int:
		if x == nil {
			return "<nil>"
		}
		return x.Dec()
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
