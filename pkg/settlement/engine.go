package settlement

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlever/pkg/crypto"
	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/token"
	"github.com/uhyunpark/hyperlever/pkg/util"
)

var (
	ErrUnknownConduit                    = errors.New("settlement: unknown conduit")
	ErrInvalidTime                       = errors.New("settlement: order not active")
	ErrMissingOriginalConsiderationItems = errors.New("settlement: missing original consideration items")
	ErrInvalidRestrictedOrder            = errors.New("settlement: restricted order called by neither zone nor offerer")
	ErrInvalidSigner                     = errors.New("settlement: invalid signer")
	ErrOrderAlreadyFilled                = errors.New("settlement: order already filled")
	ErrOrderIsCancelled                  = errors.New("settlement: order cancelled")
	ErrUnsupportedItemType               = errors.New("settlement: unsupported item type")
	ErrMissingItemAmount                 = errors.New("settlement: missing item amount")
	ErrUnknownToken                      = errors.New("settlement: no transfer entry point for token")
	ErrCannotCancelOrder                 = errors.New("settlement: caller cannot cancel order")
)

// Resolver finds the transfer entry point bound to a token address.
type Resolver interface {
	Lookup(addr common.Address) (token.Transferrer, bool)
}

// Engine settles signed orders. It holds no assets; offerers and fulfillers
// approve it on each token they trade.
type Engine struct {
	Address common.Address
	Domain  crypto.Domain
	tokens  Resolver
	logger  *zap.Logger
}

// NewEngine deploys an engine. Validity windows are checked against the
// block time of the transaction that fulfils the order.
func NewEngine(addr common.Address, domain crypto.Domain, tokens Resolver, logger *zap.Logger) *Engine {
	return &Engine{
		Address: addr,
		Domain:  domain,
		tokens:  tokens,
		logger:  util.OrNop(logger).With(zap.String("component", "settlement")),
	}
}

func (e *Engine) statusKey(hash common.Hash, field string) []byte {
	return state.AddrKey("settle", e.Address, "status", hash.Hex(), field)
}

func (e *Engine) counterKey(offerer common.Address) []byte {
	return state.AddrKey("settle", e.Address, "counter", offerer.Hex())
}

// GetCounter returns offerer's current counter.
func (e *Engine) GetCounter(tx *state.Tx, offerer common.Address) (*uint256.Int, error) {
	return tx.GetUint(e.counterKey(offerer))
}

// IncrementCounter invalidates every order caller signed at the current
// counter and returns the new one.
func (e *Engine) IncrementCounter(tx *state.Tx, caller common.Address) (*uint256.Int, error) {
	counter, err := e.GetCounter(tx, caller)
	if err != nil {
		return nil, err
	}
	counter, err = fixedpoint.Add(counter, uint256.NewInt(1))
	if err != nil {
		return nil, err
	}
	if err := tx.SetUint(e.counterKey(caller), counter); err != nil {
		return nil, err
	}
	tx.Emit(CounterIncremented{Offerer: caller, Counter: counter.Clone()})
	return counter, nil
}

// GetOrderHash hashes p at its offerer's current counter.
func (e *Engine) GetOrderHash(tx *state.Tx, p *OrderParameters) (common.Hash, error) {
	counter, err := e.GetCounter(tx, p.Offerer)
	if err != nil {
		return common.Hash{}, err
	}
	return HashOrder(e.Domain, p, counter)
}

// GetOrderStatus returns what the engine has recorded for hash.
func (e *Engine) GetOrderStatus(tx *state.Tx, hash common.Hash) (OrderStatus, error) {
	filled, err := tx.GetBool(e.statusKey(hash, "filled"))
	if err != nil {
		return OrderStatus{}, err
	}
	cancelled, err := tx.GetBool(e.statusKey(hash, "cancelled"))
	if err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{Filled: filled, Cancelled: cancelled}, nil
}

// Sign signs p for signer at the offerer's current counter.
func (e *Engine) Sign(tx *state.Tx, signer *crypto.Signer, p *OrderParameters) ([]byte, error) {
	counter, err := e.GetCounter(tx, p.Offerer)
	if err != nil {
		return nil, err
	}
	return SignOrder(e.Domain, signer, p, counter)
}

// Cancel marks orders as cancelled. Only an order's offerer or zone may
// cancel it.
func (e *Engine) Cancel(tx *state.Tx, caller common.Address, orders []OrderParameters) error {
	for i := range orders {
		p := &orders[i]
		if caller != p.Offerer && caller != p.Zone {
			return fmt.Errorf("%w: %s", ErrCannotCancelOrder, caller.Hex())
		}
		hash, err := e.GetOrderHash(tx, p)
		if err != nil {
			return err
		}
		if err := tx.SetBool(e.statusKey(hash, "cancelled"), true); err != nil {
			return err
		}
		tx.Emit(OrderCancelled{OrderHash: hash, Offerer: p.Offerer})
	}
	return nil
}

// FulfillOrder settles order with caller as fulfiller. Offer items move
// from the offerer to caller first; consideration items then move from
// caller to their recipients in order. Any failure aborts the whole
// settlement.
func (e *Engine) FulfillOrder(tx *state.Tx, caller common.Address, order *Order, conduitKey common.Hash) error {
	p := &order.Parameters
	if conduitKey != (common.Hash{}) || p.ConduitKey != (common.Hash{}) {
		return fmt.Errorf("%w: %s", ErrUnknownConduit, conduitKey.Hex())
	}

	now := uint64(tx.Now().Unix())
	if now < p.StartTime || now >= p.EndTime {
		return fmt.Errorf("%w: now %d, window [%d, %d)", ErrInvalidTime, now, p.StartTime, p.EndTime)
	}
	if uint64(len(p.Consideration)) < p.TotalOriginalConsiderationItems {
		return fmt.Errorf("%w: %d < %d", ErrMissingOriginalConsiderationItems,
			len(p.Consideration), p.TotalOriginalConsiderationItems)
	}
	if p.OrderType.Restricted() && caller != p.Zone && caller != p.Offerer {
		return fmt.Errorf("%w: %s", ErrInvalidRestrictedOrder, caller.Hex())
	}

	hash, err := e.GetOrderHash(tx, p)
	if err != nil {
		return err
	}
	status, err := e.GetOrderStatus(tx, hash)
	if err != nil {
		return err
	}
	if status.Cancelled {
		return fmt.Errorf("%w: %s", ErrOrderIsCancelled, hash.Hex())
	}
	if status.Filled {
		return fmt.Errorf("%w: %s", ErrOrderAlreadyFilled, hash.Hex())
	}

	signer, err := crypto.RecoverAddress(hash.Bytes(), order.Signature)
	if err != nil || signer != p.Offerer {
		return fmt.Errorf("%w: order %s", ErrInvalidSigner, hash.Hex())
	}

	if err := tx.SetBool(e.statusKey(hash, "filled"), true); err != nil {
		return err
	}

	for i, it := range p.Offer {
		amount, err := currentAmount(it.StartAmount, it.EndAmount, p.StartTime, p.EndTime, now, false)
		if err != nil {
			return fmt.Errorf("offer item %d: %w", i, err)
		}
		if err := e.transfer(tx, it.ItemType, it.Token, p.Offerer, caller, amount); err != nil {
			return fmt.Errorf("offer item %d: %w", i, err)
		}
	}
	for i, it := range p.Consideration {
		amount, err := currentAmount(it.StartAmount, it.EndAmount, p.StartTime, p.EndTime, now, true)
		if err != nil {
			return fmt.Errorf("consideration item %d: %w", i, err)
		}
		if err := e.transfer(tx, it.ItemType, it.Token, caller, it.Recipient, amount); err != nil {
			return fmt.Errorf("consideration item %d: %w", i, err)
		}
	}

	e.logger.Debug("order_fulfilled",
		zap.String("order_hash", hash.Hex()),
		zap.String("offerer", p.Offerer.Hex()),
		zap.String("fulfiller", caller.Hex()))
	tx.Emit(OrderFulfilled{OrderHash: hash, Offerer: p.Offerer, Zone: p.Zone, Fulfiller: caller})
	return nil
}

func (e *Engine) transfer(tx *state.Tx, kind ItemType, tok, from, to common.Address, amount *uint256.Int) error {
	if kind != ItemERC20 {
		return fmt.Errorf("%w: %s", ErrUnsupportedItemType, kind)
	}
	if amount.IsZero() {
		return ErrMissingItemAmount
	}
	t, ok := e.tokens.Lookup(tok)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}
	return t.TransferFrom(tx, e.Address, from, to, amount)
}

// currentAmount interpolates linearly between start and end across the
// order's window.
func currentAmount(start, end *uint256.Int, startTime, endTime, now uint64, roundUp bool) (*uint256.Int, error) {
	if start == nil || end == nil {
		return nil, ErrMissingItemAmount
	}
	if start.Eq(end) {
		return start.Clone(), nil
	}
	duration := uint256.NewInt(endTime - startTime)
	elapsed := uint256.NewInt(now - startTime)
	remaining := uint256.NewInt(endTime - now)

	a, overflow := new(uint256.Int).MulOverflow(start, remaining)
	if overflow {
		return nil, fixedpoint.ErrOverflow
	}
	b, overflow := new(uint256.Int).MulOverflow(end, elapsed)
	if overflow {
		return nil, fixedpoint.ErrOverflow
	}
	total, err := fixedpoint.Add(a, b)
	if err != nil {
		return nil, err
	}
	if roundUp {
		return fixedpoint.MulDivUp(total, uint256.NewInt(1), duration)
	}
	return fixedpoint.MulDivDown(total, uint256.NewInt(1), duration)
}
