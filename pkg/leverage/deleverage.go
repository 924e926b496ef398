package leverage

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/settlement"
	"github.com/uhyunpark/hyperlever/pkg/state"
)

// Deleverager shrinks a position: the counterparty supplies base asset to
// repay debt and receives the collateral that frees up.
type Deleverager struct {
	*Core
}

func NewDeleverager(addr common.Address, cfg Config) (*Deleverager, error) {
	core, err := newCore(addr, Delever, cfg)
	if err != nil {
		return nil, err
	}
	return &Deleverager{Core: core}, nil
}

// Deleverage settles order so that caller's vault loses collateralToRemove
// of collateral and up to debtToRepay of debt. Any base asset beyond what
// the debt needs is returned to caller.
func (d *Deleverager) Deleverage(
	tx *state.Tx,
	caller common.Address,
	order *settlement.Order,
	collateralToRemove, debtToRepay *uint256.Int,
) (err error) {
	defer d.observe(tx, time.Now(), &err)

	if err := d.validateShape(order); err != nil {
		return err
	}
	available, err := d.pool.Collateral(tx, d.market, caller)
	if err != nil {
		return err
	}
	if collateralToRemove.Gt(available) {
		return reject(ErrNotEnoughCollateral, collateralToRemove, available)
	}
	if err := d.validateLegs(order, caller, legs{
		offer:  debtToRepay,
		first:  debtToRepay,
		second: collateralToRemove,
	}); err != nil {
		return err
	}

	if err := d.settle(tx, order, collateralToRemove); err != nil {
		return err
	}

	d.logger.Info("deleverage_settled",
		zap.String("user", caller.Hex()),
		zap.String("collateral", collateralToRemove.Dec()),
		zap.String("repay", debtToRepay.Dec()))
	return nil
}

// TransferFrom is the settlement engine's entry point for the first
// consideration item. to is the user, amount is the base asset to repay,
// which the engine has already delivered from the counterparty.
func (d *Deleverager) TransferFrom(tx *state.Tx, caller, from, to common.Address, amount *uint256.Int) error {
	collateralToRemove, err := d.authorize(tx, caller)
	if err != nil {
		return err
	}
	user := to

	rate, err := d.pool.Rate(tx, d.market)
	if err != nil {
		return err
	}
	current, err := d.pool.NormalizedDebt(tx, d.market, user)
	if err != nil {
		return err
	}
	normalized, err := fixedpoint.RayDivDown(amount, rate)
	if err != nil {
		return err
	}

	var repaid, refunded *uint256.Int
	closed := normalized.Gt(current)
	if closed {
		// amount covers more than is owed: clear the debt, return the rest.
		necessary, err := fixedpoint.RayMulUp(current, rate)
		if err != nil {
			return err
		}
		if refunded, err = fixedpoint.Sub(amount, necessary); err != nil {
			return err
		}
		if err := d.refund(tx, user, refunded); err != nil {
			return err
		}
		normalized = current
		if repaid, err = d.pool.Repay(tx, d.Address, d.market, user, d.Address, normalized); err != nil {
			return err
		}
		left, err := d.base.BalanceOf(tx, d.Address)
		if err != nil {
			return err
		}
		if !left.IsZero() {
			panic(&InvariantError{
				Invariant: "base balance must be zero after full repayment",
				Detail:    fmt.Sprintf("%s holds %s", d.Address.Hex(), left.Dec()),
			})
		}
	} else {
		if repaid, err = d.pool.Repay(tx, d.Address, d.market, user, d.Address, normalized); err != nil {
			return err
		}
		if refunded, err = fixedpoint.Sub(amount, repaid); err != nil {
			return err
		}
		if err := d.refund(tx, user, refunded); err != nil {
			return err
		}
	}

	// The collateral stays with this contract: the engine pays it to the
	// counterparty as the second consideration item.
	if err := d.pool.WithdrawCollateral(tx, d.Address, d.market, user, d.Address, collateralToRemove); err != nil {
		return err
	}
	if err := d.join.Exit(tx, d.Address, d.Address, collateralToRemove); err != nil {
		return err
	}

	d.logger.Debug("deleverage_callback",
		zap.String("user", user.Hex()),
		zap.String("rate", rate.Dec()),
		zap.String("normalized", normalized.Dec()),
		zap.Bool("closed", closed))
	tx.Emit(Delevered{
		Market:            d.market,
		User:              user,
		CollateralRemoved: collateralToRemove,
		Repaid:            repaid,
		NormalizedRepaid:  normalized,
		Refunded:          refunded,
		Closed:            closed,
	})
	return nil
}
