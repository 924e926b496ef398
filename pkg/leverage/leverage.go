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

// Leverager increases a position: the counterparty sells collateral for
// base asset that the pool lends against the enlarged vault.
type Leverager struct {
	*Core
}

func NewLeverager(addr common.Address, cfg Config) (*Leverager, error) {
	core, err := newCore(addr, Lever, cfg)
	if err != nil {
		return nil, err
	}
	return &Leverager{Core: core}, nil
}

// Leverage settles order so that caller's vault gains
// resultingAdditionalCollateral of collateral and at least amountToBorrow of
// debt. initialDeposit comes from caller; the counterparty supplies the
// rest of the collateral and is paid amountToBorrow of base asset.
func (l *Leverager) Leverage(
	tx *state.Tx,
	caller common.Address,
	order *settlement.Order,
	initialDeposit, resultingAdditionalCollateral, amountToBorrow *uint256.Int,
	proof []common.Hash,
) (err error) {
	defer l.observe(tx, time.Now(), &err)

	if _, err := l.whitelist.IsWhitelistedBorrower(tx, l.market, caller, caller, proof); err != nil {
		return err
	}
	if err := l.validateShape(order); err != nil {
		return err
	}
	collateralToPurchase, err := fixedpoint.Sub(resultingAdditionalCollateral, initialDeposit)
	if err != nil {
		return fmt.Errorf("collateral to purchase: %w", err)
	}
	if collateralToPurchase.IsZero() {
		return ErrZeroCollateralToPurchase
	}
	if err := l.validateLegs(order, caller, legs{
		offer:  collateralToPurchase,
		first:  amountToBorrow,
		second: amountToBorrow,
	}); err != nil {
		return err
	}

	if err := l.collateral.TransferFrom(tx, l.Address, caller, l.Address, initialDeposit); err != nil {
		return err
	}
	if err := l.settle(tx, order, resultingAdditionalCollateral); err != nil {
		return err
	}

	l.logger.Info("leverage_settled",
		zap.String("user", caller.Hex()),
		zap.String("collateral", resultingAdditionalCollateral.Dec()),
		zap.String("borrow", amountToBorrow.Dec()))
	return nil
}

// TransferFrom is the settlement engine's entry point for the first
// consideration item. to is the user, amount is the base asset to borrow.
// The engine has already delivered the purchased collateral.
func (l *Leverager) TransferFrom(tx *state.Tx, caller, from, to common.Address, amount *uint256.Int) error {
	resultingAdditionalCollateral, err := l.authorize(tx, caller)
	if err != nil {
		return err
	}
	user := to

	if err := l.join.Join(tx, l.Address, l.Address, resultingAdditionalCollateral); err != nil {
		return err
	}
	if err := l.pool.DepositCollateral(tx, l.Address, l.market, user, l.Address, resultingAdditionalCollateral, nil); err != nil {
		return err
	}

	rate, err := l.pool.Rate(tx, l.market)
	if err != nil {
		return err
	}
	// Rounding up keeps the borrowed amount at or above amount.
	normalized, err := fixedpoint.RayDivUp(amount, rate)
	if err != nil {
		return err
	}
	borrowed, err := l.pool.Borrow(tx, l.Address, l.market, user, l.Address, normalized, nil)
	if err != nil {
		return err
	}
	dust, err := fixedpoint.Sub(borrowed, amount)
	if err != nil {
		return fmt.Errorf("borrowed below amount: %w", err)
	}
	if err := l.refund(tx, user, dust); err != nil {
		return err
	}

	l.logger.Debug("leverage_callback",
		zap.String("user", user.Hex()),
		zap.String("rate", rate.Dec()),
		zap.String("normalized", normalized.Dec()),
		zap.String("dust", dust.Dec()))
	tx.Emit(Levered{
		Market:         l.market,
		User:           user,
		Collateral:     resultingAdditionalCollateral,
		Borrowed:       borrowed,
		NormalizedDebt: normalized,
		Dust:           dust,
	})
	return nil
}
