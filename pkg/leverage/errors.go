package leverage

import (
	"errors"
	"fmt"
)

// Order shape.
var (
	ErrOffersLengthMustBeOne                  = errors.New("offers length must be one")
	ErrConsiderationsLengthMustBeTwo          = errors.New("considerations length must be two")
	ErrZoneMustBeThis                         = errors.New("zone must be this")
	ErrOrderTypeMustBeFullRestricted          = errors.New("order type must be full restricted")
	ErrConduitKeyMustBeZero                   = errors.New("conduit key must be zero")
	ErrInvalidTotalOriginalConsiderationItems = errors.New("invalid total original consideration items")
)

// Legs shared by both directions.
var (
	ErrOfferItemTypeMustBeERC20            = errors.New("offer item type must be ERC20")
	ErrConsideration0ItemTypeMustBeERC20   = errors.New("consideration 0 item type must be ERC20")
	ErrConsideration0TokenMustBeThis       = errors.New("consideration 0 token must be this")
	ErrConsideration0RecipientMustBeSender = errors.New("consideration 0 recipient must be sender")
	ErrConsideration1ItemTypeMustBeERC20   = errors.New("consideration 1 item type must be ERC20")
)

// Leverage legs.
var (
	ErrOfferTokenMustBeCollateral                    = errors.New("offer token must be collateral")
	ErrOfferStartAmountMustBeCollateralToPurchase    = errors.New("offer start amount must be collateral to purchase")
	ErrOfferEndAmountMustBeCollateralToPurchase      = errors.New("offer end amount must be collateral to purchase")
	ErrConsideration0StartAmountMustBeAmountToBorrow = errors.New("consideration 0 start amount must be amount to borrow")
	ErrConsideration0EndAmountMustBeAmountToBorrow   = errors.New("consideration 0 end amount must be amount to borrow")
	ErrConsideration1TokenMustBeBase                 = errors.New("consideration 1 token must be base")
	ErrConsideration1StartAmountMustBeAmountToBorrow = errors.New("consideration 1 start amount must be amount to borrow")
	ErrConsideration1EndAmountMustBeAmountToBorrow   = errors.New("consideration 1 end amount must be amount to borrow")
)

// Deleverage legs.
var (
	ErrOfferTokenMustBeBase                              = errors.New("offer token must be base")
	ErrOfferStartAmountMustBeDebtToRepay                 = errors.New("offer start amount must be debt to repay")
	ErrOfferEndAmountMustBeDebtToRepay                   = errors.New("offer end amount must be debt to repay")
	ErrConsideration0StartAmountMustBeDebtToRepay        = errors.New("consideration 0 start amount must be debt to repay")
	ErrConsideration0EndAmountMustBeDebtToRepay          = errors.New("consideration 0 end amount must be debt to repay")
	ErrConsideration1TokenMustBeCollateral               = errors.New("consideration 1 token must be collateral")
	ErrConsideration1StartAmountMustBeCollateralToRemove = errors.New("consideration 1 start amount must be collateral to remove")
	ErrConsideration1EndAmountMustBeCollateralToRemove   = errors.New("consideration 1 end amount must be collateral to remove")
)

// Position state.
var (
	ErrNotEnoughCollateral      = errors.New("not enough collateral")
	ErrZeroCollateralToPurchase = errors.New("zero collateral to purchase")
)

// Callback guard.
var (
	ErrMsgSenderMustBeSeaport = errors.New("msg sender must be seaport")
	ErrNotACallback           = errors.New("not a callback")
)

var ErrInvalidContractConfigs = errors.New("invalid contract configs")

// RuleError is a rejected order or position check. It unwraps to the
// sentinel naming the rule.
type RuleError struct {
	Rule     error
	Actual   string
	Expected string
}

func (e *RuleError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%v: %s", e.Rule, e.Actual)
	}
	return fmt.Sprintf("%v: got %s, want %s", e.Rule, e.Actual, e.Expected)
}

func (e *RuleError) Unwrap() error { return e.Rule }

func reject(rule error, actual, expected any) *RuleError {
	e := &RuleError{Rule: rule, Actual: render(actual)}
	if expected != nil {
		e.Expected = render(expected)
	}
	return e
}

// InvariantError is raised as a panic when post-settlement accounting does
// not balance. The ledger transaction it interrupts is discarded.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated: %s (%s)", e.Invariant, e.Detail)
}
