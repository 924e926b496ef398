// Package pool is the lending-pool ledger: per-market collateral vaults,
// normalized debt with a linearly accruing rate, and a single base asset
// that lenders supply and borrowers draw.
//
// Amounts follow the fixed-point conventions of package fixedpoint:
// collateral, gem and normalized debt are WAD, rate and spot are RAY.
package pool

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/token"
	"github.com/uhyunpark/hyperlever/pkg/whitelist"
)

var (
	ErrUnsafePosition         = errors.New("pool: unsafe position")
	ErrCeilingExceeded        = errors.New("pool: debt ceiling exceeded")
	ErrInsufficientLiquidity  = errors.New("pool: insufficient liquidity")
	ErrUnauthorizedOperator   = errors.New("pool: unauthorized operator")
	ErrUnauthorizedJoin       = errors.New("pool: unauthorized join")
	ErrInsufficientGem        = errors.New("pool: insufficient gem")
	ErrInsufficientCollateral = errors.New("pool: insufficient collateral")
	ErrRepayExceedsDebt       = errors.New("pool: repay exceeds debt")
	ErrUnknownMarket          = errors.New("pool: unknown market")
	ErrInsufficientSupply     = errors.New("pool: insufficient supplied balance")
	ErrNotOwner               = errors.New("pool: caller is not the owner")
)

// VaultUpdated is emitted whenever a vault's collateral or debt changes.
type VaultUpdated struct {
	Market         uint8          `json:"market"`
	User           common.Address `json:"user"`
	Collateral     *uint256.Int   `json:"collateral"`
	NormalizedDebt *uint256.Int   `json:"normalizedDebt"`
	Rate           *uint256.Int   `json:"rate"`
}

func (VaultUpdated) EventName() string         { return "vault_updated" }
func (e VaultUpdated) Account() common.Address { return e.User }

// Pool is the lending pool deployed at Address. It holds its base-asset
// liquidity under its own address.
type Pool struct {
	Address   common.Address
	Owner     common.Address
	Base      *token.Token
	Whitelist *whitelist.Whitelist
}

// New deploys a pool. Interest accrues against each transaction's block time.
func New(addr, owner common.Address, base *token.Token, wl *whitelist.Whitelist) *Pool {
	return &Pool{Address: addr, Owner: owner, Base: base, Whitelist: wl}
}

func (p *Pool) key(parts ...string) []byte {
	return state.AddrKey("pool", p.Address, parts...)
}

func (p *Pool) marketKey(market uint8, field string) []byte {
	return p.key("m", strconv.Itoa(int(market)), field)
}

func (p *Pool) vaultKey(market uint8, user common.Address, field string) []byte {
	return p.key("v", strconv.Itoa(int(market)), user.Hex(), field)
}

func (p *Pool) gemKey(market uint8, user common.Address) []byte {
	return p.key("gem", strconv.Itoa(int(market)), user.Hex())
}

func (p *Pool) operatorKey(user, operator common.Address) []byte {
	return p.key("op", user.Hex(), operator.Hex())
}

func (p *Pool) supplyKey(lender common.Address) []byte {
	return p.key("sup", lender.Hex())
}

// AddOperator lets operator act on caller's vaults and gem.
func (p *Pool) AddOperator(tx *state.Tx, caller, operator common.Address) error {
	return tx.SetBool(p.operatorKey(caller, operator), true)
}

func (p *Pool) RemoveOperator(tx *state.Tx, caller, operator common.Address) error {
	return tx.SetBool(p.operatorKey(caller, operator), false)
}

// IsOperator reports whether operator may act for user.
func (p *Pool) IsOperator(tx *state.Tx, user, operator common.Address) (bool, error) {
	return tx.GetBool(p.operatorKey(user, operator))
}

func (p *Pool) requireConsent(tx *state.Tx, user, caller common.Address) error {
	if user == caller {
		return nil
	}
	ok, err := p.IsOperator(tx, user, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s for %s", ErrUnauthorizedOperator, caller.Hex(), user.Hex())
	}
	return nil
}

// Supply moves amount of base asset from caller into the pool.
func (p *Pool) Supply(tx *state.Tx, caller common.Address, amount *uint256.Int) error {
	supplied, err := tx.GetUint(p.supplyKey(caller))
	if err != nil {
		return err
	}
	supplied, err = fixedpoint.Add(supplied, amount)
	if err != nil {
		return err
	}
	if err := p.Base.TransferFrom(tx, p.Address, caller, p.Address, amount); err != nil {
		return err
	}
	return tx.SetUint(p.supplyKey(caller), supplied)
}

// Withdraw returns supplied base asset to caller.
func (p *Pool) Withdraw(tx *state.Tx, caller common.Address, amount *uint256.Int) error {
	supplied, err := tx.GetUint(p.supplyKey(caller))
	if err != nil {
		return err
	}
	if supplied.Lt(amount) {
		return fmt.Errorf("%w: %s supplied %s", ErrInsufficientSupply, caller.Hex(), supplied.Dec())
	}
	if err := p.requireLiquidity(tx, amount); err != nil {
		return err
	}
	if err := tx.SetUint(p.supplyKey(caller), new(uint256.Int).Sub(supplied, amount)); err != nil {
		return err
	}
	return p.Base.Transfer(tx, p.Address, caller, amount)
}

// Supplied returns lender's supplied balance.
func (p *Pool) Supplied(tx *state.Tx, lender common.Address) (*uint256.Int, error) {
	return tx.GetUint(p.supplyKey(lender))
}

// Liquidity is the base asset the pool can lend out right now.
func (p *Pool) Liquidity(tx *state.Tx) (*uint256.Int, error) {
	return p.Base.BalanceOf(tx, p.Address)
}

func (p *Pool) requireLiquidity(tx *state.Tx, amount *uint256.Int) error {
	liq, err := p.Liquidity(tx)
	if err != nil {
		return err
	}
	if liq.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientLiquidity, liq.Dec(), amount.Dec())
	}
	return nil
}
