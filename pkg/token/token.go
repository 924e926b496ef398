// Package token is a fungible-token ledger with ERC20 semantics, stored in
// the transaction ledger so transfers roll back with the call that made them.
package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/state"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotMinter             = errors.New("token: caller is not the minter")
	ErrZeroAddress           = errors.New("token: zero address")
)

// Transferred is emitted for every balance movement, mints included.
type Transferred struct {
	Token  common.Address `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (Transferred) EventName() string { return "transfer" }

// Token is one deployed fungible asset.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Minter   common.Address
}

// New describes a token deployed at addr whose supply only minter can grow.
func New(addr common.Address, symbol string, decimals uint8, minter common.Address) *Token {
	return &Token{Address: addr, Symbol: symbol, Decimals: decimals, Minter: minter}
}

func (t *Token) balanceKey(owner common.Address) []byte {
	return state.AddrKey("tok", t.Address, "bal", owner.Hex())
}

func (t *Token) allowanceKey(owner, spender common.Address) []byte {
	return state.AddrKey("tok", t.Address, "allow", owner.Hex(), spender.Hex())
}

func (t *Token) supplyKey() []byte {
	return state.AddrKey("tok", t.Address, "supply")
}

// BalanceOf returns owner's balance.
func (t *Token) BalanceOf(tx *state.Tx, owner common.Address) (*uint256.Int, error) {
	return tx.GetUint(t.balanceKey(owner))
}

// TotalSupply returns the minted supply.
func (t *Token) TotalSupply(tx *state.Tx) (*uint256.Int, error) {
	return tx.GetUint(t.supplyKey())
}

// Allowance returns how much spender may move out of owner's balance.
func (t *Token) Allowance(tx *state.Tx, owner, spender common.Address) (*uint256.Int, error) {
	return tx.GetUint(t.allowanceKey(owner, spender))
}

// Approve sets caller's allowance for spender.
func (t *Token) Approve(tx *state.Tx, caller, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	return tx.SetUint(t.allowanceKey(caller, spender), amount)
}

// Transfer moves amount from caller to to.
func (t *Token) Transfer(tx *state.Tx, caller, to common.Address, amount *uint256.Int) error {
	return t.move(tx, caller, to, amount)
}

// TransferFrom moves amount from from to to on caller's allowance. A maximal
// allowance is never decremented.
func (t *Token) TransferFrom(tx *state.Tx, caller, from, to common.Address, amount *uint256.Int) error {
	if caller != from {
		allowance, err := t.Allowance(tx, from, caller)
		if err != nil {
			return err
		}
		if !allowance.Eq(fixedpoint.Max()) {
			if allowance.Lt(amount) {
				return fmt.Errorf("%w: %s allows %s %s, need %s",
					ErrInsufficientAllowance, from.Hex(), caller.Hex(), allowance.Dec(), amount.Dec())
			}
			rest := new(uint256.Int).Sub(allowance, amount)
			if err := tx.SetUint(t.allowanceKey(from, caller), rest); err != nil {
				return err
			}
		}
	}
	return t.move(tx, from, to, amount)
}

// Mint creates amount for to. Only the minter may call it.
func (t *Token) Mint(tx *state.Tx, caller, to common.Address, amount *uint256.Int) error {
	if caller != t.Minter {
		return ErrNotMinter
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	supply, err := t.TotalSupply(tx)
	if err != nil {
		return err
	}
	supply, err = fixedpoint.Add(supply, amount)
	if err != nil {
		return err
	}
	bal, err := t.BalanceOf(tx, to)
	if err != nil {
		return err
	}
	bal, err = fixedpoint.Add(bal, amount)
	if err != nil {
		return err
	}
	if err := tx.SetUint(t.supplyKey(), supply); err != nil {
		return err
	}
	if err := tx.SetUint(t.balanceKey(to), bal); err != nil {
		return err
	}
	tx.Emit(Transferred{Token: t.Address, To: to, Amount: amount.Clone()})
	return nil
}

func (t *Token) move(tx *state.Tx, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromBal, err := t.BalanceOf(tx, from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s %s has %s, need %s",
			ErrInsufficientBalance, t.Symbol, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := t.BalanceOf(tx, to)
	if err != nil {
		return err
	}
	toBal, err = fixedpoint.Add(toBal, amount)
	if err != nil {
		return err
	}
	if err := tx.SetUint(t.balanceKey(from), new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := tx.SetUint(t.balanceKey(to), toBal); err != nil {
		return err
	}
	tx.Emit(Transferred{Token: t.Address, From: from, To: to, Amount: amount.Clone()})
	return nil
}
