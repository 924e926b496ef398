package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/state"
)

// Collateral returns the collateral locked in user's vault.
func (p *Pool) Collateral(tx *state.Tx, market uint8, user common.Address) (*uint256.Int, error) {
	return tx.GetUint(p.vaultKey(market, user, "coll"))
}

// NormalizedDebt returns user's debt in normalized units.
func (p *Pool) NormalizedDebt(tx *state.Tx, market uint8, user common.Address) (*uint256.Int, error) {
	return tx.GetUint(p.vaultKey(market, user, "norm"))
}

// Vault returns (collateral, normalizedDebt).
func (p *Pool) Vault(tx *state.Tx, market uint8, user common.Address) (*uint256.Int, *uint256.Int, error) {
	coll, err := p.Collateral(tx, market, user)
	if err != nil {
		return nil, nil, err
	}
	norm, err := p.NormalizedDebt(tx, market, user)
	if err != nil {
		return nil, nil, err
	}
	return coll, norm, nil
}

// Debt returns user's debt in base units at the current rate, rounded up.
func (p *Pool) Debt(tx *state.Tx, market uint8, user common.Address) (*uint256.Int, error) {
	norm, err := p.NormalizedDebt(tx, market, user)
	if err != nil {
		return nil, err
	}
	rate, err := p.Rate(tx, market)
	if err != nil {
		return nil, err
	}
	return fixedpoint.RayMulUp(norm, rate)
}

// Gem returns user's unlocked collateral credit.
func (p *Pool) Gem(tx *state.Tx, market uint8, user common.Address) (*uint256.Int, error) {
	return tx.GetUint(p.gemKey(market, user))
}

// MintGem credits user with gem. Only the market's join may call it.
func (p *Pool) MintGem(tx *state.Tx, caller common.Address, market uint8, user common.Address, amount *uint256.Int) error {
	if err := p.requireJoin(tx, caller, market); err != nil {
		return err
	}
	gem, err := p.Gem(tx, market, user)
	if err != nil {
		return err
	}
	gem, err = fixedpoint.Add(gem, amount)
	if err != nil {
		return err
	}
	return tx.SetUint(p.gemKey(market, user), gem)
}

// BurnGem debits user's gem. Only the market's join may call it.
func (p *Pool) BurnGem(tx *state.Tx, caller common.Address, market uint8, user common.Address, amount *uint256.Int) error {
	if err := p.requireJoin(tx, caller, market); err != nil {
		return err
	}
	return p.debitGem(tx, market, user, amount)
}

func (p *Pool) requireJoin(tx *state.Tx, caller common.Address, market uint8) error {
	if err := p.requireMarket(tx, market); err != nil {
		return err
	}
	join, err := p.addr(tx, market, "join")
	if err != nil {
		return err
	}
	if caller != join {
		return fmt.Errorf("%w: %s", ErrUnauthorizedJoin, caller.Hex())
	}
	return nil
}

func (p *Pool) debitGem(tx *state.Tx, market uint8, user common.Address, amount *uint256.Int) error {
	gem, err := p.Gem(tx, market, user)
	if err != nil {
		return err
	}
	if gem.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientGem, user.Hex(), gem.Dec(), amount.Dec())
	}
	return tx.SetUint(p.gemKey(market, user), new(uint256.Int).Sub(gem, amount))
}

// DepositCollateral locks amount of depositor's gem into user's vault.
func (p *Pool) DepositCollateral(tx *state.Tx, caller common.Address, market uint8, user, depositor common.Address, amount *uint256.Int, proof []common.Hash) error {
	if err := p.requireMarket(tx, market); err != nil {
		return err
	}
	if _, err := p.Whitelist.IsWhitelistedBorrower(tx, market, caller, user, proof); err != nil {
		return err
	}
	if err := p.requireConsent(tx, depositor, caller); err != nil {
		return err
	}
	if err := p.debitGem(tx, market, depositor, amount); err != nil {
		return err
	}
	coll, err := p.Collateral(tx, market, user)
	if err != nil {
		return err
	}
	coll, err = fixedpoint.Add(coll, amount)
	if err != nil {
		return err
	}
	if err := tx.SetUint(p.vaultKey(market, user, "coll"), coll); err != nil {
		return err
	}
	return p.emitVault(tx, market, user, nil)
}

// WithdrawCollateral unlocks amount from user's vault into recipient's gem.
// The vault must stay safe.
func (p *Pool) WithdrawCollateral(tx *state.Tx, caller common.Address, market uint8, user, recipient common.Address, amount *uint256.Int) error {
	if err := p.requireConsent(tx, user, caller); err != nil {
		return err
	}
	rate, err := p.accrue(tx, market)
	if err != nil {
		return err
	}
	coll, err := p.Collateral(tx, market, user)
	if err != nil {
		return err
	}
	if coll.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientCollateral, user.Hex(), coll.Dec(), amount.Dec())
	}
	if err := tx.SetUint(p.vaultKey(market, user, "coll"), new(uint256.Int).Sub(coll, amount)); err != nil {
		return err
	}
	gem, err := p.Gem(tx, market, recipient)
	if err != nil {
		return err
	}
	gem, err = fixedpoint.Add(gem, amount)
	if err != nil {
		return err
	}
	if err := tx.SetUint(p.gemKey(market, recipient), gem); err != nil {
		return err
	}
	if err := p.requireSafe(tx, market, user, rate); err != nil {
		return err
	}
	return p.emitVault(tx, market, user, rate)
}

// Borrow adds normalized debt to user's vault and sends the base-asset
// equivalent, rounded down, to recipient. It returns the amount sent.
func (p *Pool) Borrow(tx *state.Tx, caller common.Address, market uint8, user, recipient common.Address, normalized *uint256.Int, proof []common.Hash) (*uint256.Int, error) {
	if err := p.requireMarket(tx, market); err != nil {
		return nil, err
	}
	if _, err := p.Whitelist.IsWhitelistedBorrower(tx, market, caller, user, proof); err != nil {
		return nil, err
	}
	if err := p.requireConsent(tx, user, caller); err != nil {
		return nil, err
	}
	rate, err := p.accrue(tx, market)
	if err != nil {
		return nil, err
	}
	norm, err := p.NormalizedDebt(tx, market, user)
	if err != nil {
		return nil, err
	}
	if norm, err = fixedpoint.Add(norm, normalized); err != nil {
		return nil, err
	}
	total, err := tx.GetUint(p.marketKey(market, "total"))
	if err != nil {
		return nil, err
	}
	if total, err = fixedpoint.Add(total, normalized); err != nil {
		return nil, err
	}
	if err := tx.SetUint(p.vaultKey(market, user, "norm"), norm); err != nil {
		return nil, err
	}
	if err := tx.SetUint(p.marketKey(market, "total"), total); err != nil {
		return nil, err
	}
	if err := p.requireCeiling(tx, market, total, rate); err != nil {
		return nil, err
	}
	if err := p.requireSafe(tx, market, user, rate); err != nil {
		return nil, err
	}
	amount, err := fixedpoint.RayMulDown(normalized, rate)
	if err != nil {
		return nil, err
	}
	if err := p.requireLiquidity(tx, amount); err != nil {
		return nil, err
	}
	if err := p.Base.Transfer(tx, p.Address, recipient, amount); err != nil {
		return nil, err
	}
	return amount, p.emitVault(tx, market, user, rate)
}

// Repay removes normalized debt from user's vault and pulls the base-asset
// equivalent, rounded up, from payer. It returns the amount pulled.
func (p *Pool) Repay(tx *state.Tx, caller common.Address, market uint8, user, payer common.Address, normalized *uint256.Int) (*uint256.Int, error) {
	if err := p.requireConsent(tx, payer, caller); err != nil {
		return nil, err
	}
	rate, err := p.accrue(tx, market)
	if err != nil {
		return nil, err
	}
	norm, err := p.NormalizedDebt(tx, market, user)
	if err != nil {
		return nil, err
	}
	if norm.Lt(normalized) {
		return nil, fmt.Errorf("%w: owes %s, repaying %s", ErrRepayExceedsDebt, norm.Dec(), normalized.Dec())
	}
	total, err := tx.GetUint(p.marketKey(market, "total"))
	if err != nil {
		return nil, err
	}
	if total, err = fixedpoint.Sub(total, normalized); err != nil {
		return nil, err
	}
	if err := tx.SetUint(p.vaultKey(market, user, "norm"), new(uint256.Int).Sub(norm, normalized)); err != nil {
		return nil, err
	}
	if err := tx.SetUint(p.marketKey(market, "total"), total); err != nil {
		return nil, err
	}
	amount, err := fixedpoint.RayMulUp(normalized, rate)
	if err != nil {
		return nil, err
	}
	if err := p.Base.TransferFrom(tx, p.Address, payer, p.Address, amount); err != nil {
		return nil, err
	}
	return amount, p.emitVault(tx, market, user, rate)
}

// requireSafe checks normalizedDebt*rate <= collateral*spot.
func (p *Pool) requireSafe(tx *state.Tx, market uint8, user common.Address, rate *uint256.Int) error {
	coll, norm, err := p.Vault(tx, market, user)
	if err != nil {
		return err
	}
	if norm.IsZero() {
		return nil
	}
	spot, err := tx.GetUint(p.marketKey(market, "spot"))
	if err != nil {
		return err
	}
	debt, err := fixedpoint.ToRad(norm, rate)
	if err != nil {
		return err
	}
	limit, err := fixedpoint.ToRad(coll, spot)
	if err != nil {
		return err
	}
	if debt.Gt(limit) {
		return fmt.Errorf("%w: %s debt %s rad over limit %s rad", ErrUnsafePosition, user.Hex(), debt.Dec(), limit.Dec())
	}
	return nil
}

func (p *Pool) requireCeiling(tx *state.Tx, market uint8, total, rate *uint256.Int) error {
	ceiling, err := tx.GetUint(p.marketKey(market, "ceiling"))
	if err != nil {
		return err
	}
	if ceiling.IsZero() {
		return nil
	}
	debt, err := fixedpoint.ToRad(total, rate)
	if err != nil {
		return err
	}
	limit, err := fixedpoint.ToRad(ceiling, fixedpoint.RAY)
	if err != nil {
		return err
	}
	if debt.Gt(limit) {
		return fmt.Errorf("%w: market %d", ErrCeilingExceeded, market)
	}
	return nil
}

func (p *Pool) emitVault(tx *state.Tx, market uint8, user common.Address, rate *uint256.Int) error {
	coll, norm, err := p.Vault(tx, market, user)
	if err != nil {
		return err
	}
	if rate == nil {
		if rate, err = p.Rate(tx, market); err != nil {
			return err
		}
	}
	tx.Emit(VaultUpdated{Market: market, User: user, Collateral: coll, NormalizedDebt: norm, Rate: rate.Clone()})
	return nil
}
