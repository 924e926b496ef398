package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/state"
)

// MarketConfig seeds a market.
type MarketConfig struct {
	Index      uint8
	Collateral common.Address
	Join       common.Address
	// RatePerSecond is the RAY fraction the rate grows by each second.
	RatePerSecond *uint256.Int
	// Spot is the borrowable base value of one unit of collateral (RAY),
	// loan-to-value included.
	Spot *uint256.Int
	// DebtCeiling caps total debt in base units (WAD). Zero disables it.
	DebtCeiling *uint256.Int
}

// MarketInfo is a snapshot of a market's parameters and accumulators.
type MarketInfo struct {
	Index               uint8          `json:"index"`
	Collateral          common.Address `json:"collateral"`
	Join                common.Address `json:"join"`
	Rate                *uint256.Int   `json:"rate"`
	RatePerSecond       *uint256.Int   `json:"ratePerSecond"`
	Spot                *uint256.Int   `json:"spot"`
	DebtCeiling         *uint256.Int   `json:"debtCeiling"`
	TotalNormalizedDebt *uint256.Int   `json:"totalNormalizedDebt"`
	LastAccrual         uint64         `json:"lastAccrual"`
}

// InitializeMarket registers a market. Only the owner may call it, and only
// once per index.
func (p *Pool) InitializeMarket(tx *state.Tx, caller common.Address, cfg MarketConfig) error {
	if caller != p.Owner {
		return ErrNotOwner
	}
	exists, err := tx.GetBool(p.marketKey(cfg.Index, "init"))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("pool: market %d already initialized", cfg.Index)
	}
	if cfg.Join == (common.Address{}) || cfg.Spot == nil || cfg.RatePerSecond == nil {
		return fmt.Errorf("pool: incomplete config for market %d", cfg.Index)
	}
	ceiling := cfg.DebtCeiling
	if ceiling == nil {
		ceiling = fixedpoint.Zero()
	}
	writes := []struct {
		field string
		v     *uint256.Int
	}{
		{"rate", fixedpoint.RAY},
		{"rps", cfg.RatePerSecond},
		{"spot", cfg.Spot},
		{"ceiling", ceiling},
		{"last", uint256.NewInt(uint64(tx.Now().Unix()))},
	}
	for _, w := range writes {
		if err := tx.SetUint(p.marketKey(cfg.Index, w.field), w.v); err != nil {
			return err
		}
	}
	if err := tx.Set(p.marketKey(cfg.Index, "join"), cfg.Join.Bytes()); err != nil {
		return err
	}
	if err := tx.Set(p.marketKey(cfg.Index, "coll"), cfg.Collateral.Bytes()); err != nil {
		return err
	}
	return tx.SetBool(p.marketKey(cfg.Index, "init"), true)
}

// SetSpot updates the collateral valuation of a market.
func (p *Pool) SetSpot(tx *state.Tx, caller common.Address, market uint8, spot *uint256.Int) error {
	if caller != p.Owner {
		return ErrNotOwner
	}
	if err := p.requireMarket(tx, market); err != nil {
		return err
	}
	return tx.SetUint(p.marketKey(market, "spot"), spot)
}

func (p *Pool) requireMarket(tx *state.Tx, market uint8) error {
	ok, err := tx.GetBool(p.marketKey(market, "init"))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMarket, market)
	}
	return nil
}

// Market returns the market snapshot with the rate accrued to now.
func (p *Pool) Market(tx *state.Tx, market uint8) (*MarketInfo, error) {
	if err := p.requireMarket(tx, market); err != nil {
		return nil, err
	}
	info := &MarketInfo{Index: market}
	var err error
	if info.Rate, err = p.Rate(tx, market); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		field string
		dst   **uint256.Int
	}{
		{"rps", &info.RatePerSecond},
		{"spot", &info.Spot},
		{"ceiling", &info.DebtCeiling},
		{"total", &info.TotalNormalizedDebt},
	} {
		if *f.dst, err = tx.GetUint(p.marketKey(market, f.field)); err != nil {
			return nil, err
		}
	}
	last, err := tx.GetUint(p.marketKey(market, "last"))
	if err != nil {
		return nil, err
	}
	info.LastAccrual = last.Uint64()
	if info.Join, err = p.addr(tx, market, "join"); err != nil {
		return nil, err
	}
	if info.Collateral, err = p.addr(tx, market, "coll"); err != nil {
		return nil, err
	}
	return info, nil
}

func (p *Pool) addr(tx *state.Tx, market uint8, field string) (common.Address, error) {
	raw, err := tx.Get(p.marketKey(market, field))
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(raw), nil
}

// Rate returns the market's rate accumulator as of the transaction's block
// time. It is what the next mutating call in the same transaction will use.
func (p *Pool) Rate(tx *state.Tx, market uint8) (*uint256.Int, error) {
	if err := p.requireMarket(tx, market); err != nil {
		return nil, err
	}
	rate, _, err := p.pendingRate(tx, market)
	return rate, err
}

// pendingRate computes rate * (RAY + rps*elapsed) / RAY, rounding down.
func (p *Pool) pendingRate(tx *state.Tx, market uint8) (*uint256.Int, uint64, error) {
	rate, err := tx.GetUint(p.marketKey(market, "rate"))
	if err != nil {
		return nil, 0, err
	}
	lastWord, err := tx.GetUint(p.marketKey(market, "last"))
	if err != nil {
		return nil, 0, err
	}
	rps, err := tx.GetUint(p.marketKey(market, "rps"))
	if err != nil {
		return nil, 0, err
	}
	now := uint64(tx.Now().Unix())
	last := lastWord.Uint64()
	if now <= last || rps.IsZero() {
		return rate, last, nil
	}
	growth, overflow := new(uint256.Int).MulOverflow(rps, uint256.NewInt(now-last))
	if overflow {
		return nil, 0, fmt.Errorf("%w: rate growth", fixedpoint.ErrOverflow)
	}
	factor, err := fixedpoint.Add(fixedpoint.RAY, growth)
	if err != nil {
		return nil, 0, err
	}
	next, err := fixedpoint.RayMulDown(rate, factor)
	if err != nil {
		return nil, 0, err
	}
	return next, now, nil
}

// accrue folds pending interest into the stored rate.
func (p *Pool) accrue(tx *state.Tx, market uint8) (*uint256.Int, error) {
	if err := p.requireMarket(tx, market); err != nil {
		return nil, err
	}
	rate, at, err := p.pendingRate(tx, market)
	if err != nil {
		return nil, err
	}
	if err := tx.SetUint(p.marketKey(market, "rate"), rate); err != nil {
		return nil, err
	}
	if err := tx.SetUint(p.marketKey(market, "last"), uint256.NewInt(at)); err != nil {
		return nil, err
	}
	return rate, nil
}
