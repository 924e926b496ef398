// Package join is the custody adapter between a collateral ERC20 and the
// pool's gem balances.
package join

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/pool"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/token"
)

// GemJoin holds the collateral token for one market.
type GemJoin struct {
	Address    common.Address
	Market     uint8
	Collateral *token.Token
	Pool       *pool.Pool
}

func New(addr common.Address, market uint8, collateral *token.Token, p *pool.Pool) *GemJoin {
	return &GemJoin{Address: addr, Market: market, Collateral: collateral, Pool: p}
}

// Join pulls amount of collateral from caller and credits user's gem.
func (j *GemJoin) Join(tx *state.Tx, caller, user common.Address, amount *uint256.Int) error {
	if err := j.Collateral.TransferFrom(tx, j.Address, caller, j.Address, amount); err != nil {
		return err
	}
	return j.Pool.MintGem(tx, j.Address, j.Market, user, amount)
}

// Exit debits caller's gem and releases amount of collateral to user.
func (j *GemJoin) Exit(tx *state.Tx, caller, user common.Address, amount *uint256.Int) error {
	if err := j.Pool.BurnGem(tx, j.Address, j.Market, caller, amount); err != nil {
		return err
	}
	return j.Collateral.Transfer(tx, j.Address, user, amount)
}
