package leverage

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Levered is emitted when a leverage callback has deposited and borrowed.
type Levered struct {
	Market         uint8          `json:"market"`
	User           common.Address `json:"user"`
	Collateral     *uint256.Int   `json:"collateral"`
	Borrowed       *uint256.Int   `json:"borrowed"`
	NormalizedDebt *uint256.Int   `json:"normalizedDebt"`
	Dust           *uint256.Int   `json:"dust"`
}

func (Levered) EventName() string         { return "levered" }
func (e Levered) Account() common.Address { return e.User }

// Delevered is emitted when a deleverage callback has repaid and withdrawn.
type Delevered struct {
	Market            uint8          `json:"market"`
	User              common.Address `json:"user"`
	CollateralRemoved *uint256.Int   `json:"collateralRemoved"`
	Repaid            *uint256.Int   `json:"repaid"`
	NormalizedRepaid  *uint256.Int   `json:"normalizedRepaid"`
	Refunded          *uint256.Int   `json:"refunded"`
	Closed            bool           `json:"closed"`
}

func (Delevered) EventName() string         { return "delevered" }
func (e Delevered) Account() common.Address { return e.User }
