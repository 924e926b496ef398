package leverage

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/settlement"
)

// RFQ is what a counterparty quote fixes besides the amounts.
type RFQ struct {
	Counterparty common.Address
	User         common.Address
	StartTime    uint64
	EndTime      uint64
	Salt         *uint256.Int
}

// orderFor lays out the only order shape a core accepts: one offer item of
// the direction's offer token, the hijacked item paying the user, and the
// counterparty's payment.
func (c *Core) orderFor(q RFQ, offer, first, second *uint256.Int) settlement.OrderParameters {
	salt := q.Salt
	if salt == nil {
		salt = new(uint256.Int)
	}
	return settlement.OrderParameters{
		Offerer: q.Counterparty,
		Zone:    c.Address,
		Offer: []settlement.OfferItem{{
			ItemType:             settlement.ItemERC20,
			Token:                c.token(c.direction.OfferToken).Address,
			IdentifierOrCriteria: new(uint256.Int),
			StartAmount:          offer.Clone(),
			EndAmount:            offer.Clone(),
		}},
		Consideration: []settlement.ConsiderationItem{
			{
				ItemType:             settlement.ItemERC20,
				Token:                c.Address,
				IdentifierOrCriteria: new(uint256.Int),
				StartAmount:          first.Clone(),
				EndAmount:            first.Clone(),
				Recipient:            q.User,
			},
			{
				ItemType:             settlement.ItemERC20,
				Token:                c.token(c.direction.SecondToken).Address,
				IdentifierOrCriteria: new(uint256.Int),
				StartAmount:          second.Clone(),
				EndAmount:            second.Clone(),
				Recipient:            q.Counterparty,
			},
		},
		OrderType:                       settlement.FullRestricted,
		StartTime:                       q.StartTime,
		EndTime:                         q.EndTime,
		Salt:                            salt.Clone(),
		TotalOriginalConsiderationItems: 2,
	}
}

// OrderFor builds the order a counterparty signs to sell
// collateralToPurchase of collateral for amountToBorrow of base asset.
func (l *Leverager) OrderFor(q RFQ, collateralToPurchase, amountToBorrow *uint256.Int) settlement.OrderParameters {
	return l.orderFor(q, collateralToPurchase, amountToBorrow, amountToBorrow)
}

// OrderFor builds the order a counterparty signs to sell debtToRepay of
// base asset for collateralToRemove of collateral.
func (d *Deleverager) OrderFor(q RFQ, collateralToRemove, debtToRepay *uint256.Int) settlement.OrderParameters {
	return d.orderFor(q, debtToRepay, debtToRepay, collateralToRemove)
}
