// Package settlement is an RFQ order-settlement engine. An offerer signs an
// order promising offer items in exchange for consideration items; a
// fulfiller settles it by receiving the offer and paying each consideration
// item to its recipient. Every ERC20 movement goes through the registered
// token's TransferFrom entry point with the engine as caller.
package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

type ItemType uint8

const (
	ItemNative ItemType = iota
	ItemERC20
	ItemERC721
	ItemERC1155
	ItemERC721WithCriteria
	ItemERC1155WithCriteria
)

func (t ItemType) String() string {
	switch t {
	case ItemNative:
		return "NATIVE"
	case ItemERC20:
		return "ERC20"
	case ItemERC721:
		return "ERC721"
	case ItemERC1155:
		return "ERC1155"
	case ItemERC721WithCriteria:
		return "ERC721_WITH_CRITERIA"
	case ItemERC1155WithCriteria:
		return "ERC1155_WITH_CRITERIA"
	default:
		return fmt.Sprintf("ItemType(%d)", uint8(t))
	}
}

type OrderType uint8

const (
	FullOpen OrderType = iota
	PartialOpen
	FullRestricted
	PartialRestricted
	Contract
)

func (t OrderType) String() string {
	switch t {
	case FullOpen:
		return "FULL_OPEN"
	case PartialOpen:
		return "PARTIAL_OPEN"
	case FullRestricted:
		return "FULL_RESTRICTED"
	case PartialRestricted:
		return "PARTIAL_RESTRICTED"
	case Contract:
		return "CONTRACT"
	default:
		return fmt.Sprintf("OrderType(%d)", uint8(t))
	}
}

// Restricted reports whether only the zone or the offerer may fulfill.
func (t OrderType) Restricted() bool {
	return t == FullRestricted || t == PartialRestricted
}

type OfferItem struct {
	ItemType             ItemType       `json:"itemType"`
	Token                common.Address `json:"token"`
	IdentifierOrCriteria *uint256.Int   `json:"identifierOrCriteria"`
	StartAmount          *uint256.Int   `json:"startAmount"`
	EndAmount            *uint256.Int   `json:"endAmount"`
}

type ConsiderationItem struct {
	ItemType             ItemType       `json:"itemType"`
	Token                common.Address `json:"token"`
	IdentifierOrCriteria *uint256.Int   `json:"identifierOrCriteria"`
	StartAmount          *uint256.Int   `json:"startAmount"`
	EndAmount            *uint256.Int   `json:"endAmount"`
	Recipient            common.Address `json:"recipient"`
}

// OrderParameters is everything the offerer commits to except the counter.
type OrderParameters struct {
	Offerer                         common.Address      `json:"offerer"`
	Zone                            common.Address      `json:"zone"`
	Offer                           []OfferItem         `json:"offer"`
	Consideration                   []ConsiderationItem `json:"consideration"`
	OrderType                       OrderType           `json:"orderType"`
	StartTime                       uint64              `json:"startTime"`
	EndTime                         uint64              `json:"endTime"`
	ZoneHash                        common.Hash         `json:"zoneHash"`
	Salt                            *uint256.Int        `json:"salt"`
	ConduitKey                      common.Hash         `json:"conduitKey"`
	TotalOriginalConsiderationItems uint64              `json:"totalOriginalConsiderationItems"`
}

// Order is signed parameters.
type Order struct {
	Parameters OrderParameters `json:"parameters"`
	Signature  hexutil.Bytes   `json:"signature"`
}

// OrderStatus is the engine's record of an order hash.
type OrderStatus struct {
	Filled    bool `json:"filled"`
	Cancelled bool `json:"cancelled"`
}

// OrderFulfilled is emitted once per settled order.
type OrderFulfilled struct {
	OrderHash common.Hash    `json:"orderHash"`
	Offerer   common.Address `json:"offerer"`
	Zone      common.Address `json:"zone"`
	Fulfiller common.Address `json:"fulfiller"`
}

func (OrderFulfilled) EventName() string { return "order_fulfilled" }

// OrderCancelled is emitted for each cancelled order hash.
type OrderCancelled struct {
	OrderHash common.Hash    `json:"orderHash"`
	Offerer   common.Address `json:"offerer"`
}

func (OrderCancelled) EventName() string { return "order_cancelled" }

// CounterIncremented is emitted when an offerer invalidates all open orders.
type CounterIncremented struct {
	Offerer common.Address `json:"offerer"`
	Counter *uint256.Int   `json:"counter"`
}

func (CounterIncremented) EventName() string { return "counter_incremented" }
