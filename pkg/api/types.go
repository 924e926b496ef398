package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/settlement"
)

// ==============================
// REST Response Types
// ==============================

// ContractsInfo lists the addresses of one deployment
type ContractsInfo struct {
	ChainID     uint64         `json:"chainId"`
	Market      uint8          `json:"market"`
	Base        common.Address `json:"base"`
	Collateral  common.Address `json:"collateral"`
	Whitelist   common.Address `json:"whitelist"`
	Pool        common.Address `json:"pool"`
	Join        common.Address `json:"join"`
	Engine      common.Address `json:"engine"`
	Leverager   common.Address `json:"leverager"`
	Deleverager common.Address `json:"deleverager"`
}

// VaultInfo is a vault at the current rate
type VaultInfo struct {
	Market         uint8          `json:"market"`
	Address        common.Address `json:"address"`
	Collateral     *uint256.Int   `json:"collateral"`
	NormalizedDebt *uint256.Int   `json:"normalizedDebt"`
	Debt           *uint256.Int   `json:"debt"` // base units, rounded up
	Gem            *uint256.Int   `json:"gem"`
	Rate           *uint256.Int   `json:"rate"`
}

// AccountInfo holds token balances and the settlement counter of an address
type AccountInfo struct {
	Address    common.Address `json:"address"`
	Base       *uint256.Int   `json:"base"`
	Collateral *uint256.Int   `json:"collateral"`
	Counter    *uint256.Int   `json:"counter"`
}

type OrderStatusInfo struct {
	Hash      common.Hash `json:"hash"`
	Filled    bool        `json:"filled"`
	Cancelled bool        `json:"cancelled"`
}

// SettlementResponse is returned by the leverage and deleverage endpoints
type SettlementResponse struct {
	Status    string      `json:"status"` // "settled"
	OrderHash common.Hash `json:"orderHash"`
	Vault     VaultInfo   `json:"vault"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Rule violations carry the offending and required values.
	Actual   string `json:"actual,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// Signed requests carry the caller and a signature over RequestDigest of
// the body. See auth.go.

// LeverageRequest is the payload for POST /api/v1/leverage
type LeverageRequest struct {
	Caller                        common.Address   `json:"caller"`
	Order                         settlement.Order `json:"order"`
	InitialDeposit                *uint256.Int     `json:"initialDeposit"`
	ResultingAdditionalCollateral *uint256.Int     `json:"resultingAdditionalCollateral"`
	AmountToBorrow                *uint256.Int     `json:"amountToBorrow"`
	Proof                         []common.Hash    `json:"proof,omitempty"`
	Signature                     hexutil.Bytes    `json:"signature,omitempty"`
}

// DeleverageRequest is the payload for POST /api/v1/deleverage
type DeleverageRequest struct {
	Caller             common.Address   `json:"caller"`
	Order              settlement.Order `json:"order"`
	CollateralToRemove *uint256.Int     `json:"collateralToRemove"`
	DebtToRepay        *uint256.Int     `json:"debtToRepay"`
	Signature          hexutil.Bytes    `json:"signature,omitempty"`
}

// SetupRequest is the payload for POST /api/v1/accounts/setup.
// Role "borrower" grants the leverage contracts what they need to act for
// the caller; "counterparty" lets the settlement engine move its tokens.
type SetupRequest struct {
	Caller    common.Address `json:"caller"`
	Role      string         `json:"role"`
	Signature hexutil.Bytes  `json:"signature,omitempty"`
}

// FaucetRequest is the payload for POST /api/v1/faucet (devnet only)
type FaucetRequest struct {
	Address    common.Address `json:"address"`
	Base       *uint256.Int   `json:"base"`
	Collateral *uint256.Int   `json:"collateral"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope for every pushed event
type WSMessage struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by clients to manage subscriptions.
// Channels: "events" (every committed event), "vault:<address>" (events
// touching that account's vault).
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}
