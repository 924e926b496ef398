package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/params"
	"github.com/uhyunpark/hyperlever/pkg/app"
	"github.com/uhyunpark/hyperlever/pkg/crypto"
	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/leverage"
	"github.com/uhyunpark/hyperlever/pkg/settlement"
	"github.com/uhyunpark/hyperlever/pkg/state"
)

// sign-order plays the counterparty: it builds the RFQ order a borrower
// settles through POST /api/v1/leverage or /deleverage, signs it, and prints
// the request body with the order filled in. The borrower still signs the
// request itself.
func main() {
	var (
		direction = flag.String("direction", "lever", `"lever" or "delever"`)
		user      = flag.String("user", "", "borrower address (required)")
		key       = flag.String("key", "", "counterparty private key hex; a fresh key is generated if empty")
		deposit   = flag.String("deposit", "1000000000000000000", "lever: initial deposit (WAD)")
		resulting = flag.String("collateral", "3000000000000000000", "lever: resulting additional collateral; delever: collateral to remove (WAD)")
		amount    = flag.String("amount", "1000000000000000000", "lever: amount to borrow; delever: debt to repay (WAD)")
		counter   = flag.Uint64("counter", 0, "counterparty's settlement counter")
		ttl       = flag.Duration("ttl", 10*time.Minute, "order validity window")
	)
	flag.Parse()

	if !common.IsHexAddress(*user) {
		fail("-user must be an address")
	}
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		fail("config: %v", err)
	}

	signer, err := loadSigner(*key)
	if err != nil {
		fail("key: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Counterparty: %s\n", signer.Address().Hex())

	amounts, err := parseAmounts(*deposit, *resulting, *amount)
	if err != nil {
		fail("%v", err)
	}

	// The contracts are only constructed to learn their addresses and the
	// engine domain; nothing is written.
	db, err := state.OpenInMemory(nil)
	if err != nil {
		fail("ledger: %v", err)
	}
	defer db.Close()
	a, err := app.New(db, app.Options{Deployer: cfg.Node.Deployer, ChainID: cfg.Node.ChainID, Market: cfg.Market})
	if err != nil {
		fail("contracts: %v", err)
	}

	now := time.Now()
	q := leverage.RFQ{
		Counterparty: signer.Address(),
		User:         common.HexToAddress(*user),
		StartTime:    uint64(now.Unix()),
		EndTime:      uint64(now.Add(*ttl).Unix()),
		Salt:         uint256.NewInt(uint64(now.UnixNano())),
	}

	var (
		p    settlement.OrderParameters
		body map[string]interface{}
	)
	switch *direction {
	case "lever":
		toPurchase, err := fixedpoint.Sub(amounts[1], amounts[0])
		if err != nil {
			fail("collateral must be at least deposit: %v", err)
		}
		p = a.Leverager.OrderFor(q, toPurchase, amounts[2])
		body = map[string]interface{}{
			"caller":                        q.User,
			"initialDeposit":                amounts[0],
			"resultingAdditionalCollateral": amounts[1],
			"amountToBorrow":                amounts[2],
		}
	case "delever":
		p = a.Deleverager.OrderFor(q, amounts[1], amounts[2])
		body = map[string]interface{}{
			"caller":             q.User,
			"collateralToRemove": amounts[1],
			"debtToRepay":        amounts[2],
		}
	default:
		fail("unknown direction %q", *direction)
	}

	sig, err := settlement.SignOrder(a.Engine.Domain, signer, &p, uint256.NewInt(*counter))
	if err != nil {
		fail("sign: %v", err)
	}
	body["order"] = settlement.Order{Parameters: p, Signature: sig}

	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fail("marshal: %v", err)
	}
	fmt.Println(string(out))
}

func loadSigner(hexKey string) (*crypto.Signer, error) {
	if hexKey == "" {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", s.PrivateKeyHex())
		return s, nil
	}
	return crypto.FromPrivateKeyHex(hexKey)
}

func parseAmounts(values ...string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(values))
	for i, v := range values {
		n, err := fixedpoint.ParseDecimal(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
