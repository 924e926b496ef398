package tests

import (
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/crypto"
	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/settlement"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/util"
)

// TestConcurrentLeverage settles one order per borrower from parallel
// goroutines. Transactions serialize on the ledger, so every guard arms and
// disarms inside its own call and market totals add up.
func TestConcurrentLeverage(t *testing.T) {
	const borrowers = 16

	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	a := openApp(t, t.TempDir(), clock)
	defer a.DB.Close()

	maker, _ := crypto.GenerateKey()
	if err := a.Faucet(maker.Address(), fixedpoint.Wad(1000), fixedpoint.Wad(1000)); err != nil {
		t.Fatalf("faucet maker: %v", err)
	}
	if err := a.ApproveEngine(maker.Address()); err != nil {
		t.Fatalf("approve engine: %v", err)
	}

	type job struct {
		signer *crypto.Signer
		order  *settlement.Order
	}
	jobs := make([]job, borrowers)
	for i := range jobs {
		s, _ := crypto.GenerateKey()
		if err := a.Faucet(s.Address(), nil, fixedpoint.Wad(1)); err != nil {
			t.Fatalf("faucet: %v", err)
		}
		if err := a.Setup(s.Address()); err != nil {
			t.Fatalf("setup: %v", err)
		}
		p := a.Leverager.OrderFor(rfq(clock, maker.Address(), s.Address(), uint64(i)), fixedpoint.Wad(1), fixedpoint.Wad(1))
		jobs[i] = job{signer: s, order: signOrder(t, a, maker, p)}
	}

	var wg sync.WaitGroup
	errs := make(chan error, borrowers)
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			errs <- a.Leverage(j.signer.Address(), j.order, fixedpoint.Wad(1), fixedpoint.Wad(2), fixedpoint.Wad(1), nil)
		}(j)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("leverage: %v", err)
		}
	}

	var total *uint256.Int
	err := a.DB.View(func(tx *state.Tx) error {
		info, err := a.Pool.Market(tx, a.Market)
		if err != nil {
			return err
		}
		total = info.TotalNormalizedDebt
		return nil
	})
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if !total.Eq(fixedpoint.Wad(borrowers)) {
		t.Fatalf("total normalized debt: got %s, want %d WAD", total.Dec(), borrowers)
	}

	for _, j := range jobs {
		v, err := a.Vault(a.Market, j.signer.Address())
		if err != nil {
			t.Fatalf("vault: %v", err)
		}
		if !v.Collateral.Eq(fixedpoint.Wad(2)) {
			t.Errorf("%s collateral: got %s", j.signer.Address().Hex(), v.Collateral.Dec())
		}
	}
}
