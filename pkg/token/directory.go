package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/state"
)

// Transferrer is the single ERC20 entry point the settlement engine invokes
// for every item it moves. Anything registered under an address in a
// Directory receives those calls, whether or not it is a real token.
type Transferrer interface {
	TransferFrom(tx *state.Tx, caller, from, to common.Address, amount *uint256.Int) error
}

// Directory resolves contract addresses to their transfer entry point.
type Directory struct {
	mu      sync.RWMutex
	entries map[common.Address]Transferrer
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[common.Address]Transferrer)}
}

// Register binds addr to t. An address can only be bound once.
func (d *Directory) Register(addr common.Address, t Transferrer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[addr]; exists {
		return fmt.Errorf("token: %s already registered", addr.Hex())
	}
	d.entries[addr] = t
	return nil
}

// Lookup returns the entry point bound to addr.
func (d *Directory) Lookup(addr common.Address) (Transferrer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.entries[addr]
	return t, ok
}
