package state

import (
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event is anything a contract wants observers to see once its transaction
// commits.
type Event interface {
	EventName() string
}

type transientKey struct {
	owner common.Address
	slot  string
}

// Tx is one atomic unit of ledger work.
//
// Besides persistent keys it carries transient storage: values keyed by
// (contract, slot) that live exactly as long as the Tx and are never written
// to pebble. A contract that needs per-call context which must not survive
// into a later transaction keeps it here.
type Tx struct {
	batch     *pebble.Batch
	readOnly  bool
	done      bool
	now       time.Time
	transient map[transientKey]any
	events    []Event
	onCommit  []func()
}

func newTx(batch *pebble.Batch, readOnly bool, now time.Time) *Tx {
	return &Tx{
		batch:     batch,
		readOnly:  readOnly,
		now:       now,
		transient: make(map[transientKey]any),
	}
}

// Now is the transaction's block time. It does not change while the
// transaction runs.
func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	tx.transient = nil
	tx.events = nil
	tx.onCommit = nil
	_ = tx.batch.Close()
}

// Get returns a copy of the value at key, or nil if the key is absent.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.done {
		return nil, ErrClosed
	}
	val, closer, err := tx.batch.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// Set stores value at key.
func (tx *Tx) Set(key, value []byte) error {
	if tx.done {
		return ErrClosed
	}
	if tx.readOnly {
		return ErrReadOnly
	}
	return tx.batch.Set(key, value, nil)
}

// Delete removes key.
func (tx *Tx) Delete(key []byte) error {
	if tx.done {
		return ErrClosed
	}
	if tx.readOnly {
		return ErrReadOnly
	}
	return tx.batch.Delete(key, nil)
}

// GetUint reads a 32-byte big-endian word; absent keys read as zero.
func (tx *Tx) GetUint(key []byte) (*uint256.Int, error) {
	raw, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return new(uint256.Int), nil
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("corrupt word at %q: %d bytes", key, len(raw))
	}
	return new(uint256.Int).SetBytes32(raw), nil
}

// SetUint writes v as a 32-byte word. Zero deletes the key.
func (tx *Tx) SetUint(key []byte, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return tx.Delete(key)
	}
	word := v.Bytes32()
	return tx.Set(key, word[:])
}

// GetBool reads a flag; absent keys read as false.
func (tx *Tx) GetBool(key []byte) (bool, error) {
	raw, err := tx.Get(key)
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

// SetBool writes a flag. False deletes the key.
func (tx *Tx) SetBool(key []byte, v bool) error {
	if !v {
		return tx.Delete(key)
	}
	return tx.Set(key, []byte{1})
}

// TLoad returns the transient value owner stored under slot, or nil.
func (tx *Tx) TLoad(owner common.Address, slot string) any {
	if tx.done {
		return nil
	}
	return tx.transient[transientKey{owner, slot}]
}

// TStore sets a transient value. Storing nil clears the slot.
func (tx *Tx) TStore(owner common.Address, slot string, v any) {
	if tx.done {
		return
	}
	k := transientKey{owner, slot}
	if v == nil {
		delete(tx.transient, k)
		return
	}
	tx.transient[k] = v
}

// Emit queues ev for delivery after commit.
func (tx *Tx) Emit(ev Event) {
	if tx.done || tx.readOnly {
		return
	}
	tx.events = append(tx.events, ev)
}

// OnCommit queues fn to run once the transaction has committed. It never
// runs for a discarded or read-only transaction.
func (tx *Tx) OnCommit(fn func()) {
	if tx.done || tx.readOnly {
		return
	}
	tx.onCommit = append(tx.onCommit, fn)
}
