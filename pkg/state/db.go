// Package state is the ledger every contract reads and writes through.
//
// A top-level call runs inside DB.Execute, which hands it a Tx backed by a
// pebble indexed batch. The batch is committed when the call returns nil and
// discarded otherwise, so a failed leverage or deleverage leaves no trace:
// token balances, vaults, order status and the callback context all roll back
// together.
//
// Every transaction also carries one block time, read from the DB's clock
// when the transaction starts. Contracts use Tx.Now, never a clock of their
// own, so every rate and validity check inside a call sees the same instant.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlever/pkg/util"
)

var (
	ErrReadOnly = errors.New("state: write in read-only transaction")
	ErrClosed   = errors.New("state: transaction already finished")
)

// PanicError is returned by Execute when the callback panicked. Contracts
// panic only on internal-consistency faults, so callers should treat this as
// unrecoverable for the call that produced it.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("state: transaction aborted: %v", e.Value) }

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// DB serializes transactions over a pebble database.
type DB struct {
	mu     sync.Mutex // one transaction at a time
	db     *pebble.DB
	clock  util.Clock
	logger *zap.Logger

	subsMu sync.RWMutex
	subs   []func([]Event)
}

// Open opens (or creates) a ledger at path.
func Open(path string, logger *zap.Logger) (*DB, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return newDB(db, logger), nil
}

// OpenInMemory opens a ledger on pebble's in-memory filesystem.
func OpenInMemory(logger *zap.Logger) (*DB, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return newDB(db, logger), nil
}

func newDB(db *pebble.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{db: db, clock: util.RealClock{}, logger: logger}
}

// SetClock replaces the clock transactions take their block time from.
func (d *DB) SetClock(c util.Clock) {
	if c == nil {
		c = util.RealClock{}
	}
	d.mu.Lock()
	d.clock = c
	d.mu.Unlock()
}

// Close closes the underlying database
func (d *DB) Close() error {
	return d.db.Close()
}

// Subscribe registers fn to receive the events of every committed
// transaction, in commit order.
func (d *DB) Subscribe(fn func([]Event)) {
	d.subsMu.Lock()
	d.subs = append(d.subs, fn)
	d.subsMu.Unlock()
}

// Execute runs fn in a fresh transaction. Writes become visible only if fn
// returns nil; an error or panic discards every write fn made. Hooks
// registered with Tx.OnCommit run after a successful commit, before events
// are published.
func (d *DB) Execute(fn func(tx *Tx) error) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := newTx(d.db.NewIndexedBatch(), false, d.clock.Now())
	defer tx.finish()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("transaction_panicked", zap.Any("value", r))
			err = &PanicError{Value: r}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, fn := range tx.onCommit {
		fn()
	}
	d.publish(tx.events)
	return nil
}

// View runs fn in a read-only transaction that is always discarded.
func (d *DB) View(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := newTx(d.db.NewIndexedBatch(), true, d.clock.Now())
	defer tx.finish()
	return fn(tx)
}

func (d *DB) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	d.subsMu.RLock()
	defer d.subsMu.RUnlock()
	for _, fn := range d.subs {
		fn(events)
	}
}
