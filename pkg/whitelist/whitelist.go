// Package whitelist gates borrowing per market. A market either has no
// root (open), or borrowers prove membership with a keccak merkle proof
// using sorted-pair hashing. Protocol contracts that act on a user's behalf
// can be approved outright and skip the proof.
package whitelist

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperlever/pkg/state"
)

var (
	ErrNotWhitelistedBorrower = errors.New("whitelist: not whitelisted borrower")
	ErrNotOwner               = errors.New("whitelist: caller is not the owner")
)

// Whitelist is the allow-list contract deployed at Address.
type Whitelist struct {
	Address common.Address
	Owner   common.Address
}

func New(addr, owner common.Address) *Whitelist {
	return &Whitelist{Address: addr, Owner: owner}
}

func (w *Whitelist) rootKey(market uint8) []byte {
	return state.AddrKey("wl", w.Address, "root", strconv.Itoa(int(market)))
}

func (w *Whitelist) protocolKey(addr common.Address) []byte {
	return state.AddrKey("wl", w.Address, "protocol", addr.Hex())
}

// SetRoot replaces the borrower root for market. A zero root opens it.
func (w *Whitelist) SetRoot(tx *state.Tx, caller common.Address, market uint8, root common.Hash) error {
	if caller != w.Owner {
		return ErrNotOwner
	}
	if root == (common.Hash{}) {
		return tx.Delete(w.rootKey(market))
	}
	return tx.Set(w.rootKey(market), root.Bytes())
}

// Root returns the borrower root for market.
func (w *Whitelist) Root(tx *state.Tx, market uint8) (common.Hash, error) {
	raw, err := tx.Get(w.rootKey(market))
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(raw), nil
}

func (w *Whitelist) ApproveProtocolWhitelist(tx *state.Tx, caller, addr common.Address) error {
	if caller != w.Owner {
		return ErrNotOwner
	}
	return tx.SetBool(w.protocolKey(addr), true)
}

func (w *Whitelist) RevokeProtocolWhitelist(tx *state.Tx, caller, addr common.Address) error {
	if caller != w.Owner {
		return ErrNotOwner
	}
	return tx.SetBool(w.protocolKey(addr), false)
}

// IsWhitelistedBorrower reports whether caller may borrow in market on
// behalf of subject. It never returns false without an error.
func (w *Whitelist) IsWhitelistedBorrower(tx *state.Tx, market uint8, caller, subject common.Address, proof []common.Hash) (bool, error) {
	protocol, err := tx.GetBool(w.protocolKey(caller))
	if err != nil {
		return false, err
	}
	if protocol {
		return true, nil
	}
	root, err := w.Root(tx, market)
	if err != nil {
		return false, err
	}
	if root == (common.Hash{}) {
		return true, nil
	}
	if !Verify(proof, root, Leaf(subject)) {
		return false, fmt.Errorf("%w: %s in market %d", ErrNotWhitelistedBorrower, subject.Hex(), market)
	}
	return true, nil
}

// Leaf is keccak256 of the packed 20-byte address.
func Leaf(addr common.Address) common.Hash {
	return keccak(addr.Bytes())
}

// Verify folds proof onto leaf and compares with root.
func Verify(proof []common.Hash, root, leaf common.Hash) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

// BuildTree returns the root over addrs and the proof for each address,
// indexed like addrs. An unpaired node is promoted to the next level as is.
func BuildTree(addrs []common.Address) (common.Hash, [][]common.Hash) {
	if len(addrs) == 0 {
		return common.Hash{}, nil
	}
	level := make([]common.Hash, len(addrs))
	// pos[i] tracks where leaf i sits in the current level.
	pos := make([]int, len(addrs))
	for i, a := range addrs {
		level[i] = Leaf(a)
		pos[i] = i
	}
	proofs := make([][]common.Hash, len(addrs))
	for len(level) > 1 {
		for i := range addrs {
			p := pos[i]
			sibling := p ^ 1
			if sibling < len(level) {
				proofs[i] = append(proofs[i], level[sibling])
			}
			pos[i] = p / 2
		}
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for j := 0; j < len(level); j += 2 {
			if j+1 < len(level) {
				next = append(next, hashPair(level[j], level[j+1]))
			} else {
				next = append(next, level[j])
			}
		}
		level = next
	}
	return level[0], proofs
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak(a[:], b[:])
}

func keccak(data ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}
