package state

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema
//
//	tok:<token>:bal:<owner>               balance
//	tok:<token>:allow:<owner>:<spender>   allowance
//	tok:<token>:supply                    total supply
//	pool:<market>:...                     lending pool words
//	settle:<engine>:...                   order status and counters
//
// Addresses are rendered with Hex() so keys sort and read the same way the
// account store keys do.

// Key joins parts with ':'.
func Key(parts ...string) []byte {
	return []byte(strings.Join(parts, ":"))
}

// AddrKey is Key with addresses rendered in hex.
func AddrKey(prefix string, addr common.Address, rest ...string) []byte {
	parts := make([]string, 0, 2+len(rest))
	parts = append(parts, prefix, addr.Hex())
	parts = append(parts, rest...)
	return Key(parts...)
}
