package tests

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperlever/pkg/api"
	"github.com/uhyunpark/hyperlever/pkg/crypto"
)

// TestSignedRequestDigestIgnoresKeyOrder checks that a client which orders
// the top-level fields differently still produces the digest the server
// verifies.
func TestSignedRequestDigestIgnoresKeyOrder(t *testing.T) {
	signer, _ := crypto.GenerateKey()

	body, err := api.SignRequest(signer, api.SetupRequest{Caller: signer.Address(), Role: "borrower"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var sig string
	if err := json.Unmarshal(fields["signature"], &sig); err != nil {
		t.Fatalf("signature field: %v", err)
	}

	reordered := []byte(`{"signature":` + string(fields["signature"]) + `,"role":"borrower","caller":` + string(fields["caller"]) + `}`)
	d1, err := api.RequestDigest(body)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	d2, err := api.RequestDigest(reordered)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digest depends on key order: %s vs %s", d1.Hex(), d2.Hex())
	}

	raw, err := hexutil.Decode(sig)
	if err != nil || len(raw) != 65 {
		t.Fatalf("signature should be 0x-prefixed 65-byte hex, got %q", sig)
	}
	recovered, err := crypto.RecoverAddress(d1.Bytes(), raw)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}
