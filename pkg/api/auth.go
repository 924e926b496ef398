package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperlever/pkg/crypto"
)

var (
	ErrMissingSignature = errors.New("api: missing signature")
	ErrMissingCaller    = errors.New("api: missing caller")
	ErrSignerMismatch   = errors.New("api: signature does not match caller")
)

// RequestDigest is the hash a caller signs: keccak256 of the body's JSON
// object with the "signature" field removed and top-level keys sorted.
func RequestDigest(body []byte) (common.Hash, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return common.Hash{}, fmt.Errorf("request is not a JSON object: %w", err)
	}
	delete(fields, "signature")
	canonical, err := json.Marshal(fields)
	if err != nil {
		return common.Hash{}, err
	}
	return gethcrypto.Keccak256Hash(canonical), nil
}

// SignRequest marshals req, signs its digest and returns the body with the
// signature field set.
func SignRequest(signer *crypto.Signer, req interface{}) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	digest, err := RequestDigest(body)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(hexutil.Bytes(sig))
	if err != nil {
		return nil, err
	}
	fields["signature"] = encoded
	return json.Marshal(fields)
}

// authenticate returns the caller named in body once its signature checks.
func authenticate(body []byte) (common.Address, error) {
	var envelope struct {
		Caller    *common.Address `json:"caller"`
		Signature hexutil.Bytes   `json:"signature"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return common.Address{}, err
	}
	if envelope.Caller == nil {
		return common.Address{}, ErrMissingCaller
	}
	if len(envelope.Signature) == 0 {
		return common.Address{}, ErrMissingSignature
	}
	digest, err := RequestDigest(body)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := crypto.RecoverAddress(digest.Bytes(), envelope.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignerMismatch, err)
	}
	if signer != *envelope.Caller {
		return common.Address{}, fmt.Errorf("%w: recovered %s", ErrSignerMismatch, signer.Hex())
	}
	return signer, nil
}
