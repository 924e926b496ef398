package settlement

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlever/pkg/crypto"
)

var orderTypes = apitypes.Types{
	"OrderComponents": []apitypes.Type{
		{Name: "offerer", Type: "address"},
		{Name: "zone", Type: "address"},
		{Name: "offer", Type: "OfferItem[]"},
		{Name: "consideration", Type: "ConsiderationItem[]"},
		{Name: "orderType", Type: "uint8"},
		{Name: "startTime", Type: "uint256"},
		{Name: "endTime", Type: "uint256"},
		{Name: "zoneHash", Type: "bytes32"},
		{Name: "salt", Type: "uint256"},
		{Name: "conduitKey", Type: "bytes32"},
		{Name: "counter", Type: "uint256"},
	},
	"OfferItem": []apitypes.Type{
		{Name: "itemType", Type: "uint8"},
		{Name: "token", Type: "address"},
		{Name: "identifierOrCriteria", Type: "uint256"},
		{Name: "startAmount", Type: "uint256"},
		{Name: "endAmount", Type: "uint256"},
	},
	"ConsiderationItem": []apitypes.Type{
		{Name: "itemType", Type: "uint8"},
		{Name: "token", Type: "address"},
		{Name: "identifierOrCriteria", Type: "uint256"},
		{Name: "startAmount", Type: "uint256"},
		{Name: "endAmount", Type: "uint256"},
		{Name: "recipient", Type: "address"},
	},
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// HashOrder computes the EIP-712 digest of the order components the offerer
// signs: the parameters plus the offerer's counter.
func HashOrder(domain crypto.Domain, p *OrderParameters, counter *uint256.Int) (common.Hash, error) {
	offer := make([]interface{}, len(p.Offer))
	for i, it := range p.Offer {
		offer[i] = map[string]interface{}{
			"itemType":             strconv.Itoa(int(it.ItemType)),
			"token":                it.Token.Hex(),
			"identifierOrCriteria": dec(it.IdentifierOrCriteria),
			"startAmount":          dec(it.StartAmount),
			"endAmount":            dec(it.EndAmount),
		}
	}
	consideration := make([]interface{}, len(p.Consideration))
	for i, it := range p.Consideration {
		consideration[i] = map[string]interface{}{
			"itemType":             strconv.Itoa(int(it.ItemType)),
			"token":                it.Token.Hex(),
			"identifierOrCriteria": dec(it.IdentifierOrCriteria),
			"startAmount":          dec(it.StartAmount),
			"endAmount":            dec(it.EndAmount),
			"recipient":            it.Recipient.Hex(),
		}
	}
	message := apitypes.TypedDataMessage{
		"offerer":       p.Offerer.Hex(),
		"zone":          p.Zone.Hex(),
		"offer":         offer,
		"consideration": consideration,
		"orderType":     strconv.Itoa(int(p.OrderType)),
		"startTime":     strconv.FormatUint(p.StartTime, 10),
		"endTime":       strconv.FormatUint(p.EndTime, 10),
		"zoneHash":      p.ZoneHash.Hex(),
		"salt":          dec(p.Salt),
		"conduitKey":    p.ConduitKey.Hex(),
		"counter":       dec(counter),
	}
	return crypto.TypedDigest(domain, orderTypes, "OrderComponents", message)
}

// SignOrder signs p under domain at the given counter.
func SignOrder(domain crypto.Domain, signer *crypto.Signer, p *OrderParameters, counter *uint256.Int) ([]byte, error) {
	hash, err := HashOrder(domain, p, counter)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash.Bytes())
}
