package leverage

// Role names which configured asset a leg must carry.
type Role uint8

const (
	RoleCollateral Role = iota
	RoleBase
)

func (r Role) String() string {
	if r == RoleBase {
		return "base"
	}
	return "collateral"
}

// legRules are the errors a direction reports for each mismatched leg field.
// Item types, the hijack token and the recipient fail the same way in both
// directions and are not listed.
type legRules struct {
	offerToken  error
	offerStart  error
	offerEnd    error
	firstStart  error
	firstEnd    error
	secondToken error
	secondStart error
	secondEnd   error
}

// Direction is Lever or Delever: which asset the counterparty offers, which
// asset the second consideration leg pays out, and how each mismatch is
// reported.
type Direction struct {
	Name        string
	OfferToken  Role
	SecondToken Role
	rules       legRules
}

var (
	Lever = Direction{
		Name:        "lever",
		OfferToken:  RoleCollateral,
		SecondToken: RoleBase,
		rules: legRules{
			offerToken:  ErrOfferTokenMustBeCollateral,
			offerStart:  ErrOfferStartAmountMustBeCollateralToPurchase,
			offerEnd:    ErrOfferEndAmountMustBeCollateralToPurchase,
			firstStart:  ErrConsideration0StartAmountMustBeAmountToBorrow,
			firstEnd:    ErrConsideration0EndAmountMustBeAmountToBorrow,
			secondToken: ErrConsideration1TokenMustBeBase,
			secondStart: ErrConsideration1StartAmountMustBeAmountToBorrow,
			secondEnd:   ErrConsideration1EndAmountMustBeAmountToBorrow,
		},
	}
	Delever = Direction{
		Name:        "delever",
		OfferToken:  RoleBase,
		SecondToken: RoleCollateral,
		rules: legRules{
			offerToken:  ErrOfferTokenMustBeBase,
			offerStart:  ErrOfferStartAmountMustBeDebtToRepay,
			offerEnd:    ErrOfferEndAmountMustBeDebtToRepay,
			firstStart:  ErrConsideration0StartAmountMustBeDebtToRepay,
			firstEnd:    ErrConsideration0EndAmountMustBeDebtToRepay,
			secondToken: ErrConsideration1TokenMustBeCollateral,
			secondStart: ErrConsideration1StartAmountMustBeCollateralToRemove,
			secondEnd:   ErrConsideration1EndAmountMustBeCollateralToRemove,
		},
	}
)

func (d Direction) String() string { return d.Name }
