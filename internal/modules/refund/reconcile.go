// Package refund decides how a gateway-reported refund splits between
// restored account credit and cash returned.
package refund

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
)

// minToleranceCents is one currency unit.
const minToleranceCents int64 = 100

// Basis is the part of the price audit snapshot the split depends on.
type Basis struct {
	CreditsUsed int64
	NetAmount   int64
}

type Outcome struct {
	ExpectedAmount  int64  `json:"expected_amount"`
	RefundedAmount  int64  `json:"refunded_amount"`
	AmountUnknown   bool   `json:"amount_unknown"`
	IsPartial       bool   `json:"is_partial"`
	CreditsRestored int64  `json:"credits_restored"`
	MoneyReturned   int64  `json:"money_returned"`
	Status          Status `json:"status"`
}

// Reconcile classifies a refund against the snapshot. The expected total is
// the net amount, which already contains the credits used. An unknown
// amount is split against zero and always stays pending.
func Reconcile(basis Basis, reported int64, amountUnknown bool) Outcome {
	expected := basis.NetAmount
	if expected < 0 {
		expected = 0
	}

	refunded := reported
	if amountUnknown || refunded < 0 {
		refunded = 0
	}

	out := Outcome{
		ExpectedAmount: expected,
		RefundedAmount: refunded,
		AmountUnknown:  amountUnknown,
		IsPartial:      amountUnknown || belowTolerance(refunded, expected),
	}

	credits := basis.CreditsUsed
	if credits < 0 {
		credits = 0
	}
	out.CreditsRestored = min(credits, refunded)
	out.MoneyReturned = max(0, refunded-out.CreditsRestored)

	out.Status = StatusCompleted
	if out.IsPartial {
		out.Status = StatusPending
	}
	return out
}

// belowTolerance reports refunded < expected - max(100, expected*1%). Both
// sides are scaled by 100 so the 1% term stays exact.
func belowTolerance(refunded, expected int64) bool {
	tolerance := max(minToleranceCents*100, expected)
	return refunded*100 < expected*100-tolerance
}

// Exceeds reports whether the gateway returned more than the tolerance
// above what was collected.
func (o Outcome) Exceeds() bool {
	tolerance := max(minToleranceCents*100, o.ExpectedAmount)
	return o.RefundedAmount*100 > o.ExpectedAmount*100+tolerance
}
