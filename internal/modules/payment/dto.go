package payment

import (
	"github.com/shopspring/decimal"

	"coworking/internal/domain/billing"
	"coworking/internal/modules/refund"
)

const (
	EventPaymentConfirmed           = "PAYMENT_CONFIRMED"
	EventPaymentReceived            = "PAYMENT_RECEIVED"
	EventPaymentRefunded            = "PAYMENT_REFUNDED"
	EventPaymentPartiallyRefunded   = "PAYMENT_PARTIALLY_REFUNDED"
	EventPaymentChargebackRequested = "PAYMENT_CHARGEBACK_REQUESTED"
	EventPaymentChargebackDispute   = "PAYMENT_CHARGEBACK_DISPUTE"
	EventPaymentOverdue             = "PAYMENT_OVERDUE"
	EventPaymentDeleted             = "PAYMENT_DELETED"
)

// WebhookPayload is the gateway notification body. Amounts are in minor
// units and may arrive as JSON numbers or strings.
type WebhookPayload struct {
	ID      string      `json:"id"`
	Event   string      `json:"event"`
	Payment PaymentData `json:"payment"`
}

type PaymentData struct {
	ID                string              `json:"id"`
	ExternalReference string              `json:"externalReference"`
	Status            string              `json:"status"`
	Value             decimal.NullDecimal `json:"value"`
	RefundedValue     decimal.NullDecimal `json:"refundedValue"`
	ChargebackValue   decimal.NullDecimal `json:"chargebackValue"`
}

type Action string

const (
	ActionIgnored        Action = "ignored"
	ActionDuplicate      Action = "duplicate"
	ActionUnknownPayment Action = "unknown_payment"
	ActionMarkedPaid     Action = "marked_paid"
	ActionAlreadyPaid    Action = "already_paid"
	ActionRefunded       Action = "refund_reconciled"
	ActionRefundUpgraded Action = "refund_upgraded"
	ActionFlagged        Action = "flagged_for_review"
	ActionCancelled      Action = "owner_cancelled"
)

// WebhookResult is acknowledged back to the gateway and logged.
type WebhookResult struct {
	Action    Action            `json:"action"`
	PaymentID int64             `json:"payment_id,omitempty"`
	OwnerType billing.OwnerType `json:"owner_type,omitempty"`
	OwnerID   int64             `json:"owner_id,omitempty"`
	Refund    *refund.Outcome   `json:"refund,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

type ReviewListResponse struct {
	Refunds []billing.Refund `json:"refunds"`
	Count   int              `json:"count"`
}
