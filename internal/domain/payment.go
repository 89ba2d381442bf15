/**
 * @description
 * This file defines the core domain models for the payment-service.
 * These structs represent the entities touched by the settlement, ledger and
 * disbursement flows, plus the DTOs used at the API boundary.
 *
 * @notes
 * - Amounts are stored as `int64` whole rupiah (the gateway's minor unit for
 *   IDR), which avoids floating-point inaccuracies with financial data.
 * - The gateway sends monetary values as decimal strings; they are parsed and
 *   validated with shopspring/decimal exactly once at the boundary.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topup request lifecycle. A request moves pending -> approved exactly once;
// there are no other transitions.
const (
	TopupStatusPending  = "pending"
	TopupStatusApproved = "approved"
)

// Ledger entry types. The ledger is append-only and doubles as the audit
// trail and the idempotency witness for settlement replays.
const (
	LedgerTypeTopupAuto = "topup_auto"
	LedgerTypePayout    = "payout"
)

// Payout request lifecycle.
const (
	PayoutStatusCreated      = "created"
	PayoutStatusAcknowledged = "acknowledged"
	PayoutStatusFailed       = "failed"
)

// SettlementNotification is one inbound notification from the payment gateway.
// It is built from the raw callback body, never mutated, and never persisted
// when the signature is invalid.
type SettlementNotification struct {
	OrderID           string
	StatusCode        string
	GrossAmount       decimal.Decimal
	RawGrossAmount    string // exact string the gateway sent; the signature digest covers it
	TransactionStatus string
	FraudStatus       string
	SignatureKey      string
}

// SettlementOutcome classifies the result of applying a settlement notification.
type SettlementOutcome string

const (
	OutcomeApplied        SettlementOutcome = "applied"
	OutcomeAlreadyApplied SettlementOutcome = "already_applied"
	OutcomeNotFound       SettlementOutcome = "not_found"
	OutcomeIgnored        SettlementOutcome = "ignored"
)

// TopupRequest is a merchant's monetary intent awaiting gateway settlement.
// Its ID equals the gateway order id and is the idempotency key for the
// settlement flow. This struct maps directly to the `topup_requests` table.
type TopupRequest struct {
	ID          string     `json:"id"`
	MerchantID  uuid.UUID  `json:"merchant_id"`
	Amount      int64      `json:"amount"` // in rupiah
	Status      string     `json:"status"` // 'pending' or 'approved'
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SettlementApplication reports the effect of one applied settlement.
type SettlementApplication struct {
	OrderID      string    `json:"order_id"`
	MerchantID   uuid.UUID `json:"merchant_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// LedgerEntry is one immutable row of the merchant ledger. Entries are only
// ever inserted; updates and deletes do not exist in this subsystem.
type LedgerEntry struct {
	ID           uuid.UUID `json:"id"`
	MerchantID   uuid.UUID `json:"merchant_id"`
	Type         string    `json:"type"` // 'topup_auto' or 'payout'
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// PayoutRequest tracks one logical outbound disbursement. The idempotency key
// is operator-generated and stable across retries of the same logical payout,
// so the provider can deduplicate server-side.
type PayoutRequest struct {
	ID                 uuid.UUID `json:"id"`
	IdempotencyKey     string    `json:"idempotency_key"`
	MerchantID         uuid.UUID `json:"merchant_id"`
	BeneficiaryName    string    `json:"beneficiary_name"`
	BeneficiaryAccount string    `json:"beneficiary_account"`
	BeneficiaryBank    string    `json:"beneficiary_bank"`
	Amount             int64     `json:"amount"` // in rupiah
	ReferenceOrderID   string    `json:"reference_order_id"`
	Notes              string    `json:"notes"`
	Status             string    `json:"status"` // 'created', 'acknowledged' or 'failed'
	ProviderRef        *string   `json:"provider_ref,omitempty"`
	ProviderStatus     *string   `json:"provider_status,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PayoutSubmission is the DTO for an operator-initiated disbursement.
type PayoutSubmission struct {
	IdempotencyKey     string
	MerchantID         uuid.UUID
	BeneficiaryName    string
	BeneficiaryAccount string
	BeneficiaryBank    string
	Amount             int64
	ReferenceOrderID   string
	Notes              string
}

// TopupSettledEvent is the payload published to RabbitMQ after a settlement
// has been applied, for downstream services (notifications, analytics).
type TopupSettledEvent struct {
	OrderID      string    `json:"order_id"`
	MerchantID   uuid.UUID `json:"merchant_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Timestamp    time.Time `json:"timestamp"`
}
