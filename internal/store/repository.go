/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the payment-service. By defining an
 * interface, we decouple the settlement/disbursement/OTP logic from the specific
 * database implementation (PostgreSQL), making the code easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pasarkita/payment-service/internal/domain"
)

var (
	ErrMerchantNotFound     = errors.New("merchant not found")
	ErrTopupRequestNotFound = errors.New("topup request not found")
	ErrTopupAlreadyApplied  = errors.New("topup request already applied")
	ErrPayoutNotFound       = errors.New("payout request not found")
	ErrPayoutKeyConflict    = errors.New("idempotency key reused with a different payout")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Topup / settlement methods
	FindTopupRequestByID(ctx context.Context, orderID string) (*domain.TopupRequest, error)
	// ApplyTopupSettlement flips the request pending->approved, credits the
	// merchant balance and appends one ledger entry, all inside a single
	// transaction. Returns ErrTopupAlreadyApplied when the request is no
	// longer pending and ErrTopupRequestNotFound when it does not exist.
	ApplyTopupSettlement(ctx context.Context, orderID string, settledAt time.Time) (*domain.SettlementApplication, error)

	// Merchant / ledger methods
	GetMerchantBalance(ctx context.Context, merchantID uuid.UUID) (int64, error)
	ListLedgerEntries(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)

	// Payout methods
	FindPayoutRequestByIdempotencyKey(ctx context.Context, key string) (*domain.PayoutRequest, error)
	// ReservePayoutRequest inserts the payout row with status 'created'.
	// A concurrent or earlier reservation under the same key wins the unique
	// constraint; callers losing the race re-read the existing row.
	ReservePayoutRequest(ctx context.Context, payout *domain.PayoutRequest) (acquired bool, err error)
	// MarkPayoutAcknowledged records the provider's acknowledgement and
	// appends the payout ledger entry in one transaction, so an acknowledged
	// payout can never durably exist without its audit trail. The ledger
	// entry carries a balance snapshot; the balance itself is not
	// decremented, payout bookkeeping is tracked by the payout_requests
	// state.
	MarkPayoutAcknowledged(ctx context.Context, payoutID uuid.UUID, providerRef, providerStatus string, merchantID uuid.UUID, amount int64, description string) (*domain.LedgerEntry, error)
	MarkPayoutFailed(ctx context.Context, payoutID uuid.UUID, providerStatus string) error

	// OTP methods
	// CountOtpRecordsSince returns the number of records for the phone created
	// after `since`, plus the creation time of the oldest in-window record
	// (nil when the count is zero).
	CountOtpRecordsSince(ctx context.Context, phone string, since time.Time) (count int, oldest *time.Time, err error)
	CreateOtpRecord(ctx context.Context, record *domain.OtpRecord) error
}
