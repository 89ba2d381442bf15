/**
 * @description
 * This file contains the core business logic for the payment-service. The
 * `Service` struct orchestrates settlement ingestion, outbound disbursements
 * and OTP issuance, coordinating between the database repository, the payout
 * provider client, the messaging gateway and the message broker.
 *
 * Key features:
 * - Verifies settlement authenticity before any state is read.
 * - Applies each settlement exactly once under at-least-once delivery.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Boundary-canonical monetary values.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/payoutclient, pkg/rabbitmq: External service communication.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pasarkita/payment-service/internal/domain"
	"github.com/pasarkita/payment-service/internal/store"
	"github.com/pasarkita/payment-service/pkg/payoutclient"
	"github.com/pasarkita/payment-service/pkg/rabbitmq"
)

// Gateway transaction statuses that can credit a balance.
const (
	transactionStatusSettlement = "settlement"
	transactionStatusCapture    = "capture"
	fraudStatusAccept           = "accept"
)

var (
	ErrInvalidSignature  = errors.New("settlement signature verification failed")
	ErrAmountMismatch    = errors.New("settlement gross amount does not match the pending request")
	ErrInvalidPhone      = errors.New("phone number is not a valid mobile number")
	ErrInvalidPayout     = errors.New("payout request is invalid")
	ErrOtpDeliveryFailed = errors.New("otp delivery to messaging gateway failed")
)

// Messenger delivers outbound messages through the messaging gateway.
type Messenger interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// RateLimiter is the optional distributed first-line guard for OTP issuance.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the payment integration layer.
type Service struct {
	repo          store.Repository
	verifier      *SignatureVerifier
	payoutClient  *payoutclient.Client
	messenger     Messenger
	eventProducer rabbitmq.Publisher

	otpLimiter RateLimiter
	otpLimit   int
	otpWindow  time.Duration
}

// NewService creates a new payment service instance.
func NewService(
	repo store.Repository,
	verifier *SignatureVerifier,
	payoutClient *payoutclient.Client,
	messenger Messenger,
	producer rabbitmq.Publisher,
	otpLimit int,
	otpWindow time.Duration,
) *Service {
	if otpLimit <= 0 {
		otpLimit = 3
	}
	if otpWindow <= 0 {
		otpWindow = time.Hour
	}
	return &Service{
		repo:          repo,
		verifier:      verifier,
		payoutClient:  payoutClient,
		messenger:     messenger,
		eventProducer: producer,
		otpLimit:      otpLimit,
		otpWindow:     otpWindow,
	}
}

// SetOtpRateLimiter installs the distributed rate limiter. The service works
// without one; the persisted counter stays authoritative either way.
func (s *Service) SetOtpRateLimiter(limiter RateLimiter) {
	s.otpLimiter = limiter
}

// ProcessSettlement applies one inbound settlement notification.
//
// The pipeline order matters: authenticity is a security boundary and is
// checked before any state read; the idempotency decision happens inside the
// repository transaction so two concurrent deliveries of the same event
// resolve to exactly one OutcomeApplied.
func (s *Service) ProcessSettlement(ctx context.Context, n domain.SettlementNotification) (domain.SettlementOutcome, error) {
	if !s.verifier.Verify(n) {
		log.Printf("level=warn component=settlement outcome=reject reason=invalid_signature order_id=%s", n.OrderID)
		return "", ErrInvalidSignature
	}

	req, err := s.repo.FindTopupRequestByID(ctx, n.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrTopupRequestNotFound) {
			// Acknowledged but logged: a verified event for an unknown order
			// means gateway and local state have diverged.
			log.Printf("level=warn component=settlement outcome=not_found order_id=%s", n.OrderID)
			return domain.OutcomeNotFound, nil
		}
		return "", err
	}

	if req.Status != domain.TopupStatusPending {
		log.Printf("level=info component=settlement outcome=already_applied order_id=%s", n.OrderID)
		return domain.OutcomeAlreadyApplied, nil
	}

	if !settlementEligible(n.TransactionStatus, n.FraudStatus) {
		log.Printf("level=info component=settlement outcome=ignored order_id=%s transaction_status=%s fraud_status=%s",
			n.OrderID, n.TransactionStatus, n.FraudStatus)
		return domain.OutcomeIgnored, nil
	}

	if !n.GrossAmount.Equal(decimal.NewFromInt(req.Amount)) {
		log.Printf("level=error component=settlement outcome=reject reason=amount_mismatch order_id=%s expected=%d got=%s",
			n.OrderID, req.Amount, n.GrossAmount.String())
		return "", ErrAmountMismatch
	}

	application, err := s.repo.ApplyTopupSettlement(ctx, n.OrderID, time.Now().UTC())
	if err != nil {
		// A concurrent delivery can win the conditional update between our
		// pre-read and the apply; that is the defined idempotent outcome.
		if errors.Is(err, store.ErrTopupAlreadyApplied) {
			log.Printf("level=info component=settlement outcome=already_applied order_id=%s", n.OrderID)
			return domain.OutcomeAlreadyApplied, nil
		}
		if errors.Is(err, store.ErrTopupRequestNotFound) {
			return domain.OutcomeNotFound, nil
		}
		return "", err
	}

	log.Printf("level=info component=settlement outcome=applied order_id=%s merchant_id=%s amount=%d balance_after=%d",
		application.OrderID, application.MerchantID, application.Amount, application.BalanceAfter)

	if s.eventProducer != nil {
		event := domain.TopupSettledEvent{
			OrderID:      application.OrderID,
			MerchantID:   application.MerchantID,
			Amount:       application.Amount,
			BalanceAfter: application.BalanceAfter,
			Timestamp:    application.ProcessedAt,
		}
		if err := s.eventProducer.PublishTopupSettledEvent(ctx, event); err != nil {
			// The settlement is committed; a broker hiccup must not fail it.
			log.Printf("level=warn component=settlement msg=\"topup.settled publish failed\" order_id=%s err=%v", application.OrderID, err)
		}
	}

	return domain.OutcomeApplied, nil
}

// settlementEligible reports whether a gateway status credits the balance.
// Everything else is acknowledged and ignored.
func settlementEligible(transactionStatus, fraudStatus string) bool {
	switch transactionStatus {
	case transactionStatusSettlement:
		return true
	case transactionStatusCapture:
		return fraudStatus == fraudStatusAccept
	default:
		return false
	}
}

// GetMerchantBalance retrieves the current balance for a merchant in rupiah.
func (s *Service) GetMerchantBalance(ctx context.Context, merchantID uuid.UUID) (int64, error) {
	return s.repo.GetMerchantBalance(ctx, merchantID)
}

// ListLedgerEntries returns a merchant's ledger page, newest first.
func (s *Service) ListLedgerEntries(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	return s.repo.ListLedgerEntries(ctx, merchantID, limit, offset)
}
