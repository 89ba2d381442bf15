/**
 * @description
 * This file implements the outbound disbursement flow. A payout is executed
 * at most once per idempotency key: the key is reserved in the database before
 * the provider call, forwarded to the provider on the wire, and the stored
 * acknowledgement is replayed on repeat submissions.
 *
 * Retrying after a 'created' or 'failed' attempt reuses the same key, so a
 * payout that reached the provider before a crash cannot be duplicated.
 *
 * @dependencies
 * - internal/domain, internal/store: Payout state and persistence.
 * - pkg/payoutclient: HTTP client for the payout provider.
 * - github.com/shopspring/decimal: Canonical amount formatting on the wire.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pasarkita/payment-service/internal/domain"
	"github.com/pasarkita/payment-service/internal/store"
	"github.com/pasarkita/payment-service/pkg/payoutclient"
)

// DisbursementResult reports the outcome of a Disburse call. ProviderAck
// carries the provider's acknowledgement body verbatim for fresh payouts;
// replays reconstruct the acknowledgement from the stored row.
type DisbursementResult struct {
	Payout      *domain.PayoutRequest
	ProviderAck []byte
	Replayed    bool
}

// Disburse executes one operator-initiated payout.
//
// Flow per idempotency key:
//  1. An acknowledged payout replays its stored provider acknowledgement
//     without contacting the provider again.
//  2. A new key is reserved before the provider call; created and failed
//     attempts retry through the same reserved row.
//  3. On provider acknowledgement the payout row and a negative ledger entry
//     are written; on provider error the row is marked failed and the
//     provider's error is returned to the caller verbatim.
func (s *Service) Disburse(ctx context.Context, sub domain.PayoutSubmission) (*DisbursementResult, error) {
	if err := validatePayoutSubmission(sub); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindPayoutRequestByIdempotencyKey(ctx, sub.IdempotencyKey)
	if err != nil && !errors.Is(err, store.ErrPayoutNotFound) {
		return nil, fmt.Errorf("failed to look up payout by idempotency key: %w", err)
	}

	var payout *domain.PayoutRequest
	switch {
	case existing == nil:
		payout = &domain.PayoutRequest{
			ID:                 uuid.New(),
			IdempotencyKey:     sub.IdempotencyKey,
			MerchantID:         sub.MerchantID,
			BeneficiaryName:    sub.BeneficiaryName,
			BeneficiaryAccount: sub.BeneficiaryAccount,
			BeneficiaryBank:    sub.BeneficiaryBank,
			Amount:             sub.Amount,
			ReferenceOrderID:   sub.ReferenceOrderID,
			Notes:              sub.Notes,
			Status:             domain.PayoutStatusCreated,
		}
		acquired, err := s.repo.ReservePayoutRequest(ctx, payout)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve payout request: %w", err)
		}
		if !acquired {
			// Lost the race to a concurrent submission with the same key.
			existing, err = s.repo.FindPayoutRequestByIdempotencyKey(ctx, sub.IdempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load payout after reservation race: %w", err)
			}
			payout = existing
		}

	case existing.Status == domain.PayoutStatusAcknowledged:
		log.Printf("level=info component=disbursement outcome=replay idempotency_key=%s payout_id=%s", sub.IdempotencyKey, existing.ID)
		return &DisbursementResult{Payout: existing, Replayed: true}, nil

	default:
		// created or failed; retry the provider call through the same row.
		payout = existing
	}

	if payout.Status == domain.PayoutStatusAcknowledged {
		return &DisbursementResult{Payout: payout, Replayed: true}, nil
	}
	if payout.IdempotencyKey == sub.IdempotencyKey && !payoutMatchesSubmission(payout, sub) {
		return nil, store.ErrPayoutKeyConflict
	}

	ack, err := s.payoutClient.CreateDisbursement(ctx, payout.IdempotencyKey, payoutclient.DisbursementRequest{
		Amount:             decimal.NewFromInt(payout.Amount).String(),
		BeneficiaryName:    payout.BeneficiaryName,
		BeneficiaryBank:    payout.BeneficiaryBank,
		BeneficiaryAccount: payout.BeneficiaryAccount,
		Remark:             payout.Notes,
		ReferenceID:        payout.ReferenceOrderID,
	})
	if err != nil {
		var provErr *payoutclient.ErrorResponse
		if errors.As(err, &provErr) {
			status := provErr.ErrorCode
			if markErr := s.repo.MarkPayoutFailed(ctx, payout.ID, status); markErr != nil {
				log.Printf("level=error component=disbursement msg=\"failed to mark payout failed\" payout_id=%s err=%v", payout.ID, markErr)
			}
			log.Printf("level=warn component=disbursement outcome=provider_rejected payout_id=%s error_code=%s", payout.ID, provErr.ErrorCode)
			// Provider errors pass through to the operator unchanged.
			return nil, provErr
		}
		return nil, fmt.Errorf("disbursement call failed: %w", err)
	}

	// Acknowledgement and ledger entry commit together. If the write fails
	// the row stays 'created' and the operator's retry reaches the provider
	// again with the same key, which the provider deduplicates.
	description := fmt.Sprintf("Payout to %s (%s %s)", payout.BeneficiaryName, payout.BeneficiaryBank, payout.BeneficiaryAccount)
	entry, err := s.repo.MarkPayoutAcknowledged(ctx, payout.ID, ack.ID, ack.Status, payout.MerchantID, -payout.Amount, description)
	if err != nil {
		log.Printf("level=error component=disbursement msg=\"failed to record payout acknowledgement\" payout_id=%s err=%v", payout.ID, err)
		return nil, fmt.Errorf("failed to record payout acknowledgement: %w", err)
	}

	now := time.Now().UTC()
	payout.Status = domain.PayoutStatusAcknowledged
	payout.ProviderRef = &ack.ID
	payout.ProviderStatus = &ack.Status
	payout.UpdatedAt = now

	log.Printf("level=info component=disbursement outcome=acknowledged payout_id=%s provider_ref=%s amount=%d balance_after=%d",
		payout.ID, ack.ID, payout.Amount, entry.BalanceAfter)

	return &DisbursementResult{Payout: payout, ProviderAck: ack.RawBody}, nil
}

func validatePayoutSubmission(sub domain.PayoutSubmission) error {
	if sub.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidPayout)
	}
	if sub.MerchantID == uuid.Nil {
		return fmt.Errorf("%w: merchant id is required", ErrInvalidPayout)
	}
	if sub.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPayout)
	}
	if sub.BeneficiaryName == "" || sub.BeneficiaryAccount == "" || sub.BeneficiaryBank == "" {
		return fmt.Errorf("%w: beneficiary details are required", ErrInvalidPayout)
	}
	return nil
}

// payoutMatchesSubmission guards against an idempotency key being reused for
// a materially different payout.
func payoutMatchesSubmission(p *domain.PayoutRequest, sub domain.PayoutSubmission) bool {
	return p.MerchantID == sub.MerchantID &&
		p.Amount == sub.Amount &&
		p.BeneficiaryAccount == sub.BeneficiaryAccount &&
		p.BeneficiaryBank == sub.BeneficiaryBank
}
