/**
 * @description
 * This file implements OTP issuance with per-phone rate limiting. The
 * persisted otp_records count over a trailing window is the authoritative
 * limit; an optional Redis counter in front of it sheds load during bursts
 * without ever being trusted on its own.
 *
 * The code is generated with crypto/rand and the record is persisted before
 * the delivery attempt, so a failed delivery still consumes quota. This keeps
 * the limiter robust against delivery-failure retry loops.
 *
 * @dependencies
 * - crypto/rand: Unbiased OTP code generation.
 * - internal/domain, internal/store: OTP records and persistence.
 */

package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pasarkita/payment-service/internal/domain"
)

const otpRateLimitScope = "otp_request"

// IssueOTP generates, persists and delivers one verification code for the
// given phone number. When the trailing-window limit is reached the result is
// Throttled with RetryAfter set to the seconds until the oldest counted
// record leaves the window.
func (s *Service) IssueOTP(ctx context.Context, rawPhone string) (*domain.OtpIssueResult, error) {
	phone, err := normalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	if s.otpLimiter != nil {
		count, retryAfter, err := s.otpLimiter.ConsumeRateLimit(ctx, otpRateLimitScope, phone, s.otpLimit, s.otpWindow)
		if err != nil {
			// Redis trouble never blocks issuance; the database count below
			// stays authoritative.
			log.Printf("level=warn component=otp msg=\"rate limiter unavailable, falling back to persisted count\" err=%v", err)
		} else if count > s.otpLimit {
			log.Printf("level=info component=otp outcome=throttled source=redis phone=%s retry_after=%d", phone, retryAfter)
			return &domain.OtpIssueResult{Throttled: true, RetryAfter: retryAfter}, nil
		}
	}

	since := time.Now().UTC().Add(-s.otpWindow)
	count, oldest, err := s.repo.CountOtpRecordsSince(ctx, phone, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent otp records: %w", err)
	}
	if count >= s.otpLimit {
		retryAfter := 0
		if oldest != nil {
			retryAfter = int(time.Until(oldest.Add(s.otpWindow)).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		log.Printf("level=info component=otp outcome=throttled source=database phone=%s count=%d retry_after=%d", phone, count, retryAfter)
		return &domain.OtpIssueResult{Throttled: true, RetryAfter: retryAfter}, nil
	}

	code, err := generateOtpCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp code: %w", err)
	}

	record := &domain.OtpRecord{
		ID:        uuid.New(),
		Phone:     phone,
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateOtpRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist otp record: %w", err)
	}

	if err := s.messenger.SendOTP(ctx, phone, code); err != nil {
		// The record is already persisted and counts toward the limit.
		log.Printf("level=error component=otp outcome=delivery_failed phone=%s err=%v", phone, err)
		return nil, fmt.Errorf("%w: %v", ErrOtpDeliveryFailed, err)
	}

	log.Printf("level=info component=otp outcome=sent phone=%s", phone)
	return &domain.OtpIssueResult{Code: code}, nil
}

// normalizePhone canonicalizes Indonesian mobile numbers to local 08 form.
// Accepted inputs: +628xx, 628xx, 08xx and bare 8xx.
func normalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")

	switch {
	case strings.HasPrefix(phone, "+62"):
		phone = "0" + phone[3:]
	case strings.HasPrefix(phone, "62"):
		phone = "0" + phone[2:]
	case strings.HasPrefix(phone, "8"):
		phone = "0" + phone
	}

	if !strings.HasPrefix(phone, "08") {
		return "", ErrInvalidPhone
	}
	if len(phone) < 10 || len(phone) > 15 {
		return "", ErrInvalidPhone
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}
	return phone, nil
}

// generateOtpCode returns a 6 digit code in [100000, 999999].
func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
