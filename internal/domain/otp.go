package domain

import (
	"time"

	"github.com/google/uuid"
)

// OtpRecord is one issued verification code. The table is append-only; the
// trailing-window count of rows per phone is the rate-limit counter. Code
// expiry is enforced at verification time, outside this service.
type OtpRecord struct {
	ID        uuid.UUID `json:"id"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code"` // 6 ASCII digits, 100000-999999
	CreatedAt time.Time `json:"created_at"`
}

// OtpIssueResult is the outcome of one issuance attempt.
type OtpIssueResult struct {
	Throttled  bool   `json:"throttled"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds until the window frees up
	Code       string `json:"-"`                     // never serialized in responses
}
