package api

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pasarkita/payment-service/internal/app"
	"github.com/pasarkita/payment-service/internal/domain"
	"github.com/pasarkita/payment-service/internal/store"
	"github.com/pasarkita/payment-service/pkg/payoutclient"
)

const testServerKey = "SB-server-key-1234"

type handlerRepoStub struct {
	store.Repository

	requests map[string]*domain.TopupRequest
	balance  int64

	otpRecords []*domain.OtpRecord
}

func (s *handlerRepoStub) FindTopupRequestByID(ctx context.Context, orderID string) (*domain.TopupRequest, error) {
	req, ok := s.requests[orderID]
	if !ok {
		return nil, store.ErrTopupRequestNotFound
	}
	copied := *req
	return &copied, nil
}

func (s *handlerRepoStub) ApplyTopupSettlement(ctx context.Context, orderID string, settledAt time.Time) (*domain.SettlementApplication, error) {
	req, ok := s.requests[orderID]
	if !ok {
		return nil, store.ErrTopupRequestNotFound
	}
	if req.Status != domain.TopupStatusPending {
		return nil, store.ErrTopupAlreadyApplied
	}
	req.Status = domain.TopupStatusApproved
	s.balance += req.Amount
	return &domain.SettlementApplication{
		OrderID:      orderID,
		MerchantID:   req.MerchantID,
		Amount:       req.Amount,
		BalanceAfter: s.balance,
		ProcessedAt:  settledAt,
	}, nil
}

func (s *handlerRepoStub) GetMerchantBalance(ctx context.Context, merchantID uuid.UUID) (int64, error) {
	return s.balance, nil
}

func (s *handlerRepoStub) CountOtpRecordsSince(ctx context.Context, phone string, since time.Time) (int, *time.Time, error) {
	var (
		count  int
		oldest *time.Time
	)
	for _, r := range s.otpRecords {
		if r.Phone != phone || !r.CreatedAt.After(since) {
			continue
		}
		count++
		if oldest == nil || r.CreatedAt.Before(*oldest) {
			created := r.CreatedAt
			oldest = &created
		}
	}
	return count, oldest, nil
}

func (s *handlerRepoStub) CreateOtpRecord(ctx context.Context, record *domain.OtpRecord) error {
	s.otpRecords = append(s.otpRecords, record)
	return nil
}

type handlerMessengerStub struct {
	sendErr error
	calls   int
}

func (m *handlerMessengerStub) SendOTP(ctx context.Context, phone, code string) error {
	m.calls++
	return m.sendErr
}

func newTestHandlers(repo *handlerRepoStub, messenger *handlerMessengerStub) *PaymentHandlers {
	svc := app.NewService(
		repo,
		app.NewSignatureVerifier(testServerKey),
		payoutclient.NewClient("http://unused", "test-key"),
		messenger,
		nil,
		3,
		time.Hour,
	)
	return NewPaymentHandlers(svc)
}

func settlementBody(orderID, statusCode, grossAmount, transactionStatus string) []byte {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + testServerKey))
	payload := map[string]string{
		"order_id":           orderID,
		"status_code":        statusCode,
		"gross_amount":       grossAmount,
		"transaction_status": transactionStatus,
		"signature_key":      hex.EncodeToString(sum[:]),
	}
	body, _ := json.Marshal(payload)
	return body
}

func TestSettlementCallbackHandler_AppliesAndAcknowledgesReplay(t *testing.T) {
	repo := &handlerRepoStub{
		requests: map[string]*domain.TopupRequest{
			"ORD-A": {ID: "ORD-A", MerchantID: uuid.New(), Amount: 10000, Status: domain.TopupStatusPending},
		},
	}
	handlers := newTestHandlers(repo, &handlerMessengerStub{})

	body := settlementBody("ORD-A", "200", "10000.00", "settlement")

	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.SettlementCallbackHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "success" || resp["outcome"] != "applied" {
		t.Fatalf("unexpected response body: %v", resp)
	}
	if repo.balance != 10000 {
		t.Fatalf("expected balance 10000, got %d", repo.balance)
	}

	// Replay of the exact same notification is acknowledged without a second credit.
	req = httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	handlers.SettlementCallbackHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode replay response: %v", err)
	}
	if resp["outcome"] != "already_applied" {
		t.Fatalf("expected already_applied outcome on replay, got %q", resp["outcome"])
	}
	if repo.balance != 10000 {
		t.Fatalf("expected balance unchanged after replay, got %d", repo.balance)
	}
}

func TestSettlementCallbackHandler_InvalidSignatureReturns403(t *testing.T) {
	repo := &handlerRepoStub{requests: map[string]*domain.TopupRequest{}}
	handlers := newTestHandlers(repo, &handlerMessengerStub{})

	payload := map[string]string{
		"order_id":           "ORD-A",
		"status_code":        "200",
		"gross_amount":       "10000.00",
		"transaction_status": "settlement",
		"signature_key":      "not-a-real-digest",
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.SettlementCallbackHandler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSettlementCallbackHandler_MalformedRequestsReturn400(t *testing.T) {
	handlers := newTestHandlers(&handlerRepoStub{requests: map[string]*domain.TopupRequest{}}, &handlerMessengerStub{})

	tests := []struct {
		name string
		body []byte
	}{
		{name: "invalid json", body: []byte(`{"order_id":`)},
		{name: "missing fields", body: []byte(`{"order_id":"ORD-A"}`)},
		{name: "non-numeric amount", body: []byte(`{"order_id":"ORD-A","status_code":"200","gross_amount":"abc","signature_key":"x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handlers.SettlementCallbackHandler(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSettlementCallbackHandler_AmountMismatchReturns400(t *testing.T) {
	repo := &handlerRepoStub{
		requests: map[string]*domain.TopupRequest{
			"ORD-A": {ID: "ORD-A", MerchantID: uuid.New(), Amount: 10000, Status: domain.TopupStatusPending},
		},
	}
	handlers := newTestHandlers(repo, &handlerMessengerStub{})

	body := settlementBody("ORD-A", "200", "99999.00", "settlement")
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.SettlementCallbackHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for amount mismatch, got %d", rec.Code)
	}
	if repo.balance != 0 {
		t.Fatalf("expected no credit on amount mismatch, got balance %d", repo.balance)
	}
}

func TestSettlementCallbackHandler_NegativeAmountReturns400(t *testing.T) {
	repo := &handlerRepoStub{
		requests: map[string]*domain.TopupRequest{
			"ORD-A": {ID: "ORD-A", MerchantID: uuid.New(), Amount: 10000, Status: domain.TopupStatusPending},
		},
	}
	handlers := newTestHandlers(repo, &handlerMessengerStub{})

	// Signed correctly over the negative amount, so only the sign check
	// can reject it.
	body := settlementBody("ORD-A", "200", "-10000.00", "settlement")
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.SettlementCallbackHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative gross_amount, got %d", rec.Code)
	}
	if repo.balance != 0 {
		t.Fatalf("expected no credit for a negative amount, got balance %d", repo.balance)
	}
	if repo.requests["ORD-A"].Status != domain.TopupStatusPending {
		t.Fatal("expected the pending request to stay untouched")
	}
}

func TestOtpRequestHandler_SuccessAndThrottle(t *testing.T) {
	repo := &handlerRepoStub{}
	messenger := &handlerMessengerStub{}
	handlers := newTestHandlers(repo, messenger)

	body := []byte(`{"phone":"+62812345678"}`)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/otp/request", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handlers.OtpRequestHandler(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d (%s)", i+1, rec.Code, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/otp/request", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.OtpRequestHandler(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the fourth request, got %d", rec.Code)
	}
	var resp struct {
		Success    bool   `json:"success"`
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode throttle response: %v", err)
	}
	if resp.Success {
		t.Fatal("expected success=false in throttle response")
	}
	if resp.Error != "LIMIT_REACHED" {
		t.Fatalf("expected LIMIT_REACHED error code, got %q", resp.Error)
	}
	if resp.RetryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %d", resp.RetryAfter)
	}
	if messenger.calls != 3 {
		t.Fatalf("expected three deliveries, got %d", messenger.calls)
	}
}

func TestOtpRequestHandler_InvalidPhoneReturns400(t *testing.T) {
	handlers := newTestHandlers(&handlerRepoStub{}, &handlerMessengerStub{})

	req := httptest.NewRequest(http.MethodPost, "/otp/request", bytes.NewReader([]byte(`{"phone":"021555123"}`)))
	rec := httptest.NewRecorder()
	handlers.OtpRequestHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a landline number, got %d", rec.Code)
	}
}

func TestOtpRequestHandler_DeliveryFailureReturns502(t *testing.T) {
	repo := &handlerRepoStub{}
	handlers := newTestHandlers(repo, &handlerMessengerStub{sendErr: errors.New("gateway down")})

	req := httptest.NewRequest(http.MethodPost, "/otp/request", bytes.NewReader([]byte(`{"phone":"0812345678"}`)))
	rec := httptest.NewRecorder()
	handlers.OtpRequestHandler(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when delivery fails, got %d", rec.Code)
	}
	if len(repo.otpRecords) != 1 {
		t.Fatalf("expected the failed delivery to still consume quota, got %d records", len(repo.otpRecords))
	}
}

func TestDisburseHandler_RequiresIdempotencyKeyHeader(t *testing.T) {
	handlers := newTestHandlers(&handlerRepoStub{}, &handlerMessengerStub{})

	body := fmt.Sprintf(`{"merchant_id":%q,"amount":"75000","beneficiary_name":"Budi","beneficiary_account":"123","beneficiary_bank":"bca"}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/disbursements", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	handlers.DisburseHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key header, got %d", rec.Code)
	}
}

func TestDisburseHandler_RejectsNonIntegerAmount(t *testing.T) {
	handlers := newTestHandlers(&handlerRepoStub{}, &handlerMessengerStub{})

	body := fmt.Sprintf(`{"merchant_id":%q,"amount":"75000.50","beneficiary_name":"Budi","beneficiary_account":"123","beneficiary_bank":"bca"}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/disbursements", bytes.NewReader([]byte(body)))
	req.Header.Set("Idempotency-Key", "key-001")
	rec := httptest.NewRecorder()
	handlers.DisburseHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for fractional rupiah, got %d", rec.Code)
	}
}

func TestDisburseHandler_RejectsNonPositiveAmounts(t *testing.T) {
	handlers := newTestHandlers(&handlerRepoStub{}, &handlerMessengerStub{})

	for _, amount := range []string{"-75000", "0"} {
		body := fmt.Sprintf(`{"merchant_id":%q,"amount":%q,"beneficiary_name":"Budi","beneficiary_account":"123","beneficiary_bank":"bca"}`, uuid.New(), amount)
		req := httptest.NewRequest(http.MethodPost, "/disbursements", bytes.NewReader([]byte(body)))
		req.Header.Set("Idempotency-Key", "key-001")
		rec := httptest.NewRecorder()
		handlers.DisburseHandler(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("amount %q: expected 400, got %d", amount, rec.Code)
		}
	}
}
