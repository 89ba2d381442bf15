/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/payoutclient: Typed provider errors passed through to operators.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pasarkita/payment-service/internal/app"
	"github.com/pasarkita/payment-service/internal/domain"
	"github.com/pasarkita/payment-service/internal/store"
	"github.com/pasarkita/payment-service/pkg/payoutclient"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// settlementCallbackRequest mirrors the gateway's notification body. Monetary
// and numeric fields arrive as strings and are kept verbatim because the
// signature digest covers the exact bytes the gateway sent.
type settlementCallbackRequest struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	SignatureKey      string `json:"signature_key"`
}

// SettlementCallbackHandler handles inbound settlement notifications from the
// payment gateway. Every recognized notification is acknowledged with 200 so
// the gateway stops retrying; only authentication failures, malformed bodies
// and transient internal errors return non-2xx.
func (h *PaymentHandlers) SettlementCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var req settlementCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OrderID == "" || req.StatusCode == "" || req.GrossAmount == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required notification fields")
		return
	}

	grossAmount, err := decimal.NewFromString(req.GrossAmount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid gross_amount")
		return
	}
	if grossAmount.IsNegative() {
		h.writeError(w, http.StatusBadRequest, "gross_amount must not be negative")
		return
	}

	notification := domain.SettlementNotification{
		OrderID:           req.OrderID,
		StatusCode:        req.StatusCode,
		GrossAmount:       grossAmount,
		RawGrossAmount:    req.GrossAmount,
		TransactionStatus: req.TransactionStatus,
		FraudStatus:       req.FraudStatus,
		SignatureKey:      req.SignatureKey,
	}

	outcome, err := h.service.ProcessSettlement(r.Context(), notification)
	if err != nil {
		if errors.Is(err, app.ErrInvalidSignature) {
			h.writeError(w, http.StatusForbidden, "Invalid signature")
			return
		}
		if errors.Is(err, app.ErrAmountMismatch) {
			h.writeError(w, http.StatusBadRequest, "Gross amount does not match the order")
			return
		}
		log.Printf("level=error component=api msg=\"settlement processing failed\" order_id=%s err=%v", req.OrderID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to process notification")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"outcome": string(outcome),
	})
}

// OtpRequestHandler handles OTP issuance requests.
func (h *PaymentHandlers) OtpRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.IssueOTP(r.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, app.ErrInvalidPhone) {
			h.writeError(w, http.StatusBadRequest, "Invalid phone number")
			return
		}
		if errors.Is(err, app.ErrOtpDeliveryFailed) {
			h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"success": false,
				"error":   "DELIVERY_FAILED",
			})
			return
		}
		log.Printf("level=error component=api msg=\"otp issuance failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to issue verification code")
		return
	}

	if result.Throttled {
		h.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"success":     false,
			"error":       "LIMIT_REACHED",
			"retry_after": result.RetryAfter,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type disburseRequest struct {
	MerchantID         string `json:"merchant_id"`
	Amount             string `json:"amount"` // decimal string, whole rupiah
	BeneficiaryName    string `json:"beneficiary_name"`
	BeneficiaryAccount string `json:"beneficiary_account"`
	BeneficiaryBank    string `json:"beneficiary_bank"`
	ReferenceOrderID   string `json:"reference_order_id"`
	Notes              string `json:"notes"`
}

// parseRupiahAmount parses a boundary decimal string into whole rupiah.
func parseRupiahAmount(raw string) (int64, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	if !amount.IsInteger() {
		return 0, errors.New("amount must be whole rupiah")
	}
	if !amount.IsPositive() {
		return 0, errors.New("amount must be positive")
	}
	return amount.IntPart(), nil
}

// DisburseHandler handles operator-initiated payout submissions. The
// Idempotency-Key header is mandatory; repeated submissions with the same key
// replay the stored acknowledgement.
func (h *PaymentHandlers) DisburseHandler(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		h.writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var req disburseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid merchant_id")
		return
	}

	amount, err := parseRupiahAmount(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	result, err := h.service.Disburse(r.Context(), domain.PayoutSubmission{
		IdempotencyKey:     idempotencyKey,
		MerchantID:         merchantID,
		BeneficiaryName:    req.BeneficiaryName,
		BeneficiaryAccount: req.BeneficiaryAccount,
		BeneficiaryBank:    req.BeneficiaryBank,
		Amount:             amount,
		ReferenceOrderID:   req.ReferenceOrderID,
		Notes:              req.Notes,
	})
	if err != nil {
		var provErr *payoutclient.ErrorResponse
		if errors.As(err, &provErr) {
			// Provider rejections go back to the operator unchanged.
			h.writeJSON(w, http.StatusUnprocessableEntity, provErr)
			return
		}
		if errors.Is(err, app.ErrInvalidPayout) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, store.ErrPayoutKeyConflict) {
			h.writeError(w, http.StatusConflict, "Idempotency key already used for a different payout")
			return
		}
		log.Printf("level=error component=api msg=\"disbursement failed\" idempotency_key=%s err=%v", idempotencyKey, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to execute payout")
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	response := map[string]interface{}{
		"payout":   result.Payout,
		"replayed": result.Replayed,
	}
	if len(result.ProviderAck) > 0 {
		response["provider_ack"] = json.RawMessage(result.ProviderAck)
	}
	h.writeJSON(w, status, response)
}

// BalanceHandler returns the current balance for a merchant.
func (h *PaymentHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, err := uuid.Parse(chi.URLParam(r, "merchantID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid merchant id")
		return
	}

	balance, err := h.service.GetMerchantBalance(r.Context(), merchantID)
	if err != nil {
		if errors.Is(err, store.ErrMerchantNotFound) {
			h.writeError(w, http.StatusNotFound, "Merchant not found")
			return
		}
		log.Printf("level=error component=api msg=\"balance lookup failed\" merchant_id=%s err=%v", merchantID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch balance")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"merchant_id": merchantID,
		"balance":     balance,
	})
}

// LedgerHandler returns a page of a merchant's ledger entries, newest first.
func (h *PaymentHandlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, err := uuid.Parse(chi.URLParam(r, "merchantID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid merchant id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.ListLedgerEntries(r.Context(), merchantID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api msg=\"ledger lookup failed\" merchant_id=%s err=%v", merchantID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch ledger")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"merchant_id": merchantID,
		"entries":     entries,
	})
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
