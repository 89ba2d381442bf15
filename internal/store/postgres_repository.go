/**
 * @description
 * This file implements the `Repository` interface against PostgreSQL using the
 * pgx connection pool. The settlement apply is the critical path: it performs
 * the status flip, balance credit and ledger append inside one transaction,
 * using a conditional UPDATE so that concurrent deliveries of the same gateway
 * event resolve to exactly one applied outcome.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5, pgxpool, pgconn: PostgreSQL driver and pooling.
 * - github.com/google/uuid: Row identifiers.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pasarkita/payment-service/internal/domain"
)

const (
	defaultLedgerPageSize = 50
	maxLedgerPageSize     = 200
)

// PostgresRepository is the PostgreSQL-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// clampLedgerPage normalizes caller-supplied pagination to safe bounds.
func clampLedgerPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLedgerPageSize
	}
	if limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// FindTopupRequestByID loads one topup request by its gateway order id.
func (r *PostgresRepository) FindTopupRequestByID(ctx context.Context, orderID string) (*domain.TopupRequest, error) {
	query := `
		SELECT id, merchant_id, amount, status, processed_at, created_at
		FROM topup_requests
		WHERE id = $1
	`
	var req domain.TopupRequest
	err := r.db.QueryRow(ctx, query, orderID).Scan(
		&req.ID,
		&req.MerchantID,
		&req.Amount,
		&req.Status,
		&req.ProcessedAt,
		&req.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTopupRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// ApplyTopupSettlement performs the four settlement writes atomically:
// status flip, processed_at stamp, balance credit and ledger append.
// The status flip is a conditional update guarded on status='pending'; the
// guard and the writes share one transaction, so a replayed or concurrent
// delivery of the same event observes ErrTopupAlreadyApplied instead of
// crediting twice.
func (r *PostgresRepository) ApplyTopupSettlement(ctx context.Context, orderID string, settledAt time.Time) (*domain.SettlementApplication, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		merchantID uuid.UUID
		amount     int64
	)
	flipQuery := `
		UPDATE topup_requests
		SET status = $2, processed_at = $3
		WHERE id = $1 AND status = $4
		RETURNING merchant_id, amount
	`
	err = tx.QueryRow(ctx, flipQuery, orderID, domain.TopupStatusApproved, settledAt, domain.TopupStatusPending).
		Scan(&merchantID, &amount)
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, fmt.Errorf("flip topup status: %w", err)
		}
		// Zero rows: either the request does not exist or it was already
		// approved. Distinguish inside the same transaction.
		var status string
		err = tx.QueryRow(ctx, "SELECT status FROM topup_requests WHERE id = $1", orderID).Scan(&status)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, ErrTopupRequestNotFound
			}
			return nil, fmt.Errorf("inspect topup status: %w", err)
		}
		return nil, ErrTopupAlreadyApplied
	}

	var newBalance int64
	creditQuery := `
		UPDATE merchants
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`
	if err := tx.QueryRow(ctx, creditQuery, amount, merchantID).Scan(&newBalance); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("credit merchant balance: %w", err)
	}

	ledgerQuery := `
		INSERT INTO ledger_entries (id, merchant_id, type, amount, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	description := fmt.Sprintf("Topup settlement for order %s", orderID)
	if _, err := tx.Exec(ctx, ledgerQuery,
		uuid.New(),
		merchantID,
		domain.LedgerTypeTopupAuto,
		amount,
		newBalance,
		description,
		settledAt,
	); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settlement tx: %w", err)
	}

	return &domain.SettlementApplication{
		OrderID:      orderID,
		MerchantID:   merchantID,
		Amount:       amount,
		BalanceAfter: newBalance,
		ProcessedAt:  settledAt,
	}, nil
}

// GetMerchantBalance reads the current balance for a merchant.
func (r *PostgresRepository) GetMerchantBalance(ctx context.Context, merchantID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, "SELECT balance FROM merchants WHERE id = $1", merchantID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrMerchantNotFound
		}
		return 0, err
	}
	return balance, nil
}

// ListLedgerEntries returns ledger rows for a merchant, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	limit, offset = clampLedgerPage(limit, offset)
	query := `
		SELECT id, merchant_id, type, amount, balance_after, description, created_at
		FROM ledger_entries
		WHERE merchant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, merchantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.MerchantID,
			&entry.Type,
			&entry.Amount,
			&entry.BalanceAfter,
			&entry.Description,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FindPayoutRequestByIdempotencyKey loads a payout row by its idempotency key.
func (r *PostgresRepository) FindPayoutRequestByIdempotencyKey(ctx context.Context, key string) (*domain.PayoutRequest, error) {
	query := `
		SELECT id, idempotency_key, merchant_id, beneficiary_name, beneficiary_account,
		       beneficiary_bank, amount, reference_order_id, notes, status,
		       provider_ref, provider_status, created_at, updated_at
		FROM payout_requests
		WHERE idempotency_key = $1
	`
	var p domain.PayoutRequest
	err := r.db.QueryRow(ctx, query, key).Scan(
		&p.ID,
		&p.IdempotencyKey,
		&p.MerchantID,
		&p.BeneficiaryName,
		&p.BeneficiaryAccount,
		&p.BeneficiaryBank,
		&p.Amount,
		&p.ReferenceOrderID,
		&p.Notes,
		&p.Status,
		&p.ProviderRef,
		&p.ProviderStatus,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ReservePayoutRequest inserts the payout row. On a key collision the insert
// is a no-op and acquired=false; the caller re-reads the winner's row.
func (r *PostgresRepository) ReservePayoutRequest(ctx context.Context, payout *domain.PayoutRequest) (bool, error) {
	query := `
		INSERT INTO payout_requests (
			id, idempotency_key, merchant_id, beneficiary_name, beneficiary_account,
			beneficiary_bank, amount, reference_order_id, notes, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query,
		payout.ID,
		payout.IdempotencyKey,
		payout.MerchantID,
		payout.BeneficiaryName,
		payout.BeneficiaryAccount,
		payout.BeneficiaryBank,
		payout.Amount,
		payout.ReferenceOrderID,
		payout.Notes,
		domain.PayoutStatusCreated,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("reserve payout request: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkPayoutAcknowledged records the provider's acknowledgment for a payout
// and appends the payout ledger entry inside the same transaction. A crash or
// failure between the two writes rolls both back, so the payout row stays
// retryable and the audit trail cannot diverge from the acknowledged state.
// The merchant row is locked so the snapshot is consistent with the insert.
func (r *PostgresRepository) MarkPayoutAcknowledged(ctx context.Context, payoutID uuid.UUID, providerRef, providerStatus string, merchantID uuid.UUID, amount int64, description string) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin payout ack tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ackQuery := `
		UPDATE payout_requests
		SET status = $2, provider_ref = $3, provider_status = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, ackQuery, payoutID, domain.PayoutStatusAcknowledged, providerRef, providerStatus)
	if err != nil {
		return nil, fmt.Errorf("mark payout acknowledged: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrPayoutNotFound
	}

	var balance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM merchants WHERE id = $1 FOR UPDATE", merchantID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		MerchantID:   merchantID,
		Type:         domain.LedgerTypePayout,
		Amount:       amount,
		BalanceAfter: balance,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
	ledgerQuery := `
		INSERT INTO ledger_entries (id, merchant_id, type, amount, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, ledgerQuery,
		entry.ID,
		entry.MerchantID,
		entry.Type,
		entry.Amount,
		entry.BalanceAfter,
		entry.Description,
		entry.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("append payout ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit payout ack tx: %w", err)
	}
	return entry, nil
}

// MarkPayoutFailed records an explicit provider failure for a payout.
func (r *PostgresRepository) MarkPayoutFailed(ctx context.Context, payoutID uuid.UUID, providerStatus string) error {
	query := `
		UPDATE payout_requests
		SET status = $2, provider_status = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, payoutID, domain.PayoutStatusFailed, providerStatus)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPayoutNotFound
	}
	return nil
}

// CountOtpRecordsSince counts issuance attempts for a phone inside the
// trailing window and reports the oldest in-window attempt.
func (r *PostgresRepository) CountOtpRecordsSince(ctx context.Context, phone string, since time.Time) (int, *time.Time, error) {
	var (
		count  int
		oldest *time.Time
	)
	query := `
		SELECT COUNT(*), MIN(created_at)
		FROM otp_records
		WHERE phone = $1 AND created_at > $2
	`
	if err := r.db.QueryRow(ctx, query, phone, since).Scan(&count, &oldest); err != nil {
		return 0, nil, err
	}
	return count, oldest, nil
}

// CreateOtpRecord appends one issuance record.
func (r *PostgresRepository) CreateOtpRecord(ctx context.Context, record *domain.OtpRecord) error {
	query := `
		INSERT INTO otp_records (id, phone, code, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, record.ID, record.Phone, record.Code, record.CreatedAt)
	return err
}
