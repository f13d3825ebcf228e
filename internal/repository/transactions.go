package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const transactionColumns = `transaction_id, amount, payer_id, payee_id, payment_mode, channel, bank,
	additional_data, is_fraud_predicted, fraud_score, rule_score, ai_score, prediction_time_ms,
	reasons, created_at`

// SaveTransaction stores a scored transaction. Rescoring an existing
// transaction_id replaces the stored verdict.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.ScoredTransaction) error {
	if tx == nil || tx.ID == "" {
		return ErrInvalidInput
	}

	additional, err := marshalNullable(tx.AdditionalData)
	if err != nil {
		return fmt.Errorf("failed to marshal additional data: %w", err)
	}
	reasons, err := json.Marshal(nonNilReasons(tx.Reasons))
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	query := r.rebind(`
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			amount = excluded.amount,
			payer_id = excluded.payer_id,
			payee_id = excluded.payee_id,
			payment_mode = excluded.payment_mode,
			channel = excluded.channel,
			bank = excluded.bank,
			additional_data = excluded.additional_data,
			is_fraud_predicted = excluded.is_fraud_predicted,
			fraud_score = excluded.fraud_score,
			rule_score = excluded.rule_score,
			ai_score = excluded.ai_score,
			prediction_time_ms = excluded.prediction_time_ms,
			reasons = excluded.reasons
	`)

	_, err = r.db.ExecContext(ctx, query,
		tx.ID, tx.Amount, tx.PayerID, tx.PayeeID, tx.PaymentMode, tx.Channel, tx.Bank,
		additional, boolToInt(tx.IsFraudPredicted), tx.FraudScore, tx.RuleScore, tx.AIScore,
		tx.PredictionTimeMs, string(reasons), tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a stored transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.ScoredTransaction, error) {
	query := r.rebind(`SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = ?`)

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions returns stored transactions matching the filter, newest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.ScoredTransaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}

	if f.StartDate != nil {
		add("created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= ?", *f.EndDate)
	}
	if f.PayerID != "" {
		add("payer_id = ?", f.PayerID)
	}
	if f.PayeeID != "" {
		add("payee_id = ?", f.PayeeID)
	}
	if f.PaymentMode != "" {
		add("payment_mode = ?", f.PaymentMode)
	}
	if f.Channel != "" {
		add("channel = ?", f.Channel)
	}
	if f.Bank != "" {
		add("bank = ?", f.Bank)
	}
	if f.IsFraud != nil {
		add("is_fraud_predicted = ?", boolToInt(*f.IsFraud))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	offset, limit := clampLimit(f.Offset, f.Limit)
	query += " ORDER BY created_at DESC, transaction_id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.ScoredTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CountPayerTransactions counts stored transactions for a payer since the given time.
func (r *SQLRepository) CountPayerTransactions(ctx context.Context, payerID string, since time.Time) (int64, error) {
	query := r.rebind(`SELECT COUNT(*) FROM transactions WHERE payer_id = ? AND created_at >= ?`)

	var count int64
	if err := r.db.QueryRowContext(ctx, query, payerID, since.UTC()).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanTransaction(row rowScanner) (*domain.ScoredTransaction, error) {
	var (
		tx         domain.ScoredTransaction
		bank       sql.NullString
		additional sql.NullString
		reasons    sql.NullString
		isFraud    int
	)

	err := row.Scan(
		&tx.ID, &tx.Amount, &tx.PayerID, &tx.PayeeID, &tx.PaymentMode, &tx.Channel, &bank,
		&additional, &isFraud, &tx.FraudScore, &tx.RuleScore, &tx.AIScore, &tx.PredictionTimeMs,
		&reasons, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Bank = bank.String
	tx.IsFraudPredicted = isFraud == 1
	if additional.Valid && additional.String != "" {
		if err := json.Unmarshal([]byte(additional.String), &tx.AdditionalData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal additional data: %w", err)
		}
	}
	if reasons.Valid && reasons.String != "" {
		if err := json.Unmarshal([]byte(reasons.String), &tx.Reasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
		}
	}
	return &tx, nil
}

// marshalNullable encodes a map as JSON text, or NULL when empty.
func marshalNullable(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nonNilReasons(reasons []string) []string {
	if reasons == nil {
		return []string{}
	}
	return reasons
}
