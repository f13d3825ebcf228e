package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveFraudReport records ground truth for a transaction. A later report
// for the same transaction replaces the earlier one.
func (r *SQLRepository) SaveFraudReport(ctx context.Context, report *domain.FraudReport) error {
	if report == nil || report.TransactionID == "" {
		return ErrInvalidInput
	}
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	query := r.rebind(`
		INSERT INTO fraud_reports (id, transaction_id, is_fraud_reported, reporting_entity_id, fraud_details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			is_fraud_reported = excluded.is_fraud_reported,
			reporting_entity_id = excluded.reporting_entity_id,
			fraud_details = excluded.fraud_details,
			created_at = excluded.created_at
	`)

	_, err := r.db.ExecContext(ctx, query,
		report.ID, report.TransactionID, boolToInt(report.IsFraudReported),
		report.ReportingEntity, report.Details, report.CreatedAt,
	)
	return err
}

// GetFraudReportByTransaction returns the report filed for a transaction.
func (r *SQLRepository) GetFraudReportByTransaction(ctx context.Context, transactionID string) (*domain.FraudReport, error) {
	query := r.rebind(`
		SELECT id, transaction_id, is_fraud_reported, reporting_entity_id, fraud_details, created_at
		FROM fraud_reports WHERE transaction_id = ?
	`)

	report, err := scanReport(r.db.QueryRowContext(ctx, query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return report, err
}

// ListFraudReports returns reports, newest first.
func (r *SQLRepository) ListFraudReports(ctx context.Context, offset, limit int) ([]*domain.FraudReport, error) {
	offset, limit = clampLimit(offset, limit)
	query := r.rebind(`
		SELECT id, transaction_id, is_fraud_reported, reporting_entity_id, fraud_details, created_at
		FROM fraud_reports ORDER BY created_at DESC, id LIMIT ? OFFSET ?
	`)

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.FraudReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// ConfusionCounts joins predictions with reported outcomes. Transactions
// without a report are left out. Nil bounds are open.
func (r *SQLRepository) ConfusionCounts(ctx context.Context, start, end *time.Time) (domain.ConfusionMatrix, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN t.is_fraud_predicted = 1 AND f.is_fraud_reported = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN t.is_fraud_predicted = 1 AND f.is_fraud_reported = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN t.is_fraud_predicted = 0 AND f.is_fraud_reported = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN t.is_fraud_predicted = 0 AND f.is_fraud_reported = 1 THEN 1 ELSE 0 END), 0)
		FROM transactions t
		JOIN fraud_reports f ON f.transaction_id = t.transaction_id`

	var (
		where []string
		args  []any
	)
	if start != nil {
		where = append(where, "t.created_at >= ?")
		args = append(args, start.UTC())
	}
	if end != nil {
		where = append(where, "t.created_at <= ?")
		args = append(args, end.UTC())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var m domain.ConfusionMatrix
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(
		&m.TruePositive, &m.FalsePositive, &m.TrueNegative, &m.FalseNegative,
	)
	return m, err
}

func scanReport(row rowScanner) (*domain.FraudReport, error) {
	var (
		report   domain.FraudReport
		reported int
		details  sql.NullString
	)
	err := row.Scan(&report.ID, &report.TransactionID, &reported, &report.ReportingEntity, &details, &report.CreatedAt)
	if err != nil {
		return nil, err
	}
	report.IsFraudReported = reported == 1
	report.Details = details.String
	return &report, nil
}
