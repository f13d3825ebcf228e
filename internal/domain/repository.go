// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository persists scored transactions, analyst fraud reports and custom
// rules. A transaction carries at most one report; saving another replaces it.
type Repository interface {
	RuleSource

	// SaveTransaction upserts by transaction ID.
	SaveTransaction(ctx context.Context, tx *ScoredTransaction) error
	GetTransaction(ctx context.Context, txID string) (*ScoredTransaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*ScoredTransaction, error)
	// CountPayerTransactions backs velocity when no cache counter is available.
	CountPayerTransactions(ctx context.Context, payerID string, since time.Time) (int64, error)

	SaveFraudReport(ctx context.Context, report *FraudReport) error
	GetFraudReportByTransaction(ctx context.Context, txID string) (*FraudReport, error)
	ListFraudReports(ctx context.Context, offset, limit int) ([]*FraudReport, error)

	CreateRule(ctx context.Context, rule *CustomRule) error
	UpdateRule(ctx context.Context, rule *CustomRule) error
	GetRule(ctx context.Context, ruleID string) (*CustomRule, error)
	ListRules(ctx context.Context) ([]*CustomRule, error)
	DeleteRule(ctx context.Context, ruleID string) error

	// ConfusionCounts joins predictions with reports. Nil bounds are open.
	ConfusionCounts(ctx context.Context, start, end *time.Time) (ConfusionMatrix, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects the storage driver and its connection settings.
type RepositoryConfig struct {
	Driver string // "sqlite" or "postgres"

	// SQLitePath may be ":memory:" for a throwaway database.
	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
