package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT PRIMARY KEY,
    amount DOUBLE PRECISION NOT NULL,
    payer_id TEXT NOT NULL,
    payee_id TEXT NOT NULL,
    payment_mode TEXT NOT NULL,
    channel TEXT NOT NULL,
    bank TEXT,
    additional_data TEXT,
    is_fraud_predicted INTEGER NOT NULL DEFAULT 0,
    fraud_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    rule_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    ai_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    prediction_time_ms INTEGER NOT NULL DEFAULT 0,
    reasons TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_payer ON transactions(payer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_payee ON transactions(payee_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

const schemaFraudReports = `
CREATE TABLE IF NOT EXISTS fraud_reports (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL UNIQUE,
    is_fraud_reported INTEGER NOT NULL,
    reporting_entity_id TEXT NOT NULL,
    fraud_details TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_reports_created ON fraud_reports(created_at);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    rule_type TEXT NOT NULL,
    field TEXT NOT NULL,
    operator TEXT NOT NULL,
    value TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 0,
    advanced_config TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_active ON custom_rules(active, priority);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaFraudReports,
		schemaCustomRules,
	}
}
