package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const ruleColumns = `id, name, description, rule_type, field, operator, value, score, active,
	priority, advanced_config, created_at, updated_at`

// CreateRule stores a new custom rule. Names are unique.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.CustomRule) error {
	if rule == nil {
		return ErrInvalidInput
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	advanced, err := marshalNullable(rule.AdvancedConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal advanced config: %w", err)
	}

	query := r.rebind(`
		INSERT INTO custom_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, string(rule.Type), rule.Field, string(rule.Operator),
		rule.Value, rule.Score, boolToInt(rule.Active), rule.Priority, advanced,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: rule %q", ErrConflict, rule.Name)
	}
	return err
}

// UpdateRule replaces every mutable field of an existing rule.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.CustomRule) error {
	if rule == nil || rule.ID == "" {
		return ErrInvalidInput
	}
	rule.UpdatedAt = time.Now().UTC()

	advanced, err := marshalNullable(rule.AdvancedConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal advanced config: %w", err)
	}

	query := r.rebind(`
		UPDATE custom_rules SET
			name = ?, description = ?, rule_type = ?, field = ?, operator = ?, value = ?,
			score = ?, active = ?, priority = ?, advanced_config = ?, updated_at = ?
		WHERE id = ?
	`)

	result, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Description, string(rule.Type), rule.Field, string(rule.Operator), rule.Value,
		rule.Score, boolToInt(rule.Active), rule.Priority, advanced, rule.UpdatedAt,
		rule.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: rule %q", ErrConflict, rule.Name)
	}
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, id string) (*domain.CustomRule, error) {
	query := r.rebind(`SELECT ` + ruleColumns + ` FROM custom_rules WHERE id = ?`)

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules returns every rule, highest priority first.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.CustomRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM custom_rules ORDER BY priority DESC, name`)
}

// ListActiveRules returns active rules, highest priority first.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.CustomRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM custom_rules WHERE active = 1 ORDER BY priority DESC, name`)
}

// DeleteRule removes a rule.
func (r *SQLRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM custom_rules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) queryRules(ctx context.Context, query string) ([]*domain.CustomRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CustomRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(row rowScanner) (*domain.CustomRule, error) {
	var (
		rule        domain.CustomRule
		description sql.NullString
		advanced    sql.NullString
		ruleType    string
		operator    string
		active      int
	)

	err := row.Scan(
		&rule.ID, &rule.Name, &description, &ruleType, &rule.Field, &operator, &rule.Value,
		&rule.Score, &active, &rule.Priority, &advanced, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Type = domain.RuleType(ruleType)
	rule.Operator = domain.Operator(operator)
	rule.Active = active == 1
	if advanced.Valid && advanced.String != "" {
		if err := json.Unmarshal([]byte(advanced.String), &rule.AdvancedConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal advanced config: %w", err)
		}
	}
	return &rule, nil
}
