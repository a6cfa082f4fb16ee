package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/automation/engine"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Condition and
// action structures are stored as JSONB columns.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

// Create inserts a new rule.
func (s *PostgresRuleStore) Create(ctx context.Context, rule *engine.Rule) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)
	`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	kinds, condition, actions, err := marshalRuleColumns(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, enabled, source_id, trigger_kinds, trigger_condition, trigger_expression, actions, on_failure, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rule.ID, rule.Name, rule.Enabled, rule.SourceID, kinds, condition,
		rule.TriggerExpression, actions, string(rule.OnFailure), rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*engine.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, enabled, source_id, trigger_kinds, trigger_condition, trigger_expression, actions, on_failure, created_at, updated_at
		FROM rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns all rules ordered by creation time.
func (s *PostgresRuleStore) List(ctx context.Context) ([]*engine.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, enabled, source_id, trigger_kinds, trigger_condition, trigger_expression, actions, on_failure, created_at, updated_at
		FROM rules
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// FindBySource returns enabled rules for a source in creation order.
func (s *PostgresRuleStore) FindBySource(ctx context.Context, sourceID string) ([]*engine.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, enabled, source_id, trigger_kinds, trigger_condition, trigger_expression, actions, on_failure, created_at, updated_at
		FROM rules
		WHERE source_id = $1 AND enabled = true
		ORDER BY created_at ASC
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find rules for source: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// Update modifies an existing rule.
func (s *PostgresRuleStore) Update(ctx context.Context, rule *engine.Rule) error {
	kinds, condition, actions, err := marshalRuleColumns(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = $1, enabled = $2, source_id = $3, trigger_kinds = $4, trigger_condition = $5,
		    trigger_expression = $6, actions = $7, on_failure = $8, updated_at = $9
		WHERE id = $10
	`, rule.Name, rule.Enabled, rule.SourceID, kinds, condition,
		rule.TriggerExpression, actions, string(rule.OnFailure), rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s not found", rule.ID)
	}
	return nil
}

// Delete removes a rule.
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s not found", id)
	}
	return nil
}

func marshalRuleColumns(rule *engine.Rule) (kinds, condition, actions []byte, err error) {
	kinds, err = json.Marshal(rule.TriggerKinds)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal trigger kinds: %w", err)
	}
	if rule.TriggerCondition != nil {
		condition, err = json.Marshal(rule.TriggerCondition)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal trigger condition: %w", err)
		}
	}
	actions, err = json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return kinds, condition, actions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*engine.Rule, error) {
	var rule engine.Rule
	var kinds, actions []byte
	var condition sql.NullString
	var onFailure string

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Enabled,
		&rule.SourceID,
		&kinds,
		&condition,
		&rule.TriggerExpression,
		&actions,
		&onFailure,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(kinds, &rule.TriggerKinds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger kinds: %w", err)
	}
	if condition.Valid && condition.String != "" {
		rule.TriggerCondition = &engine.Condition{}
		if err := json.Unmarshal([]byte(condition.String), rule.TriggerCondition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger condition: %w", err)
		}
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	rule.OnFailure = engine.FailurePolicy(onFailure)

	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]*engine.Rule, error) {
	var rulesList []*engine.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rulesList, nil
}

// PostgresSchemaStore implements SchemaStore backed by PostgreSQL.
type PostgresSchemaStore struct {
	db *sql.DB
}

// NewPostgresSchemaStore creates a PostgreSQL-backed SchemaStore.
func NewPostgresSchemaStore(db *sql.DB) *PostgresSchemaStore {
	return &PostgresSchemaStore{db: db}
}

// FieldTypesFor returns the field types for a source. An unknown source
// yields an empty mapping.
func (s *PostgresSchemaStore) FieldTypesFor(ctx context.Context, sourceID string) (map[string]engine.FieldType, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT field_types FROM field_schemas WHERE source_id = $1
	`, sourceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]engine.FieldType{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field schema: %w", err)
	}

	var types map[string]engine.FieldType
	if err := json.Unmarshal(raw, &types); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field schema: %w", err)
	}
	return types, nil
}

// Put upserts the field types for a source.
func (s *PostgresSchemaStore) Put(ctx context.Context, sourceID string, fieldTypes map[string]engine.FieldType) error {
	raw, err := json.Marshal(fieldTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal field schema: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO field_schemas (source_id, field_types, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source_id) DO UPDATE SET field_types = $2, updated_at = NOW()
	`, sourceID, raw)
	if err != nil {
		return fmt.Errorf("failed to upsert field schema: %w", err)
	}
	return nil
}

// PostgresLogStore implements LogStore backed by PostgreSQL.
type PostgresLogStore struct {
	db *sql.DB
}

// NewPostgresLogStore creates a PostgreSQL-backed LogStore.
func NewPostgresLogStore(db *sql.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

// InsertBatch writes all entries in a single transaction.
func (s *PostgresLogStore) InsertBatch(ctx context.Context, entries []engine.ExecutionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO execution_logs (rule_id, rule_name, action_name, trigger_kind, record_id, operator_id, fields_snapshot, status, error_message, duration_ms, response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		snapshot, err := json.Marshal(e.FieldsSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal fields snapshot: %w", err)
		}
		var response []byte
		if e.Response != nil {
			response, err = json.Marshal(e.Response)
			if err != nil {
				return fmt.Errorf("failed to marshal response: %w", err)
			}
		}

		_, err = stmt.ExecContext(ctx, e.RuleID, e.RuleName, e.ActionName, string(e.TriggerKind),
			e.RecordID, e.OperatorID, snapshot, e.Status, e.ErrorMessage, e.DurationMs, response, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert log entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log batch: %w", err)
	}
	return nil
}

// Find returns entries matching the filter, newest first.
func (s *PostgresLogStore) Find(ctx context.Context, filter LogFilter) ([]engine.ExecutionLogEntry, error) {
	query := `
		SELECT rule_id, rule_name, action_name, trigger_kind, record_id, operator_id, fields_snapshot, status, error_message, duration_ms, response, created_at
		FROM execution_logs
		WHERE 1=1`
	var args []any

	if filter.RuleID != "" {
		args = append(args, filter.RuleID)
		query += fmt.Sprintf(" AND rule_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}
	defer rows.Close()

	var entries []engine.ExecutionLogEntry
	for rows.Next() {
		var e engine.ExecutionLogEntry
		var kind string
		var snapshot, response []byte
		var operatorID, errorMessage sql.NullString

		err := rows.Scan(&e.RuleID, &e.RuleName, &e.ActionName, &kind, &e.RecordID,
			&operatorID, &snapshot, &e.Status, &errorMessage, &e.DurationMs, &response, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		e.TriggerKind = engine.EventKind(kind)
		e.OperatorID = operatorID.String
		e.ErrorMessage = errorMessage.String
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &e.FieldsSnapshot); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields snapshot: %w", err)
			}
		}
		if len(response) > 0 {
			if err := json.Unmarshal(response, &e.Response); err != nil {
				return nil, fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}
	return entries, nil
}

// Purge deletes entries older than the cutoff and returns the count removed.
func (s *PostgresLogStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM execution_logs WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge execution logs: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}
