package alarm

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository defines the interface for alarm rule persistence.
type Repository interface {
	// ListEnabled retrieves the enabled rules for one device.
	ListEnabled(ctx context.Context, deviceID string) ([]Rule, error)

	// ClaimTrigger atomically records that a rule fired at now, but only
	// if the rule is enabled and its cooldown has elapsed. Returns true
	// when this caller won the claim and should raise the alert.
	ClaimTrigger(ctx context.Context, ruleID int64, now time.Time) (bool, error)

	// Create inserts a new rule and fills in its ID.
	Create(ctx context.Context, rule *Rule) error

	// List retrieves all rules.
	List(ctx context.Context) ([]Rule, error)

	// SetEnabled toggles a rule.
	// Returns ErrRuleNotFound if the rule does not exist.
	SetEnabled(ctx context.Context, ruleID int64, enabled bool) error

	// Delete removes a rule.
	// Returns ErrRuleNotFound if the rule does not exist.
	Delete(ctx context.Context, ruleID int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed rule repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const ruleColumns = `id, device_id, name, parameter, operator, threshold,
	severity, enabled, cooldown_ms, last_triggered, created_at, updated_at`

// ListEnabled retrieves the enabled rules for one device.
func (r *SQLiteRepository) ListEnabled(ctx context.Context, deviceID string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alarm_rules WHERE device_id = ? AND enabled = 1 ORDER BY id`
	return r.queryRules(ctx, query, deviceID)
}

// List retrieves all rules.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alarm_rules ORDER BY id`
	return r.queryRules(ctx, query)
}

// ClaimTrigger atomically records that a rule fired.
//
// The cooldown check and the last_triggered update happen in a single
// UPDATE, so two workers evaluating the same breach can never both claim
// it. The losing worker sees zero rows affected.
func (r *SQLiteRepository) ClaimTrigger(ctx context.Context, ruleID int64, now time.Time) (bool, error) {
	nowMS := now.UnixMilli()

	query := `
		UPDATE alarm_rules
		SET last_triggered = ?, updated_at = ?
		WHERE id = ?
		  AND enabled = 1
		  AND (last_triggered IS NULL OR last_triggered + cooldown_ms <= ?)`

	result, err := r.db.ExecContext(ctx, query,
		nowMS,
		now.UTC().Format(time.RFC3339),
		ruleID,
		nowMS,
	)
	if err != nil {
		return false, fmt.Errorf("claiming trigger for rule %d: %w", ruleID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return affected == 1, nil
}

// Create inserts a new rule and fills in its ID.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Cooldown == 0 {
		rule.Cooldown = DefaultCooldown
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO alarm_rules (device_id, name, parameter, operator, threshold,
			severity, enabled, cooldown_ms, last_triggered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		rule.DeviceID,
		rule.Name,
		rule.Parameter,
		string(rule.Operator),
		rule.Threshold,
		string(rule.Severity),
		boolToInt(rule.Enabled),
		rule.Cooldown.Milliseconds(),
		rule.CreatedAt.Format(time.RFC3339),
		rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating rule: %w", err)
	}

	rule.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading rule id: %w", err)
	}
	return nil
}

// SetEnabled toggles a rule.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, ruleID int64, enabled bool) error {
	query := `UPDATE alarm_rules SET enabled = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(enabled),
		time.Now().UTC().Format(time.RFC3339),
		ruleID,
	)
	if err != nil {
		return fmt.Errorf("toggling rule %d: %w", ruleID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrRuleNotFound, ruleID)
	}
	return nil
}

// Delete removes a rule.
func (r *SQLiteRepository) Delete(ctx context.Context, ruleID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM alarm_rules WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("deleting rule %d: %w", ruleID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrRuleNotFound, ruleID)
	}
	return nil
}

// queryRules runs a rule query and scans the results.
func (r *SQLiteRepository) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rule rows: %w", err)
	}

	return rules, nil
}

// scanRule reads one rule row.
func scanRule(rows *sql.Rows) (*Rule, error) {
	var (
		rule          Rule
		operator      string
		severity      string
		enabled       int
		cooldownMS    int64
		lastTriggered sql.NullInt64
		createdAt     string
		updatedAt     string
	)

	err := rows.Scan(
		&rule.ID,
		&rule.DeviceID,
		&rule.Name,
		&rule.Parameter,
		&operator,
		&rule.Threshold,
		&severity,
		&enabled,
		&cooldownMS,
		&lastTriggered,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Operator = Operator(operator)
	rule.Severity = Severity(severity)
	rule.Enabled = enabled != 0
	rule.Cooldown = time.Duration(cooldownMS) * time.Millisecond
	if lastTriggered.Valid {
		t := time.UnixMilli(lastTriggered.Int64).UTC()
		rule.LastTriggered = &t
	}
	if rule.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rule.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rule, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
