package alarm

import (
	"fmt"
	"time"
)

// Operator is a threshold comparison.
type Operator string

// Supported comparison operators.
const (
	OpGreater   Operator = ">"
	OpLess      Operator = "<"
	OpGreaterEq Operator = ">="
	OpLessEq    Operator = "<="
	OpEqual     Operator = "=="
	OpNotEqual  Operator = "!="
)

// Apply evaluates value against threshold.
func (o Operator) Apply(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpGreaterEq:
		return value >= threshold
	case OpLessEq:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	default:
		return false
	}
}

// Valid reports whether the operator is one of the supported comparisons.
func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEq, OpLessEq, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// Severity ranks how urgent an alarm is.
type Severity string

// Alarm severities, least to most urgent.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// DefaultCooldown applies to rules created without an explicit cooldown.
const DefaultCooldown = 5 * time.Minute

// Rule is a threshold alarm attached to one device.
type Rule struct {
	ID        int64    `json:"id"`
	DeviceID  string   `json:"device_id"`
	Name      string   `json:"name"`
	Parameter string   `json:"parameter"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
	Enabled   bool     `json:"enabled"`

	// Cooldown is the minimum interval between alerts from this rule.
	Cooldown time.Duration `json:"cooldown_ms"`

	// LastTriggered is nil for rules that have never fired.
	LastTriggered *time.Time `json:"last_triggered,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks rule fields before persistence.
func (r *Rule) Validate() error {
	if r.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidRule)
	}
	if r.Parameter == "" {
		return fmt.Errorf("%w: parameter is required", ErrInvalidRule)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, r.Operator)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, r.Severity)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown cannot be negative", ErrInvalidRule)
	}
	return nil
}
