package alarm

import "errors"

// Sentinel errors for alarm operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRuleNotFound indicates the requested rule does not exist.
	ErrRuleNotFound = errors.New("alarm: rule not found")

	// ErrInvalidRule indicates a rule failed validation.
	ErrInvalidRule = errors.New("alarm: invalid rule")
)
