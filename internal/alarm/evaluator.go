package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldmesh/fieldcore/internal/alert"
)

// Logger defines the logging interface used by the Evaluator.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Evaluator checks telemetry readings against a device's alarm rules and
// raises alerts for breaches that win the cooldown claim.
type Evaluator struct {
	rules  Repository
	sink   alert.Sink
	logger Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewEvaluator creates an evaluator backed by the given rule repository
// and alert sink.
func NewEvaluator(rules Repository, sink alert.Sink) *Evaluator {
	return &Evaluator{
		rules:  rules,
		sink:   sink,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the evaluator.
func (e *Evaluator) SetLogger(logger Logger) {
	e.logger = logger
}

// Evaluate runs all enabled rules for a device against one reading.
//
// Rules whose parameter is absent from the reading are skipped. A breach
// only produces an alert when ClaimTrigger wins the cooldown CAS, so a
// rule fires at most once per cooldown period no matter how many readings
// breach it.
//
// A failing sink does not abort evaluation of the remaining rules; the
// first error is returned after all rules have been processed.
func (e *Evaluator) Evaluate(ctx context.Context, deviceID string, values map[string]float64) error {
	rules, err := e.rules.ListEnabled(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("listing rules for %s: %w", deviceID, err)
	}

	var firstErr error
	for i := range rules {
		rule := &rules[i]

		value, ok := values[rule.Parameter]
		if !ok {
			continue
		}
		if !rule.Operator.Apply(value, rule.Threshold) {
			continue
		}

		claimed, err := e.rules.ClaimTrigger(ctx, rule.ID, e.now())
		if err != nil {
			e.logger.Error("cooldown claim failed", "rule_id", rule.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !claimed {
			e.logger.Debug("breach suppressed by cooldown",
				"rule_id", rule.ID, "device_id", deviceID, "parameter", rule.Parameter)
			continue
		}

		a := alert.Alert{
			DeviceID: deviceID,
			Type:     alert.TypeThresholdExceeded,
			Message: fmt.Sprintf("%s: %s %v %s %v",
				rule.Name, rule.Parameter, value, rule.Operator, rule.Threshold),
			Severity: string(rule.Severity),
			Data: map[string]any{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
				"parameter": rule.Parameter,
				"value":     value,
				"operator":  string(rule.Operator),
				"threshold": rule.Threshold,
			},
		}
		if err := e.sink.Record(ctx, a); err != nil {
			e.logger.Error("recording alert failed", "rule_id", rule.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
