// Package rules evaluates flow predicate conditions against an environment.
package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flexinfer/flowreach/pkg/types"
)

// Evaluator decides whether a rule or screen condition holds for an
// environment. Implementations must be safe for concurrent use.
type Evaluator interface {
	EvaluateBool(condition string, env types.Environment) (bool, error)
}

// ExprEvaluator evaluates conditions with expr-lang. Conditions are
// compiled once and cached for reuse; the variable set exposed to a
// condition is fixed (see Bindings), so cached programs remain valid
// across environments.
type ExprEvaluator struct {
	compiled map[string]*vm.Program
	mu       sync.RWMutex

	// MaxConditionLength limits condition size for security (default: 4096)
	MaxConditionLength int
}

var _ Evaluator = (*ExprEvaluator)(nil)

// NewExprEvaluator creates a new condition evaluator.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		compiled:           make(map[string]*vm.Program),
		MaxConditionLength: 4096,
	}
}

// Bindings flattens an environment into the variables visible to
// conditions: platform, app_version, subscription_tier, account_age_days,
// last_feedback_score, and the daily_activity counter map.
func Bindings(env types.Environment) map[string]interface{} {
	activity := make(map[string]interface{}, len(env.DailyActivity))
	for k, v := range env.DailyActivity {
		activity[k] = v
	}
	return map[string]interface{}{
		"platform":            env.Platform,
		"app_version":         env.AppVersion,
		"subscription_tier":   env.SubscriptionTier,
		"account_age_days":    env.AccountAgeDays,
		"last_feedback_score": env.LastFeedbackScore,
		"daily_activity":      activity,
	}
}

// EvaluateBool evaluates a condition against an environment and coerces
// the result to a boolean. Non-boolean results follow truthiness rules
// (non-zero numbers and non-empty strings are true); any other result
// type is an error. A failing condition fails the analysis rather than
// silently reading as false.
func (e *ExprEvaluator) EvaluateBool(condition string, env types.Environment) (bool, error) {
	result, err := e.evaluate(condition, Bindings(env))
	if err != nil {
		return false, err
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("condition %q returned %T, expected bool", condition, result)
	}
}

func (e *ExprEvaluator) evaluate(condition string, bindings map[string]interface{}) (interface{}, error) {
	if len(condition) > e.MaxConditionLength {
		return nil, fmt.Errorf("condition exceeds maximum length of %d characters", e.MaxConditionLength)
	}

	e.mu.RLock()
	prog, ok := e.compiled[condition]
	e.mu.RUnlock()

	if !ok {
		var err error
		prog, err = expr.Compile(condition, expr.Env(bindings))
		if err != nil {
			return nil, fmt.Errorf("compile condition %q: %w", condition, err)
		}

		e.mu.Lock()
		e.compiled[condition] = prog
		e.mu.Unlock()
	}

	result, err := expr.Run(prog, bindings)
	if err != nil {
		return nil, fmt.Errorf("evaluate condition %q: %w", condition, err)
	}

	return result, nil
}
