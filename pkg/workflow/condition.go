package workflow

import (
	"fmt"

	"github.com/tombee/stepflow/pkg/errors"
)

// ConditionEvaluator decides whether a step's boolean gate allows it to
// run. A condition is resolved like any other template and the result
// must be a boolean, or one of the literal strings "true"/"false" for
// conditions written as plain text. Anything else is a ConditionError:
// there is deliberately no comparison or arithmetic here, so a gate can
// only forward a boolean that something else already computed.
type ConditionEvaluator struct {
	resolver *Resolver
}

// NewConditionEvaluator creates a condition evaluator using the given
// template resolver.
func NewConditionEvaluator(resolver *Resolver) *ConditionEvaluator {
	return &ConditionEvaluator{resolver: resolver}
}

// Evaluate resolves expr and interprets the result as a boolean.
// An empty expression always evaluates true: steps without a condition
// always run.
func (c *ConditionEvaluator) Evaluate(expr string, scope Scope) (bool, error) {
	if expr == "" {
		return true, nil
	}

	resolved, err := c.resolver.Resolve(String(expr), scope)
	if err != nil {
		return false, &errors.ConditionError{
			Expression: expr,
			Reason:     "resolution failed",
			Cause:      err,
		}
	}

	if b, ok := resolved.AsBool(); ok {
		return b, nil
	}
	if s, ok := resolved.AsString(); ok {
		switch s {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}

	return false, &errors.ConditionError{
		Expression: expr,
		Reason:     fmt.Sprintf("resolved to %s %q, expected a boolean", resolved.Kind(), resolved.String()),
	}
}
