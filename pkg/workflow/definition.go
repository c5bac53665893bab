// Package workflow implements a declarative workflow execution engine.
//
// A workflow definition is a named, ordered list of steps. Each step
// invokes one external tool with params that may reference earlier step
// results or workflow variables through ${...} templates. Steps can be
// gated by conditions, expanded over arrays with foreach, and grouped for
// concurrent execution. The engine resolves data dependencies at runtime,
// applies the definition's retry and timeout policy, and produces a
// per-step result trace plus an overall run status.
package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/stepflow/pkg/errors"
)

// Definition represents a workflow definition loaded from a YAML or JSON
// file. It is immutable once loaded; the engine never mutates it during a
// run, so one Definition may drive many concurrent runs.
type Definition struct {
	// Name is the workflow identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables holds initial variable defaults, overridable at run start
	Variables map[string]Value `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Steps are the executable units of the workflow, in definition order
	Steps []Step `yaml:"steps" json:"steps"`

	// ErrorHandling configures the run-wide retry and failure policy
	ErrorHandling ErrorHandling `yaml:"error_handling,omitempty" json:"error_handling,omitempty"`
}

// Step represents a single step in a workflow. Every step is bound to
// exactly one tool invocation, or a foreach-expanded set of invocations.
type Step struct {
	// ID is the unique step identifier within this workflow
	ID string `yaml:"id" json:"id"`

	// Tool names the capability to invoke, resolved through the registry
	Tool string `yaml:"tool" json:"tool"`

	// Params maps parameter names to literal values or template strings
	Params map[string]Value `yaml:"params,omitempty" json:"params,omitempty"`

	// Condition is an optional template that must resolve to a boolean.
	// When it resolves false the step is recorded as skipped and its tool
	// is never invoked. An absent condition always evaluates true.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Foreach expands this step into one instance per array element
	Foreach *Foreach `yaml:"foreach,omitempty" json:"foreach,omitempty"`

	// ParallelGroup tags this step for concurrent execution. Consecutive
	// steps sharing the same group id run concurrently with a join
	// barrier before the next definition-order position.
	ParallelGroup string `yaml:"parallel_group,omitempty" json:"parallel_group,omitempty"`

	// Timeout overrides the engine default timeout for this step
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retry overrides the engine default retry policy for this step
	Retry *Retry `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// Foreach configures array expansion for a step.
type Foreach struct {
	// Items is a template that must resolve to an array
	Items string `yaml:"items" json:"items"`

	// ItemVar names the transient variable bound to the current element.
	// The element index is bound to ItemVar + "_index".
	ItemVar string `yaml:"item_var" json:"item_var"`
}

// Retry configures per-step retry behavior, overriding the engine
// defaults from ErrorHandling.
type Retry struct {
	// MaxRetries is the number of re-attempts after the first failure
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Backoff is the delay before the first re-attempt. Subsequent delays
	// grow by BackoffMultiplier and never decrease.
	Backoff Duration `yaml:"backoff,omitempty" json:"backoff,omitempty"`

	// BackoffMultiplier scales the delay between attempts (default 2.0)
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty" json:"backoff_multiplier,omitempty"`
}

// ErrorHandling configures the run-wide failure policy.
type ErrorHandling struct {
	// RetryOnFailure enables retrying failed tool dispatches
	RetryOnFailure bool `yaml:"retry_on_failure,omitempty" json:"retry_on_failure,omitempty"`

	// MaxRetries is the default number of re-attempts after the first
	// failure when RetryOnFailure is set
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// ContinueOnError keeps the run going past failed steps. When false,
	// the first failed step aborts the run and cancels in-flight siblings.
	ContinueOnError bool `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`

	// DefaultTimeout bounds each tool dispatch unless the step overrides it
	DefaultTimeout Duration `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty"`
}

// DefaultStepTimeout applies when neither the definition nor the step
// sets a timeout.
const DefaultStepTimeout = 30 * time.Second

// DefaultBackoff is the initial retry delay when no backoff is configured.
const DefaultBackoff = time.Second

// DefaultBackoffMultiplier grows the retry delay between attempts.
const DefaultBackoffMultiplier = 2.0

// Duration wraps time.Duration with YAML/JSON unmarshaling that accepts
// Go duration strings ("50ms", "2m") or plain numbers of seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the standard duration formatting.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(time.Duration(t) * time.Second)
		return nil
	case float64:
		*d = Duration(time.Duration(t * float64(time.Second)))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v (%T)", raw, raw)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

// Parse parses a workflow definition from YAML bytes. JSON definitions
// parse through the same path since YAML is a superset of JSON.
// The returned definition has been structurally validated except for
// tool presence, which requires a registry and happens at run start.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ValidationError{
			Message:    fmt.Sprintf("cannot parse workflow definition: %v", err),
			Suggestion: "check the file is valid YAML or JSON",
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and parses a workflow definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    "workflow_file",
			Reason: fmt.Sprintf("cannot read %s", path),
			Cause:  err,
		}
	}
	return Parse(data)
}

// Step returns the step with the given id, or nil.
func (d *Definition) Step(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}
