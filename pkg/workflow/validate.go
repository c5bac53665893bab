package workflow

import (
	"fmt"

	"github.com/tombee/stepflow/pkg/errors"
)

// Validate checks the definition's structure: unique step ids, well
// formed templates, and reference ordering. A step may only reference
// steps that appear earlier in definition order and outside its own
// parallel group, which rules out forward references and cycles without
// a separate dependency declaration. Tool presence is checked separately
// by ValidateTools, since it needs a registry.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "workflow name is required",
			Suggestion: "add a name field to the definition",
		}
	}
	if d.ErrorHandling.MaxRetries < 0 {
		return &errors.ValidationError{
			Field:      "error_handling.max_retries",
			Message:    "max_retries cannot be negative",
			Suggestion: "use 0 to disable retries",
		}
	}

	seen := make(map[string]int, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		field := fmt.Sprintf("steps[%d]", i)

		if step.ID == "" {
			return &errors.ValidationError{
				Field:      field + ".id",
				Message:    "step id is required",
				Suggestion: "give every step a unique id",
			}
		}
		if prev, dup := seen[step.ID]; dup {
			return &errors.ValidationError{
				Field:      field + ".id",
				Message:    fmt.Sprintf("duplicate step id %q (first used by steps[%d])", step.ID, prev),
				Suggestion: "step ids must be unique within a workflow",
			}
		}
		seen[step.ID] = i

		if step.Tool == "" {
			return &errors.ValidationError{
				Field:      field + ".tool",
				Message:    fmt.Sprintf("step %q has no tool", step.ID),
				Suggestion: "every step must name the tool it invokes",
			}
		}
		if step.Foreach != nil {
			if step.Foreach.Items == "" {
				return &errors.ValidationError{
					Field:      field + ".foreach.items",
					Message:    fmt.Sprintf("step %q foreach has no items expression", step.ID),
					Suggestion: "set items to a template resolving to an array",
				}
			}
			if step.Foreach.ItemVar == "" {
				return &errors.ValidationError{
					Field:      field + ".foreach.item_var",
					Message:    fmt.Sprintf("step %q foreach has no item_var", step.ID),
					Suggestion: "name the per-item variable, e.g. item_var: item",
				}
			}
		}
		if step.Retry != nil && step.Retry.MaxRetries < 0 {
			return &errors.ValidationError{
				Field:      field + ".retry.max_retries",
				Message:    "max_retries cannot be negative",
				Suggestion: "use 0 to disable retries for this step",
			}
		}
		if step.Timeout < 0 {
			return &errors.ValidationError{
				Field:      field + ".timeout",
				Message:    "timeout cannot be negative",
				Suggestion: "omit the timeout to use the engine default",
			}
		}
	}

	return d.validateReferences()
}

// ValidateTools checks that every tool named by the definition is
// registered. It runs at run start so one definition can be validated
// against different registries (live and mock).
func (d *Definition) ValidateTools(registry ToolRegistry) error {
	for i := range d.Steps {
		step := &d.Steps[i]
		if !registry.Has(step.Tool) {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].tool", i),
				Message:    fmt.Sprintf("step %q names unregistered tool %q", step.ID, step.Tool),
				Suggestion: "register the tool or fix the tool name",
			}
		}
	}
	return nil
}

// validateReferences checks every template in the definition for
// well-formed markers and legal reference ordering.
func (d *Definition) validateReferences() error {
	groups := partitionSteps(d.Steps)
	groupOf := make(map[string]int, len(d.Steps))
	for g, idxs := range groups {
		for _, i := range idxs {
			groupOf[d.Steps[i].ID] = g
		}
	}

	earlier := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		field := fmt.Sprintf("steps[%d]", i)

		locals := map[string]bool{}
		if step.Foreach != nil {
			locals[step.Foreach.ItemVar] = true
			locals[step.Foreach.ItemVar+"_index"] = true
		}

		check := func(where, tmpl string) error {
			refs, err := templateStepRefs(tmpl, locals)
			if err != nil {
				return &errors.ValidationError{
					Field:      where,
					Message:    err.Error(),
					Suggestion: "templates are ${variables.<name>} or ${steps.<id>.<field>} paths",
				}
			}
			for _, ref := range refs {
				if _, known := groupOf[ref]; !known {
					return &errors.ValidationError{
						Field:      where,
						Message:    fmt.Sprintf("step %q references unknown step %q", step.ID, ref),
						Suggestion: "check the step id in the reference",
					}
				}
				if !earlier[ref] {
					return &errors.ValidationError{
						Field:      where,
						Message:    fmt.Sprintf("step %q references step %q which does not run before it", step.ID, ref),
						Suggestion: "referenced steps must appear earlier in definition order and outside this step's parallel group",
					}
				}
				if step.ParallelGroup != "" && groupOf[ref] == groupOf[step.ID] {
					return &errors.ValidationError{
						Field:      where,
						Message:    fmt.Sprintf("step %q references step %q in the same parallel group %q", step.ID, ref, step.ParallelGroup),
						Suggestion: "concurrent steps cannot depend on each other; move one out of the group",
					}
				}
			}
			return nil
		}

		if err := check(field+".condition", step.Condition); err != nil {
			return err
		}
		if step.Foreach != nil {
			if err := check(field+".foreach.items", step.Foreach.Items); err != nil {
				return err
			}
		}
		for name, tmpl := range step.Params {
			if err := checkParamTemplates(field+".params."+name, tmpl, check); err != nil {
				return err
			}
		}

		earlier[step.ID] = true
	}
	return nil
}

// checkParamTemplates applies check to every string nested in a param value.
func checkParamTemplates(where string, v Value, check func(where, tmpl string) error) error {
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return check(where, s)
	case KindArray:
		elems, _ := v.AsArray()
		for i, e := range elems {
			if err := checkParamTemplates(fmt.Sprintf("%s[%d]", where, i), e, check); err != nil {
				return err
			}
		}
	case KindObject:
		fields, _ := v.AsObject()
		for k, e := range fields {
			if err := checkParamTemplates(where+"."+k, e, check); err != nil {
				return err
			}
		}
	}
	return nil
}

// templateStepRefs parses a template and returns the step ids it
// references. Paths rooted at variables, or at a local foreach binding,
// are syntax-checked but contribute no step refs. Malformed markers and
// unknown roots are errors.
func templateStepRefs(tmpl string, locals map[string]bool) ([]string, error) {
	markers, err := scanMarkers(tmpl)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, m := range markers {
		tokens, err := parsePath(m.path)
		if err != nil {
			return nil, err
		}
		switch root := tokens[0].name; {
		case root == "variables":
			if len(tokens) < 2 {
				return nil, fmt.Errorf("path %q: expected variables.<name>", m.path)
			}
		case root == "steps":
			if len(tokens) < 3 {
				return nil, fmt.Errorf("path %q: expected steps.<id>.<field>", m.path)
			}
			refs = append(refs, tokens[1].name)
		case locals[root]:
			// foreach item binding, resolved per clone
		default:
			return nil, fmt.Errorf("path %q: unknown root %q", m.path, root)
		}
	}
	return refs, nil
}

// partitionSteps splits the step list into maximal runs of consecutive
// steps sharing the same non-empty parallel group. Ungrouped steps form
// singleton partitions. The engine executes each partition to a join
// barrier before the next one starts.
func partitionSteps(steps []Step) [][]int {
	var groups [][]int
	i := 0
	for i < len(steps) {
		if steps[i].ParallelGroup == "" {
			groups = append(groups, []int{i})
			i++
			continue
		}
		j := i + 1
		for j < len(steps) && steps[j].ParallelGroup == steps[i].ParallelGroup {
			j++
		}
		run := make([]int, 0, j-i)
		for k := i; k < j; k++ {
			run = append(run, k)
		}
		groups = append(groups, run)
		i = j
	}
	return groups
}
