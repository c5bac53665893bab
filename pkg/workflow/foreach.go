package workflow

import (
	"fmt"

	"github.com/tombee/stepflow/pkg/errors"
)

// itemScope overlays a foreach item binding on top of the run scope.
// The binding exists only while the clone's params and condition are
// resolved; it never touches the shared variable store.
type itemScope struct {
	base Scope
	vars map[string]Value
}

// LookupVariable implements Scope, consulting the item bindings first.
func (s *itemScope) LookupVariable(name string) (Value, bool) {
	if v, ok := s.vars[name]; ok {
		return v, true
	}
	return s.base.LookupVariable(name)
}

// LookupStep implements Scope.
func (s *itemScope) LookupStep(id string) (*StepResult, bool) {
	return s.base.LookupStep(id)
}

// LookupLocal implements LocalScope: item bindings are addressable at
// the path root, so "${t}" works inside a foreach over item_var "t".
func (s *itemScope) LookupLocal(name string) (Value, bool) {
	v, ok := s.vars[name]
	if ok {
		return v, true
	}
	if ls, ok := s.base.(LocalScope); ok {
		return ls.LookupLocal(name)
	}
	return Null(), false
}

// ForeachItem is one expanded instance of a foreach step: the cloned
// step, the scope carrying its item binding, and its input index.
type ForeachItem struct {
	Step  Step
	Scope Scope
	Index int
}

// ForeachExpander expands a loop-bearing step into per-item instances
// before execution.
type ForeachExpander struct {
	resolver *Resolver
}

// NewForeachExpander creates a foreach expander using the given resolver.
func NewForeachExpander(resolver *Resolver) *ForeachExpander {
	return &ForeachExpander{resolver: resolver}
}

// Expand resolves the foreach items expression to an array and clones
// the step once per element. Each clone drops the foreach field and
// gets a scope binding item_var to the element and item_var + "_index"
// to its zero-based index. Empty items produce zero clones.
func (f *ForeachExpander) Expand(step *Step, scope Scope) ([]ForeachItem, error) {
	items, err := f.resolver.Resolve(String(step.Foreach.Items), scope)
	if err != nil {
		return nil, err
	}
	elems, ok := items.AsArray()
	if !ok {
		return nil, &errors.ResolutionError{
			Path:   step.Foreach.Items,
			Reason: fmt.Sprintf("foreach items resolved to %s, expected an array", items.Kind()),
		}
	}

	expanded := make([]ForeachItem, len(elems))
	for i, elem := range elems {
		clone := *step
		clone.Foreach = nil
		clone.Params = step.Params // templates resolve per item through the scope

		expanded[i] = ForeachItem{
			Step:  clone,
			Index: i,
			Scope: &itemScope{
				base: scope,
				vars: map[string]Value{
					step.Foreach.ItemVar:            elem,
					step.Foreach.ItemVar + "_index": Number(float64(i)),
				},
			},
		}
	}
	return expanded, nil
}
