package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tombee/stepflow/pkg/errors"
)

// Scope provides read access to run state during template resolution.
// ExecutionContext implements it for the run-wide state; foreach clones
// resolve through an overlay scope carrying their item bindings.
type Scope interface {
	// LookupVariable returns the named workflow variable.
	LookupVariable(name string) (Value, bool)

	// LookupStep returns the published result for a completed or
	// terminally failed step.
	LookupStep(id string) (*StepResult, bool)
}

// LocalScope is implemented by scopes that carry transient bindings
// addressable at the path root, such as a foreach item variable. Only
// these bindings may appear bare; everything else is rooted at
// "variables." or "steps.".
type LocalScope interface {
	Scope

	// LookupLocal returns a transient root binding.
	LookupLocal(name string) (Value, bool)
}

// Resolver resolves ${path} template markers against run state.
//
// A template is either a literal Value, returned unchanged, or a string
// containing one or more ${path} markers. Paths are dot/bracket notation
// rooted at "variables." or "steps.". A string that is exactly one marker
// resolves to the underlying Value with its native type preserved; any
// other string concatenates resolved markers as text. There is no
// arithmetic and there are no function calls, only path lookup, so
// substitution is side-effect-free and statically auditable.
type Resolver struct{}

// NewResolver creates a template resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve resolves all template markers inside v, recursing through
// arrays and objects. Non-string leaves are returned unchanged.
func (r *Resolver) Resolve(v Value, scope Scope) (Value, error) {
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return r.resolveString(s, scope)
	case KindArray:
		elems, _ := v.AsArray()
		out := make([]Value, len(elems))
		for i, e := range elems {
			resolved, err := r.Resolve(e, scope)
			if err != nil {
				return Null(), err
			}
			out[i] = resolved
		}
		return Array(out...), nil
	case KindObject:
		fields, _ := v.AsObject()
		out := make(map[string]Value, len(fields))
		for k, e := range fields {
			resolved, err := r.Resolve(e, scope)
			if err != nil {
				return Null(), err
			}
			out[k] = resolved
		}
		return Object(out), nil
	default:
		return v, nil
	}
}

// ResolveParams resolves every entry of a step's params map.
func (r *Resolver) ResolveParams(params map[string]Value, scope Scope) (map[string]Value, error) {
	resolved := make(map[string]Value, len(params))
	for name, tmpl := range params {
		v, err := r.Resolve(tmpl, scope)
		if err != nil {
			return nil, errors.Wrapf(err, "param %s", name)
		}
		resolved[name] = v
	}
	return resolved, nil
}

// resolveString resolves a single template string. An exact single-marker
// string like "${steps.s1.value}" yields the referenced Value's native
// type; anything else renders markers as text and concatenates.
func (r *Resolver) resolveString(s string, scope Scope) (Value, error) {
	markers, err := scanMarkers(s)
	if err != nil {
		return Null(), err
	}
	if len(markers) == 0 {
		return String(s), nil
	}

	// Exactly one marker spanning the whole string: native passthrough.
	if len(markers) == 1 && markers[0].start == 0 && markers[0].end == len(s) {
		return r.resolvePath(markers[0].path, scope)
	}

	var out strings.Builder
	pos := 0
	for _, m := range markers {
		out.WriteString(s[pos:m.start])
		v, err := r.resolvePath(m.path, scope)
		if err != nil {
			return Null(), err
		}
		out.WriteString(v.String())
		pos = m.end
	}
	out.WriteString(s[pos:])
	return String(out.String()), nil
}

// resolvePath resolves one dot/bracket path against the scope.
func (r *Resolver) resolvePath(path string, scope Scope) (Value, error) {
	tokens, err := parsePath(path)
	if err != nil {
		return Null(), err
	}

	switch tokens[0].name {
	case "variables":
		if len(tokens) < 2 {
			return Null(), &errors.ResolutionError{Path: path, Reason: "expected variables.<name>"}
		}
		root, ok := scope.LookupVariable(tokens[1].name)
		if !ok {
			return Null(), &errors.ResolutionError{
				Path:   path,
				Reason: fmt.Sprintf("variable %q is not defined", tokens[1].name),
			}
		}
		return traverse(root, tokens[1].indexes, tokens[2:], path)

	case "steps":
		if len(tokens) < 2 {
			return Null(), &errors.ResolutionError{Path: path, Reason: "expected steps.<id>.<field>"}
		}
		result, ok := scope.LookupStep(tokens[1].name)
		if !ok {
			return Null(), &errors.ResolutionError{
				Path:   path,
				Reason: fmt.Sprintf("step %q has not produced a result", tokens[1].name),
			}
		}
		if len(tokens[1].indexes) > 0 {
			return Null(), &errors.ResolutionError{
				Path:   path,
				Reason: "step id cannot be indexed; index the value field instead",
			}
		}
		if len(tokens) < 3 {
			return Null(), &errors.ResolutionError{
				Path:   path,
				Reason: "expected a step field: value, status, error or attempts",
			}
		}
		root, err := stepField(result, tokens[2].name, path)
		if err != nil {
			return Null(), err
		}
		return traverse(root, tokens[2].indexes, tokens[3:], path)

	default:
		if ls, ok := scope.(LocalScope); ok {
			if v, ok := ls.LookupLocal(tokens[0].name); ok {
				return traverse(v, tokens[0].indexes, tokens[1:], path)
			}
		}
		return Null(), &errors.ResolutionError{
			Path:   path,
			Reason: fmt.Sprintf("unknown root %q; paths start with variables. or steps.", tokens[0].name),
		}
	}
}

// stepField maps a step result field name to its Value.
func stepField(result *StepResult, field, path string) (Value, error) {
	switch field {
	case "value":
		switch result.Status {
		case StepSkipped:
			// Fail loud instead of substituting null: a skipped step has
			// no data, and silent null propagation hides authoring bugs.
			return Null(), &errors.ResolutionError{
				Path:   path,
				Reason: fmt.Sprintf("step %q was skipped and produced no value", result.StepID),
			}
		case StepFailed:
			return Null(), &errors.ResolutionError{
				Path:   path,
				Reason: fmt.Sprintf("step %q failed and produced no value", result.StepID),
			}
		}
		return result.Value, nil
	case "status":
		return String(string(result.Status)), nil
	case "attempts":
		return Number(float64(result.Attempts)), nil
	case "error":
		if result.Error == nil {
			return Null(), nil
		}
		return Object(map[string]Value{
			"code":    String(string(result.Error.Code)),
			"message": String(result.Error.Message),
		}), nil
	default:
		return Null(), &errors.ResolutionError{
			Path:   path,
			Reason: fmt.Sprintf("unknown step field %q; expected value, status, error or attempts", field),
		}
	}
}

// traverse walks the remaining path tokens from root.
func traverse(root Value, rootIndexes []int, rest []pathToken, path string) (Value, error) {
	current := root
	var err error
	current, err = applyIndexes(current, rootIndexes, path)
	if err != nil {
		return Null(), err
	}
	for _, tok := range rest {
		field, ok := current.Field(tok.name)
		if !ok {
			return Null(), &errors.ResolutionError{
				Path:   path,
				Reason: fmt.Sprintf("no field %q on %s value", tok.name, current.Kind()),
			}
		}
		current, err = applyIndexes(field, tok.indexes, path)
		if err != nil {
			return Null(), err
		}
	}
	return current, nil
}

// applyIndexes applies [n] accesses in order.
func applyIndexes(v Value, indexes []int, path string) (Value, error) {
	for _, idx := range indexes {
		elem, ok := v.Index(idx)
		if !ok {
			return Null(), &errors.ResolutionError{
				Path:   path,
				Reason: fmt.Sprintf("index %d out of range on %s value of length %d", idx, v.Kind(), v.Len()),
			}
		}
		v = elem
	}
	return v, nil
}

// marker records one ${path} occurrence inside a template string.
type marker struct {
	start int // offset of "${"
	end   int // offset just past "}"
	path  string
}

// scanMarkers finds every ${...} occurrence in s.
func scanMarkers(s string) ([]marker, error) {
	var markers []marker
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${")
		if idx == -1 {
			break
		}
		start := i + idx
		close := strings.IndexByte(s[start+2:], '}')
		if close == -1 {
			return nil, &errors.ResolutionError{
				Path:   s[start:],
				Reason: "unclosed ${ marker",
			}
		}
		path := strings.TrimSpace(s[start+2 : start+2+close])
		if path == "" {
			return nil, &errors.ResolutionError{Path: s, Reason: "empty ${} marker"}
		}
		markers = append(markers, marker{start: start, end: start + 2 + close + 1, path: path})
		i = start + 2 + close + 1
	}
	return markers, nil
}

// pathToken is one dot-separated path segment with optional [n] indexes.
type pathToken struct {
	name    string
	indexes []int
}

// parsePath splits a path like "steps.s1.value.items[2].name" into tokens.
func parsePath(path string) ([]pathToken, error) {
	if path == "" {
		return nil, &errors.ResolutionError{Path: path, Reason: "empty path"}
	}
	var tokens []pathToken
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, &errors.ResolutionError{Path: path, Reason: "empty path segment"}
		}
		name := seg
		var indexes []int
		for {
			open := strings.IndexByte(name, '[')
			if open == -1 {
				break
			}
			closeIdx := strings.IndexByte(name[open:], ']')
			if closeIdx == -1 {
				return nil, &errors.ResolutionError{Path: path, Reason: fmt.Sprintf("unclosed [ in segment %q", seg)}
			}
			idxStr := name[open+1 : open+closeIdx]
			idx, err := strconv.Atoi(idxStr)
			if err != nil || idx < 0 {
				return nil, &errors.ResolutionError{Path: path, Reason: fmt.Sprintf("invalid array index %q in segment %q", idxStr, seg)}
			}
			indexes = append(indexes, idx)
			name = name[:open] + name[open+closeIdx+1:]
		}
		if name == "" {
			return nil, &errors.ResolutionError{Path: path, Reason: fmt.Sprintf("segment %q has no field name", seg)}
		}
		tokens = append(tokens, pathToken{name: name, indexes: indexes})
	}
	return tokens, nil
}
