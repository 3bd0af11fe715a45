package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"skillsense/internal/logging"
)

// Exported functions every ruleset must provide.
const (
	FnEvaluateActivation   = "EvaluateActivation"
	FnEvaluateDeactivation = "EvaluateDeactivation"
)

// LoadError reports a ruleset that cannot be accepted: unreadable
// source, a script that fails to evaluate, or a missing or mistyped
// export. Load errors are fatal for the evaluation that needed the
// ruleset; nothing is partially loaded.
type LoadError struct {
	Ruleset string
	Reason  string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ruleset %q: %s: %v", e.Ruleset, e.Reason, e.Err)
	}
	return fmt.Sprintf("ruleset %q: %s", e.Ruleset, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err carries a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Ruleset is a named policy script. Source is Go syntax in package
// rules; the package clause may be omitted.
type Ruleset struct {
	Name   string
	Source string
}

// FromFile reads a ruleset script from disk. The name is the file stem.
func FromFile(path string) (*Ruleset, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.TrimSuffix(name, ".rules")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Ruleset: name, Reason: "cannot read source", Err: err}
	}
	return &Ruleset{Name: name, Source: string(data)}, nil
}

// FromSource wraps in-memory script text as a named ruleset.
func FromSource(name, source string) *Ruleset {
	return &Ruleset{Name: name, Source: source}
}

// Load evaluates the ruleset in the runtime and verifies both required
// exports exist with the correct signature. On any failure the runtime
// must be discarded.
func (rt *Runtime) Load(rs *Ruleset) error {
	if err := rt.evalModule(rs.Name, rs.Source); err != nil {
		return &LoadError{Ruleset: rs.Name, Reason: "evaluation failed", Err: err}
	}

	for _, fn := range []string{FnEvaluateActivation, FnEvaluateDeactivation} {
		v, err := rt.lookup(fn)
		if err != nil {
			return &LoadError{Ruleset: rs.Name,
				Reason: fmt.Sprintf("missing required function %s", fn), Err: err}
		}
		if v.Kind() != reflect.Func {
			return &LoadError{Ruleset: rs.Name,
				Reason: fmt.Sprintf("%s is %s, want func(hostapi.Context) []string", fn, v.Type())}
		}
		if !signatureMatches(v.Type()) {
			return &LoadError{Ruleset: rs.Name,
				Reason: fmt.Sprintf("%s has signature %s, want func(hostapi.Context) []string", fn, v.Type())}
		}
	}

	logging.Rules("Loaded ruleset %q (%d bytes)", rs.Name, len(rs.Source))
	rt.api.ruleset = rs.Name
	return nil
}

// Validate checks that a ruleset evaluates cleanly and exports both
// required functions without invoking them. It shares Load's path; a
// runtime used only for validation should be discarded afterwards.
func (rt *Runtime) Validate(rs *Ruleset) error {
	return rt.Load(rs)
}

// signatureMatches checks arity and return shape. Interpreted functions
// surface parameter types by name, so the Context parameter is matched
// structurally rather than by type identity.
func signatureMatches(t reflect.Type) bool {
	if t.NumIn() != 1 || t.NumOut() != 1 {
		return false
	}
	out := t.Out(0)
	if out.Kind() != reflect.Slice || out.Elem().Kind() != reflect.String {
		return false
	}
	in := t.In(0)
	return in.Kind() == reflect.Struct || in.Kind() == reflect.Interface
}

// EvaluateActivation runs the loaded ruleset's activation pass for the
// given event context and returns the requested skill identifiers.
func (rt *Runtime) EvaluateActivation(ctx Context) ([]string, error) {
	rt.api.SetContext(ctx)
	defer rt.api.SetContext(Context{})

	timer := logging.StartTimer(logging.CategoryRules, "evaluate_activation")
	defer timer.Stop()

	return rt.call(rt.api.ruleset, FnEvaluateActivation)
}

// EvaluateDeactivation runs the loaded ruleset's deactivation pass. It
// is independent of the activation pass; a failure in one does not
// affect the other.
func (rt *Runtime) EvaluateDeactivation(ctx Context) ([]string, error) {
	rt.api.SetContext(ctx)
	defer rt.api.SetContext(Context{})

	timer := logging.StartTimer(logging.CategoryRules, "evaluate_deactivation")
	defer timer.Stop()

	return rt.call(rt.api.ruleset, FnEvaluateDeactivation)
}
