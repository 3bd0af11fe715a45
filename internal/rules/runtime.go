// Package rules executes operator-authored activation policy inside a
// capability-scoped interpreter.
//
// Rulesets are Go-syntax scripts run under yaegi. The runtime is
// deny-by-default: no stdlib package enters the interpreter unless it is
// on the pure-computation allowlist, and the only ambient authority is
// the injected skillsense/hostapi package. A fresh runtime is created per
// evaluation so no state leaks between untrusted script executions.
package rules

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"

	"skillsense/internal/logging"
)

// DefaultEvalTimeout bounds a single rule evaluation call.
const DefaultEvalTimeout = 5 * time.Second

// EvalError reports a script failure: an exception, a capability
// violation, or an exceeded time bound. It is recoverable; the caller
// skips the corresponding reconciliation step.
type EvalError struct {
	Ruleset string
	Fn      string
	Err     error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("ruleset %q: %s: %v", e.Ruleset, e.Fn, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// IsEvalError reports whether err carries an EvalError.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}

// Runtime is a single-use sandboxed script environment. It must not be
// shared across concurrent evaluations; create one per triggering event.
type Runtime struct {
	interp   *interp.Interpreter
	api      *API
	loaded   interp.Exports
	timeout  time.Duration
	verified bool
}

// NewRuntime builds a fresh interpreter carrying only the allowlisted
// stdlib subset and the host API.
func NewRuntime(api *API, timeout time.Duration) (*Runtime, error) {
	if timeout <= 0 {
		timeout = DefaultEvalTimeout
	}

	i := interp.New(interp.Options{})

	loaded := safeStdlibSymbols()
	loaded[HostAPIImport+"/hostapi"] = api.exports()

	if err := i.Use(loaded); err != nil {
		return nil, fmt.Errorf("failed to load runtime symbols: %w", err)
	}

	rt := &Runtime{interp: i, api: api, loaded: loaded, timeout: timeout}
	if err := rt.VerifySandbox(); err != nil {
		return nil, err
	}
	return rt, nil
}

// VerifySandbox walks the blocked-capability set and confirms each is
// absent from the interpreter. The runtime refuses to evaluate untrusted
// code until this passes.
func (rt *Runtime) VerifySandbox() error {
	for _, blocked := range blockedPackages {
		for key := range rt.loaded {
			if key == blocked || strings.HasPrefix(key, blocked+"/") {
				return fmt.Errorf("sandbox violation: blocked package %q is loaded", blocked)
			}
		}
	}

	// Probe: a blocked import must fail to resolve.
	if _, err := rt.interp.Eval(`import "os"`); err == nil {
		return fmt.Errorf("sandbox violation: blocked package os resolved in interpreter")
	}

	rt.verified = true
	logging.RulesDebug("Sandbox verified: %d blocked packages absent", len(blockedPackages))
	return nil
}

// Sandboxed reports whether the sandbox check has passed.
func (rt *Runtime) Sandboxed() bool {
	return rt.verified
}

// evalModule evaluates ruleset source in the interpreter under the
// configured timeout and makes hostapi resolvable for later calls.
func (rt *Runtime) evalModule(name, source string) error {
	if !rt.verified {
		return fmt.Errorf("runtime used before sandbox verification")
	}
	if err := validateImports(source); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rt.timeout)
	defer cancel()

	if _, err := rt.interp.EvalWithContext(ctx, wrapSource(source)); err != nil {
		return fmt.Errorf("failed to evaluate ruleset %q: %w", name, err)
	}

	// Imported at top level so call expressions can reference hostapi
	// even when the script itself does not import it.
	if _, err := rt.interp.Eval(fmt.Sprintf("import %q", HostAPIImport)); err != nil {
		return fmt.Errorf("failed to bind host API: %w", err)
	}
	return nil
}

// lookup resolves a ruleset export without invoking it.
func (rt *Runtime) lookup(fn string) (reflect.Value, error) {
	return rt.interp.Eval("rules." + fn)
}

// call invokes an exported ruleset function with the current evaluation
// context under the timeout. The call runs through the interpreter so a
// timeout interrupts interpreted code instead of leaking a goroutine.
func (rt *Runtime) call(ruleset, fn string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.timeout)
	defer cancel()

	v, err := rt.interp.EvalWithContext(ctx, fmt.Sprintf("rules.%s(hostapi.CurrentContext())", fn))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &EvalError{Ruleset: ruleset, Fn: fn, Err: fmt.Errorf("evaluation exceeded %s: %w", rt.timeout, ctx.Err())}
		}
		return nil, &EvalError{Ruleset: ruleset, Fn: fn, Err: err}
	}

	out, ok := v.Interface().([]string)
	if !ok {
		return nil, &EvalError{Ruleset: ruleset, Fn: fn,
			Err: fmt.Errorf("returned %s, want []string", v.Type())}
	}
	return out, nil
}

// wrapSource prepends the package clause when a script omits it.
func wrapSource(source string) string {
	if strings.Contains(source, "package rules") {
		return source
	}
	return "package rules\n\n" + source
}
