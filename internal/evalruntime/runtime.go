// Package evalruntime evaluates Go source in an embedded interpreter for
// the bridge's remote-eval surface. Every bridge connection owns its own
// Runtime, so definitions made on one connection are invisible to all
// others.
package evalruntime

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Runtime wraps a single yaegi interpreter with the standard library
// preloaded. It is not safe for concurrent Eval calls; the bridge session
// serializes requests per connection.
type Runtime struct {
	interp *interp.Interpreter
}

// Exception marks an evaluation error raised by the evaluated code itself,
// as opposed to a parse or type error in the submitted source.
type Exception struct {
	err error
}

func (e *Exception) Error() string   { return e.err.Error() }
func (e *Exception) Exception() bool { return true }
func (e *Exception) Unwrap() error   { return e.err }

// New constructs a fresh interpreter with stdlib symbols loaded.
func New() (*Runtime, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	return &Runtime{interp: i}, nil
}

// Eval runs the source and returns the rendered result values. Source that
// only introduces declarations yields no values. Runtime panics in the
// evaluated code come back as *Exception; compile errors stay plain.
func (r *Runtime) Eval(ctx context.Context, code string) ([]string, error) {
	value, err := r.interp.EvalWithContext(ctx, code)
	if err != nil {
		var p interp.Panic
		if errors.As(err, &p) {
			return nil, &Exception{err: err}
		}
		return nil, err
	}
	if !value.IsValid() {
		return nil, nil
	}
	return []string{render(value)}, nil
}

// Close releases nothing today; the interpreter is garbage collected with
// the session.
func (r *Runtime) Close() error { return nil }

func render(value reflect.Value) string {
	if !value.CanInterface() {
		return value.String()
	}
	return fmt.Sprintf("%#v", value.Interface())
}
