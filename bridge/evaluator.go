package bridge

import (
	"context"
	"errors"
)

// Evaluator executes code for one bridge connection. Implementations hold
// connection-local bindings; nothing defined through one evaluator may be
// visible through another.
type Evaluator interface {
	// Eval evaluates source and returns one rendered value per top-level
	// form.
	Eval(ctx context.Context, code string) ([]string, error)
	Close() error
}

// EvaluatorFactory builds a fresh evaluator per accepted connection.
type EvaluatorFactory func() (Evaluator, error)

// exceptioner marks evaluation errors that represent a thrown exception in
// the evaluated program rather than a protocol or evaluator failure.
type exceptioner interface {
	Exception() bool
}

// IsException reports whether err represents a user-code exception.
func IsException(err error) bool {
	var ex exceptioner
	return errors.As(err, &ex) && ex.Exception()
}
