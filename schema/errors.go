package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidName indicates a script name that cannot be normalized.
	ErrInvalidName = errors.New("invalid script name")
	// ErrInvalidPattern indicates a malformed match pattern or origin.
	ErrInvalidPattern = errors.New("invalid match pattern")
	// ErrInvalidTab indicates an invalid tab identifier.
	ErrInvalidTab = errors.New("invalid tab")
	// ErrNameConflict indicates an unforced write collided with an
	// existing script of the same name.
	ErrNameConflict = errors.New("script name conflict")
	// ErrBuiltinProtected indicates a mutation targeted a builtin script.
	// Builtins reject save, rename, and delete even when forced.
	ErrBuiltinProtected = errors.New("builtin script is protected")
	// ErrScriptNotFound indicates a requested script does not exist.
	ErrScriptNotFound = errors.New("script not found")
	// ErrConfirmationNotFound indicates no pending confirmation exists
	// for the given source name.
	ErrConfirmationNotFound = errors.New("no pending confirmation")
	// ErrTabNotConnected indicates no connection exists for the tab.
	ErrTabNotConnected = errors.New("tab not connected")
	// ErrOriginNotAllowed indicates a navigation origin outside the
	// injection allow-list.
	ErrOriginNotAllowed = errors.New("origin not allowed")
)

// NotFoundError reports every unresolved name in a batch operation. Batch
// validation is all-or-nothing: one missing name rejects the whole batch.
type NotFoundError struct {
	Names []ScriptName
}

func (e *NotFoundError) Error() string {
	names := make([]string, 0, len(e.Names))
	for _, name := range e.Names {
		names = append(names, string(name))
	}
	return fmt.Sprintf("scripts not found: %s", strings.Join(names, ", "))
}

// Unwrap lets callers match with errors.Is(err, ErrScriptNotFound).
func (e *NotFoundError) Unwrap() error {
	return ErrScriptNotFound
}
