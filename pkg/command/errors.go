package command

import (
	"errors"
	"fmt"
	"strings"

	"commandcore/pkg/domain"
)

var (
	// ErrHalt signals that an invocation must stop before its next step.
	// Hooks and execute functions return it (usually via Invocation.Halt)
	// after recording the errors that explain why.
	ErrHalt = errors.New("command halted")
	// ErrNameRequired indicates a definition without a name.
	ErrNameRequired = errors.New("command name is required")
	// ErrCommandRegistered indicates a duplicate registration.
	ErrCommandRegistered = errors.New("command already registered")
	// ErrCommandUnknown indicates a lookup for an unregistered command.
	ErrCommandUnknown = errors.New("command is not registered")
	// ErrLoadConfig indicates a load declaration that cannot be satisfied by
	// the input type, such as a missing field.
	ErrLoadConfig = errors.New("invalid load declaration")
)

func halt(reason string) error {
	if reason == "" {
		return ErrHalt
	}
	return fmt.Errorf("%w: %s", ErrHalt, reason)
}

// FailureError carries the errors of a failed outcome. It is the value
// returned by Outcome.Err and raised by Outcome.Unwrap.
type FailureError struct {
	Command string
	Errors  *domain.ErrorCollection
}

func (e *FailureError) Error() string {
	keys := e.Errors.Keys()
	if len(keys) == 0 {
		return fmt.Sprintf("command %s failed", e.Command)
	}
	return fmt.Sprintf("command %s failed: %s", e.Command, strings.Join(keys, ", "))
}

// Unwrap exposes each record so errors.As can extract domain.ErrorRecord values.
func (e *FailureError) Unwrap() []error {
	records := e.Errors.All()
	out := make([]error, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	return out
}

// ErrorOption adjusts a record before it is added to an invocation.
type ErrorOption func(*domain.ErrorRecord)

// WithDetails merges structured context into the record.
func WithDetails(ctx map[string]any) ErrorOption {
	return func(r *domain.ErrorRecord) {
		if len(ctx) == 0 {
			return
		}
		if r.Context == nil {
			r.Context = make(map[string]any, len(ctx))
		}
		for k, v := range ctx {
			r.Context[k] = v
		}
	}
}

// WithPath sets the record's input path.
func WithPath(path ...string) ErrorOption {
	return func(r *domain.ErrorRecord) { r.Path = append([]string(nil), path...) }
}

// AsFatal marks the record fatal, which stops execute from running.
func AsFatal() ErrorOption {
	return func(r *domain.ErrorRecord) { r.Fatal = true }
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
