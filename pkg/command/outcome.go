package command

import (
	"encoding/json"

	"commandcore/pkg/domain"
)

// Outcome is the immutable result of a Run: a typed result on success or the
// collected errors on failure.
type Outcome[R any] struct {
	command string
	result  R
	state   State
	errors  *domain.ErrorCollection
}

// Failure builds a failed outcome for command carrying records. It is used
// where a failure happens outside the lifecycle, such as a commit error.
func Failure[R any](command string, records ...domain.ErrorRecord) Outcome[R] {
	return Outcome[R]{
		command: command,
		state:   StateFailed,
		errors:  domain.NewErrorCollection(records...),
	}
}

// Command returns the name of the command that produced the outcome.
func (o Outcome[R]) Command() string { return o.command }

// State returns the terminal state.
func (o Outcome[R]) State() State { return o.state }

// IsSuccess reports whether the invocation succeeded without errors.
func (o Outcome[R]) IsSuccess() bool {
	return o.state == StateSucceeded && !o.errors.HasErrors()
}

// IsFailure is the negation of IsSuccess.
func (o Outcome[R]) IsFailure() bool { return !o.IsSuccess() }

// Result returns the typed result, the zero value on failure.
func (o Outcome[R]) Result() R {
	if !o.IsSuccess() {
		var zero R
		return zero
	}
	return o.result
}

// Errors returns a copy of the collected errors.
func (o Outcome[R]) Errors() *domain.ErrorCollection { return o.errors.Clone() }

// Err returns nil on success and a *FailureError otherwise.
func (o Outcome[R]) Err() error {
	if o.IsSuccess() {
		return nil
	}
	return &FailureError{Command: o.command, Errors: o.errors.Clone()}
}

// Get returns the result and Err together.
func (o Outcome[R]) Get() (R, error) {
	return o.Result(), o.Err()
}

// Unwrap returns the result, panicking with a *FailureError on failure.
// Inside another command's execute the panic is absorbed and its errors are
// merged into that command.
func (o Outcome[R]) Unwrap() R {
	if err := o.Err(); err != nil {
		panic(err)
	}
	return o.result
}

// WithErrors returns a failed copy of o with records appended.
func (o Outcome[R]) WithErrors(records ...domain.ErrorRecord) Outcome[R] {
	errs := o.errors.Clone()
	errs.Add(records...)
	return Outcome[R]{command: o.command, state: StateFailed, errors: errs}
}

// Report is the serialisable form of an outcome.
type Report struct {
	Command string               `json:"command"`
	State   State                `json:"state"`
	Success bool                 `json:"success"`
	Result  any                  `json:"result,omitempty"`
	Errors  []domain.ErrorRecord `json:"errors,omitempty"`
}

// Report converts the outcome for logging or transport.
func (o Outcome[R]) Report() Report {
	r := Report{
		Command: o.command,
		State:   o.state,
		Success: o.IsSuccess(),
		Errors:  o.errors.All(),
	}
	if r.Success {
		r.Result = o.result
	}
	return r
}

// MarshalJSON encodes the outcome as its Report.
func (o Outcome[R]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Report())
}
