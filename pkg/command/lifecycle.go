package command

import (
	"errors"
	"fmt"

	"commandcore/pkg/domain"
)

// Run executes a fresh invocation of d. It never panics: failures inside
// hooks or execute are captured in the returned Outcome.
func (d *Definition[I, R]) Run(inputs I, opts ...RunOption) Outcome[R] {
	inv := d.newInvocation(inputs, opts)
	inv.run()
	return inv.outcome()
}

type phaseStep struct {
	phase   Phase
	active  State
	done    State
	body    func() error
	proceed func() bool
}

func (inv *Invocation[I, R]) run() {
	steps := []phaseStep{
		{PhaseValidate, StateValidating, StateValidated, inv.validate, inv.clean},
		{PhaseLoad, StateLoading, StateLoaded, inv.load, inv.noFatal},
		{PhaseExecute, StateExecuting, "", inv.execute, inv.clean},
	}
	for _, s := range steps {
		if !inv.transition(s.active) {
			inv.finish()
			return
		}
		ok := inv.step(func() error { return runHooks(inv, inv.def.before[s.phase]) }) &&
			inv.step(s.body) &&
			inv.step(func() error { return runHooks(inv, inv.def.after[s.phase]) })
		if !ok || !s.proceed() {
			inv.finish()
			return
		}
		if s.done != "" && !inv.transition(s.done) {
			inv.finish()
			return
		}
	}
	inv.finish()
}

func (inv *Invocation[I, R]) clean() bool   { return !inv.errors.HasErrors() }
func (inv *Invocation[I, R]) noFatal() bool { return !inv.errors.HasFatal() }

func runHooks[I, R any](inv *Invocation[I, R], hooks []Hook[I, R]) error {
	for _, h := range hooks {
		if err := h(inv); err != nil {
			return err
		}
		if inv.halted {
			return halt("")
		}
	}
	return nil
}

// step runs fn, converting returned errors and panics into recorded errors.
// It reports whether the lifecycle may continue.
func (inv *Invocation[I, R]) step(fn func() error) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if err, isErr := rec.(error); isErr {
				inv.absorb(err)
			} else {
				inv.absorb(fmt.Errorf("panic: %v", rec))
			}
			ok = false
		}
	}()
	if err := fn(); err != nil {
		inv.absorb(err)
	}
	return !inv.halted
}

// absorb records err and halts the invocation. Halt signals carry no record
// of their own; failures of subcommand outcomes are merged; error records are
// kept as-is; anything else becomes a single internal error.
func (inv *Invocation[I, R]) absorb(err error) {
	var failure *FailureError
	var rec domain.ErrorRecord
	switch {
	case errors.Is(err, ErrHalt):
	case errors.As(err, &failure):
		inv.MergeErrors(failure.Errors)
	case errors.As(err, &rec):
		inv.AddError(rec)
	default:
		inv.AddError(domain.InternalError(err))
	}
	inv.halted = true
}

func (inv *Invocation[I, R]) validate() error {
	for _, rec := range selfValidate(&inv.inputs) {
		inv.AddError(rec)
	}
	for _, v := range inv.def.validators {
		if err := v(inv); err != nil {
			return err
		}
		if inv.halted {
			return halt("")
		}
	}
	return nil
}

func selfValidate[I any](inputs *I) []domain.ErrorRecord {
	var records []domain.ErrorRecord
	if v, ok := any(*inputs).(InputValidator); ok {
		records = v.ValidateInputs()
	} else if v, ok := any(inputs).(InputValidator); ok {
		records = v.ValidateInputs()
	}
	for i := range records {
		if records[i].Category == "" {
			records[i].Category = domain.CategoryData
			records[i].Fatal = true
		}
	}
	return records
}

func (inv *Invocation[I, R]) load() error {
	if len(inv.def.loads) == 0 {
		return nil
	}
	loader := EntityLoader{Repositories: inv.RepositoryFor}
	bound, records, err := loader.Load(inv.inputs, inv.def.loads)
	for target, e := range bound {
		inv.loaded[target] = e
	}
	for _, rec := range records {
		inv.AddError(rec)
	}
	return err
}

func (inv *Invocation[I, R]) execute() error {
	if inv.def.execute == nil {
		return nil
	}
	result, err := inv.def.execute(inv)
	if err != nil {
		return err
	}
	inv.result = result
	return nil
}

// transition moves to the next state and notifies observers. An illegal
// move records an internal error and forces the invocation to fail.
func (inv *Invocation[I, R]) transition(to State) bool {
	from := inv.state
	if !CanTransition(from, to) {
		inv.AddError(domain.InternalError(fmt.Errorf("illegal transition %s -> %s", from, to)))
		inv.halted = true
		return false
	}
	inv.state = to
	inv.history = append(inv.history, to)
	for _, h := range inv.def.onTransition {
		safely(func() { h(inv, from, to) })
	}
	if len(inv.cfg.observers) > 0 {
		t := Transition{Command: inv.def.name, InvocationID: inv.cfg.id, RuntimePath: inv.RuntimePath(), From: from, To: to}
		for _, o := range inv.cfg.observers {
			safely(func() { o(t) })
		}
	}
	return true
}

// finish moves the invocation into its terminal state. An invocation
// succeeds only when it reached the end of execute without any error.
func (inv *Invocation[I, R]) finish() {
	if inv.state.Terminal() {
		return
	}
	if inv.state == StateExecuting && !inv.halted && !inv.errors.HasErrors() {
		inv.transition(StateSucceeded)
		for _, n := range inv.def.onSucceed {
			safely(func() { n(inv) })
		}
		return
	}
	if !inv.errors.HasErrors() {
		inv.AddError(domain.ErrorRecord{
			Category: domain.CategoryRuntime,
			Symbol:   "halted",
			Message:  "command halted without reporting an error",
			Fatal:    true,
		})
	}
	var zero R
	inv.result = zero
	inv.transition(StateFailed)
	for _, n := range inv.def.onFail {
		safely(func() { n(inv) })
	}
}

func (inv *Invocation[I, R]) outcome() Outcome[R] {
	return Outcome[R]{
		command: inv.def.name,
		result:  inv.result,
		state:   inv.state,
		errors:  inv.errors.Clone(),
	}
}

// safely runs a notification, discarding any panic it raises.
func safely(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
