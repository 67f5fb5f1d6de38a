package command

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"commandcore/pkg/domain"
)

type echoInputs struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func TestRunSucceedsThroughEveryState(t *testing.T) {
	var seen []State
	def := New("echo", func(inv *Invocation[echoInputs, string]) (string, error) {
		return "hello " + inv.Inputs().Name, nil
	}).AfterTransition(func(_ *Invocation[echoInputs, string], _, to State) {
		seen = append(seen, to)
	})

	out := def.Run(echoInputs{Name: "ada"})
	if got := mustSucceed(t, out); got != "hello ada" {
		t.Fatalf("unexpected result %q", got)
	}
	want := []State{StateValidating, StateValidated, StateLoading, StateLoaded, StateExecuting, StateSucceeded}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("unexpected transitions %v", seen)
	}
	if out.Err() != nil {
		t.Fatalf("expected nil error on success, got %v", out.Err())
	}
}

func TestHooksRunInPhaseOrder(t *testing.T) {
	var order []string
	record := func(label string) Hook[echoInputs, string] {
		return func(*Invocation[echoInputs, string]) error {
			order = append(order, label)
			return nil
		}
	}
	def := New("ordered", func(*Invocation[echoInputs, string]) (string, error) {
		order = append(order, "execute")
		return "", nil
	}).
		Before(PhaseValidate, record("before_validate")).
		Validate(record("validate")).
		After(PhaseValidate, record("after_validate")).
		Before(PhaseLoad, record("before_load")).
		After(PhaseLoad, record("after_load")).
		Before(PhaseExecute, record("before_execute")).
		After(PhaseExecute, record("after_execute")).
		AfterSucceed(func(*Invocation[echoInputs, string]) { order = append(order, "succeeded") })

	mustSucceed(t, def.Run(echoInputs{}))
	want := []string{
		"before_validate", "validate", "after_validate",
		"before_load", "after_load",
		"before_execute", "execute", "after_execute",
		"succeeded",
	}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("unexpected hook order %v", order)
	}
}

func TestValidationAggregatesEveryViolation(t *testing.T) {
	executed := false
	def := New("signup", func(*Invocation[echoInputs, string]) (string, error) {
		executed = true
		return "", nil
	}).
		Validate(func(inv *Invocation[echoInputs, string]) error {
			if inv.Inputs().Name == "" {
				inv.AddInputError("name", "required", "name is required")
			}
			return nil
		}).
		Validate(func(inv *Invocation[echoInputs, string]) error {
			if !strings.Contains(inv.Inputs().Email, "@") {
				inv.AddInputError("email", "invalid_format", "email must contain @")
			}
			return nil
		})

	errs := mustFail(t, def.Run(echoInputs{Email: "nope"}))
	if executed {
		t.Fatalf("execute must not run after validation errors")
	}
	if got := errs.Keys(); !reflect.DeepEqual(got, []string{"required", "invalid_format"}) {
		t.Fatalf("unexpected keys %v", got)
	}
	if got := errs.ByPathPrefix("email"); len(got) != 1 || got[0].Category != domain.CategoryData {
		t.Fatalf("expected one data error on email, got %+v", got)
	}
}

func TestSelfValidatingInputs(t *testing.T) {
	def := New("transfer", func(*Invocation[transferInputs, int]) (int, error) { return 1, nil })
	errs := mustFail(t, def.Run(transferInputs{FromID: 2, ToID: 2}))
	if errs.Len() != 2 {
		t.Fatalf("expected two input errors, got %v", errs.Keys())
	}
	for _, rec := range errs.All() {
		if rec.Category != domain.CategoryData || !rec.Fatal {
			t.Fatalf("expected fatal data error, got %+v", rec)
		}
	}
}

func TestHaltStopsBeforeExecute(t *testing.T) {
	var history []State
	executed := false
	def := New("guarded", func(*Invocation[echoInputs, string]) (string, error) {
		executed = true
		return "x", nil
	}).Before(PhaseLoad, func(inv *Invocation[echoInputs, string]) error {
		return inv.HaltWithRuntimeError("locked", "resource is locked")
	}).AfterFail(func(inv *Invocation[echoInputs, string]) {
		history = inv.History()
	})

	out := def.Run(echoInputs{})
	errs := mustFail(t, out)
	if executed {
		t.Fatalf("execute ran after halt")
	}
	if _, ok := errs.Find("locked"); !ok {
		t.Fatalf("expected locked error, got %v", errs.Keys())
	}
	want := []State{StateInitialized, StateValidating, StateValidated, StateLoading, StateFailed}
	if !reflect.DeepEqual(history, want) {
		t.Fatalf("unexpected history %v", history)
	}
	if out.Result() != "" {
		t.Fatalf("failed outcome must carry the zero result")
	}
}

func TestHaltWithoutErrorStillFails(t *testing.T) {
	def := New("quiet", func(inv *Invocation[echoInputs, string]) (string, error) {
		return "", inv.Halt()
	})
	errs := mustFail(t, def.Run(echoInputs{}))
	if _, ok := errs.Find("halted"); !ok {
		t.Fatalf("expected halted runtime error, got %v", errs.Keys())
	}
}

func TestNonFatalErrorRunsExecuteButFails(t *testing.T) {
	executed := false
	def := New("warned", func(inv *Invocation[echoInputs, string]) (string, error) {
		executed = true
		return "done", nil
	}).After(PhaseLoad, func(inv *Invocation[echoInputs, string]) error {
		inv.AddRuntimeError("stale_cache", "cache is stale")
		return nil
	})
	errs := mustFail(t, def.Run(echoInputs{}))
	if !executed {
		t.Fatalf("non-fatal errors must not block execute")
	}
	if errs.HasFatal() {
		t.Fatalf("expected only non-fatal errors, got %+v", errs.All())
	}
}

func TestExecutePanicBecomesInternalError(t *testing.T) {
	def := New("boom", func(*Invocation[echoInputs, string]) (string, error) {
		panic("kaboom")
	})
	errs := mustFail(t, def.Run(echoInputs{}))
	internal := errs.ByCategory(domain.CategoryInternal)
	if len(internal) != 1 {
		t.Fatalf("expected one internal error, got %+v", errs.All())
	}
	if !internal[0].Fatal || !strings.Contains(internal[0].Message, "kaboom") {
		t.Fatalf("unexpected internal error %+v", internal[0])
	}
}

func TestExecuteErrorBecomesInternalError(t *testing.T) {
	cause := errors.New("disk full")
	def := New("io", func(*Invocation[echoInputs, string]) (string, error) { return "", cause })
	errs := mustFail(t, def.Run(echoInputs{}))
	if got := errs.ByCategory(domain.CategoryInternal); len(got) != 1 {
		t.Fatalf("expected internal error, got %+v", errs.All())
	}
}

func TestExecuteMayReturnErrorRecord(t *testing.T) {
	def := New("strict", func(*Invocation[echoInputs, string]) (string, error) {
		return "", domain.RuntimeError("rejected", "not allowed")
	})
	errs := mustFail(t, def.Run(echoInputs{}))
	if rec, ok := errs.Find("rejected"); !ok || rec.Category != domain.CategoryRuntime {
		t.Fatalf("expected runtime rejected error, got %+v", errs.All())
	}
}

func TestNotificationsCannotChangeOutcome(t *testing.T) {
	def := New("noisy", func(*Invocation[echoInputs, string]) (string, error) { return "ok", nil }).
		AfterSucceed(func(inv *Invocation[echoInputs, string]) {
			inv.AddRuntimeError("late", "too late")
			panic("ignored")
		})
	out := def.Run(echoInputs{})
	if got := mustSucceed(t, out); got != "ok" {
		t.Fatalf("unexpected result %q", got)
	}
}

func TestObserversSeeTransitions(t *testing.T) {
	var seen []Transition
	def := New("watched", func(*Invocation[echoInputs, string]) (string, error) { return "", nil })
	mustSucceed(t, def.Run(echoInputs{},
		WithInvocationID("inv-1"),
		ObserveTransitions(func(tr Transition) { seen = append(seen, tr) }),
	))
	if len(seen) != 6 {
		t.Fatalf("expected 6 transitions, got %d", len(seen))
	}
	first := seen[0]
	if first.Command != "watched" || first.InvocationID != "inv-1" || first.From != StateInitialized || first.To != StateValidating {
		t.Fatalf("unexpected first transition %+v", first)
	}
}

func TestContextIsAvailableToExecute(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "tenant-a")
	def := New("ctx", func(inv *Invocation[echoInputs, string]) (string, error) {
		v, _ := inv.Context().Value(key{}).(string)
		return v, nil
	})
	if got := mustSucceed(t, def.Run(echoInputs{}, WithContext(ctx))); got != "tenant-a" {
		t.Fatalf("unexpected context value %q", got)
	}
}

func TestOutcomeUnwrapPanicsWithFailure(t *testing.T) {
	out := Failure[int]("broken", domain.RuntimeError("nope", "nope"))
	defer func() {
		rec := recover()
		var failure *FailureError
		err, ok := rec.(error)
		if !ok || !errors.As(err, &failure) {
			t.Fatalf("expected *FailureError panic, got %v", rec)
		}
		if failure.Command != "broken" || failure.Errors.Len() != 1 {
			t.Fatalf("unexpected failure %+v", failure)
		}
	}()
	out.Unwrap()
}

func TestOutcomeErrExposesRecords(t *testing.T) {
	out := Failure[int]("broken", domain.RuntimeError("nope", "not today"))
	var rec domain.ErrorRecord
	if !errors.As(out.Err(), &rec) || rec.Symbol != "nope" {
		t.Fatalf("expected record via errors.As, got %v", out.Err())
	}
	if !strings.Contains(out.Err().Error(), "nope") {
		t.Fatalf("error text should name the key: %v", out.Err())
	}
}

func TestRunJSONReportsDecodeFailures(t *testing.T) {
	def := New("echo", func(inv *Invocation[echoInputs, string]) (string, error) {
		return inv.Inputs().Name, nil
	})
	report := def.RunJSON([]byte(`{"name":`))
	if report.Success || len(report.Errors) != 1 || report.Errors[0].Symbol != "invalid_json" {
		t.Fatalf("unexpected report %+v", report)
	}
	report = def.RunJSON([]byte(`{"name":"grace"}`))
	if !report.Success || report.Result != "grace" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestDefinitionIsReusableAcrossRuns(t *testing.T) {
	calls := 0
	def := New("count", func(inv *Invocation[echoInputs, int]) (int, error) {
		calls++
		if inv.Inputs().Name == "bad" {
			inv.AddRuntimeError("bad", "bad input")
		}
		return calls, nil
	})
	mustFail(t, def.Run(echoInputs{Name: "bad"}))
	if got := mustSucceed(t, def.Run(echoInputs{Name: "good"})); got != 2 {
		t.Fatalf("expected second call to succeed independently, got %d", got)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StateLoaded, StateExecuting) {
		t.Fatalf("loaded -> executing must be allowed")
	}
	if CanTransition(StateSucceeded, StateFailed) {
		t.Fatalf("terminal states must not transition")
	}
	if CanTransition(StateInitialized, StateExecuting) {
		t.Fatalf("phases may not be skipped")
	}
}
