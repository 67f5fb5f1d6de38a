package command

import (
	"encoding/json"
	"reflect"

	"commandcore/pkg/domain"
)

// ExecuteFunc is a command's business logic.
type ExecuteFunc[I, R any] func(inv *Invocation[I, R]) (R, error)

// Hook runs as a validator or as a before/after phase callback. Returning
// ErrHalt stops the invocation; any other error is recorded as an internal
// error and also stops it.
type Hook[I, R any] func(inv *Invocation[I, R]) error

// Notify observes a terminal outcome. It cannot change the outcome.
type Notify[I, R any] func(inv *Invocation[I, R])

// TransitionHook observes every state change of an invocation.
type TransitionHook[I, R any] func(inv *Invocation[I, R], from, to State)

// PossibleError documents an error a command may report.
type PossibleError struct {
	Category    domain.Category `json:"category"`
	Symbol      string          `json:"symbol"`
	Path        []string        `json:"path,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Definition describes a command: its name, validators, entity loads,
// execute function, and lifecycle hooks. Builder methods mutate and return
// the receiver; finish building before the first Run.
type Definition[I, R any] struct {
	name         string
	description  string
	execute      ExecuteFunc[I, R]
	validators   []Hook[I, R]
	loads        []LoadSpec
	before       map[Phase][]Hook[I, R]
	after        map[Phase][]Hook[I, R]
	onSucceed    []Notify[I, R]
	onFail       []Notify[I, R]
	onTransition []TransitionHook[I, R]
	possible     []PossibleError
	repo         domain.Repository
	registry     *domain.TypeRegistry
}

// New starts a definition for the command name with its execute function.
func New[I, R any](name string, execute ExecuteFunc[I, R]) *Definition[I, R] {
	return &Definition[I, R]{
		name:    name,
		execute: execute,
		before:  make(map[Phase][]Hook[I, R]),
		after:   make(map[Phase][]Hook[I, R]),
	}
}

// Name returns the command name.
func (d *Definition[I, R]) Name() string { return d.name }

// Describe sets a human readable description.
func (d *Definition[I, R]) Describe(text string) *Definition[I, R] {
	d.description = text
	return d
}

// Validate appends a validator. Validators run in order and should record
// problems with Invocation.AddInputError rather than stopping early, so that
// every violation is reported together.
func (d *Definition[I, R]) Validate(v Hook[I, R]) *Definition[I, R] {
	d.validators = append(d.validators, v)
	return d
}

// Load declares an entity to fetch from an input field before execute.
func (d *Definition[I, R]) Load(spec LoadSpec) *Definition[I, R] {
	if spec.Target == "" {
		spec.Target = spec.InputField
	}
	d.loads = append(d.loads, spec)
	return d
}

// Before registers a hook that runs when phase starts.
func (d *Definition[I, R]) Before(phase Phase, h Hook[I, R]) *Definition[I, R] {
	d.before[phase] = append(d.before[phase], h)
	return d
}

// After registers a hook that runs when phase's body has finished.
func (d *Definition[I, R]) After(phase Phase, h Hook[I, R]) *Definition[I, R] {
	d.after[phase] = append(d.after[phase], h)
	return d
}

// AfterSucceed registers a notification for successful invocations.
func (d *Definition[I, R]) AfterSucceed(n Notify[I, R]) *Definition[I, R] {
	d.onSucceed = append(d.onSucceed, n)
	return d
}

// AfterFail registers a notification for failed invocations.
func (d *Definition[I, R]) AfterFail(n Notify[I, R]) *Definition[I, R] {
	d.onFail = append(d.onFail, n)
	return d
}

// AfterTransition registers an observer for every state change.
func (d *Definition[I, R]) AfterTransition(h TransitionHook[I, R]) *Definition[I, R] {
	d.onTransition = append(d.onTransition, h)
	return d
}

// PossibleError documents an error symbol the command may report.
func (d *Definition[I, R]) PossibleError(category domain.Category, symbol, description string, path ...string) *Definition[I, R] {
	d.possible = append(d.possible, PossibleError{Category: category, Symbol: symbol, Path: path, Description: description})
	return d
}

// UseRepository pins the repository used for loads. A repository passed to
// Run with UsingRepository takes precedence.
func (d *Definition[I, R]) UseRepository(repo domain.Repository) *Definition[I, R] {
	d.repo = repo
	return d
}

// UseRegistry selects the type registry consulted for repository bindings.
func (d *Definition[I, R]) UseRegistry(registry *domain.TypeRegistry) *Definition[I, R] {
	d.registry = registry
	return d
}

// Descriptor summarises the definition for registries and tooling.
type Descriptor struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Inputs         string          `json:"inputs"`
	Result         string          `json:"result"`
	Loads          []LoadSpec      `json:"loads,omitempty"`
	PossibleErrors []PossibleError `json:"possible_errors,omitempty"`
}

// Descriptor reports the command's shape. Required loads contribute a
// not_found entry to the possible errors.
func (d *Definition[I, R]) Descriptor() Descriptor {
	possible := append([]PossibleError(nil), d.possible...)
	for _, l := range d.loads {
		if l.Required {
			possible = append(possible, PossibleError{
				Category:    domain.CategoryNotFound,
				Symbol:      domain.SymbolNotFound,
				Path:        []string{l.InputField},
				Description: string(l.EntityType) + " referenced by " + l.InputField + " must exist",
			})
		}
	}
	return Descriptor{
		Name:           d.name,
		Description:    d.description,
		Inputs:         typeName[I](),
		Result:         typeName[R](),
		Loads:          append([]LoadSpec(nil), d.loads...),
		PossibleErrors: possible,
	}
}

// RunJSON decodes data into the input type and runs the command, reporting
// the outcome in its serialisable form. Malformed input fails with a data
// error without entering the lifecycle.
func (d *Definition[I, R]) RunJSON(data []byte, opts ...RunOption) Report {
	var inputs I
	if len(data) > 0 {
		if err := json.Unmarshal(data, &inputs); err != nil {
			return Failure[R](d.name, domain.DataError(nil, "invalid_json", err.Error())).Report()
		}
	}
	return d.Run(inputs, opts...).Report()
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return t.String()
}
