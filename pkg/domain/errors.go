package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

// Category classifies an ErrorRecord.
type Category string

// Error categories recognised by the command lifecycle.
const (
	CategoryData     Category = "data"
	CategoryRuntime  Category = "runtime"
	CategoryNotFound Category = "not_found"
	CategoryInternal Category = "internal"
)

// Well-known error symbols raised by the framework itself.
const (
	SymbolNotFound      = "not_found"
	SymbolInternalError = "internal_error"
)

// ErrorRecord is one structured failure reported by a command invocation.
//
// Path locates the offending input (for example ["user", "email"]) and is
// empty for runtime errors. RuntimePath lists the ancestor commands a
// subcommand error passed through on its way up, outermost first.
type ErrorRecord struct {
	Category    Category       `json:"category"`
	Symbol      string         `json:"symbol"`
	Path        []string       `json:"path,omitempty"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	RuntimePath []string       `json:"runtime_path,omitempty"`
	Fatal       bool           `json:"fatal"`
}

// DataError builds a fatal input-validation error for the field at path.
func DataError(path []string, symbol, message string) ErrorRecord {
	return ErrorRecord{
		Category: CategoryData,
		Symbol:   symbol,
		Path:     append([]string(nil), path...),
		Message:  message,
		Fatal:    true,
	}
}

// RuntimeError builds a non-fatal runtime error.
func RuntimeError(symbol, message string) ErrorRecord {
	return ErrorRecord{
		Category: CategoryRuntime,
		Symbol:   symbol,
		Message:  message,
	}
}

// NotFoundError builds the fatal error raised when a required entity is absent.
func NotFoundError(path []string, message string, context map[string]any) ErrorRecord {
	return ErrorRecord{
		Category: CategoryNotFound,
		Symbol:   SymbolNotFound,
		Path:     append([]string(nil), path...),
		Message:  message,
		Context:  context,
		Fatal:    true,
	}
}

// InternalError wraps an unexpected failure as a fatal internal error.
func InternalError(cause error) ErrorRecord {
	msg := "internal error"
	if cause != nil {
		msg = cause.Error()
	}
	return ErrorRecord{
		Category: CategoryInternal,
		Symbol:   SymbolInternalError,
		Message:  msg,
		Fatal:    true,
	}
}

// Key identifies the error by runtime path and symbol, e.g. "transfer.insufficient_funds".
func (e ErrorRecord) Key() string {
	if len(e.RuntimePath) == 0 {
		return e.Symbol
	}
	parts := make([]string, 0, len(e.RuntimePath)+1)
	parts = append(parts, e.RuntimePath...)
	return strings.Join(append(parts, e.Symbol), ".")
}

// PathKey joins Path with dots.
func (e ErrorRecord) PathKey() string {
	return strings.Join(e.Path, ".")
}

func (e ErrorRecord) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	b.WriteString(": ")
	b.WriteString(e.Key())
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(e.PathKey())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Clone returns a copy that shares no slices or maps with e.
func (e ErrorRecord) Clone() ErrorRecord {
	cp := e
	cp.Path = append([]string(nil), e.Path...)
	cp.RuntimePath = append([]string(nil), e.RuntimePath...)
	if e.Context != nil {
		cp.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			cp.Context[k] = v
		}
	}
	return cp
}

// WithRuntimePrefix returns a copy whose runtime path starts with prefix.
func (e ErrorRecord) WithRuntimePrefix(prefix ...string) ErrorRecord {
	cp := e.Clone()
	cp.RuntimePath = append(append([]string(nil), prefix...), e.RuntimePath...)
	return cp
}

// ErrorCollection is the append-only set of errors accumulated by one
// invocation. The zero value is ready to use; a nil collection reads as empty.
type ErrorCollection struct {
	records []ErrorRecord
}

// NewErrorCollection returns a collection seeded with records.
func NewErrorCollection(records ...ErrorRecord) *ErrorCollection {
	c := &ErrorCollection{}
	c.Add(records...)
	return c
}

// Add appends records in order.
func (c *ErrorCollection) Add(records ...ErrorRecord) {
	for _, r := range records {
		c.records = append(c.records, r.Clone())
	}
}

// Merge appends every record of other, prefixing runtime paths with prefix.
func (c *ErrorCollection) Merge(other *ErrorCollection, prefix ...string) {
	if other == nil {
		return
	}
	for _, r := range other.records {
		c.records = append(c.records, r.WithRuntimePrefix(prefix...))
	}
}

// Len returns the number of records.
func (c *ErrorCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// HasErrors reports whether any record was added.
func (c *ErrorCollection) HasErrors() bool { return c.Len() > 0 }

// HasFatal reports whether any record is fatal.
func (c *ErrorCollection) HasFatal() bool {
	if c == nil {
		return false
	}
	for _, r := range c.records {
		if r.Fatal {
			return true
		}
	}
	return false
}

// All returns a copy of every record in insertion order.
func (c *ErrorCollection) All() []ErrorRecord {
	if c == nil {
		return nil
	}
	return c.filter(func(ErrorRecord) bool { return true })
}

// ByCategory returns the records of a category.
func (c *ErrorCollection) ByCategory(cat Category) []ErrorRecord {
	return c.filter(func(r ErrorRecord) bool { return r.Category == cat })
}

// BySymbol returns the records carrying symbol.
func (c *ErrorCollection) BySymbol(symbol string) []ErrorRecord {
	return c.filter(func(r ErrorRecord) bool { return r.Symbol == symbol })
}

// ByPathPrefix returns the records whose path starts with prefix.
func (c *ErrorCollection) ByPathPrefix(prefix ...string) []ErrorRecord {
	return c.filter(func(r ErrorRecord) bool {
		if len(r.Path) < len(prefix) {
			return false
		}
		for i, p := range prefix {
			if r.Path[i] != p {
				return false
			}
		}
		return true
	})
}

// Find returns the first record whose Key equals key.
func (c *ErrorCollection) Find(key string) (ErrorRecord, bool) {
	if c == nil {
		return ErrorRecord{}, false
	}
	for _, r := range c.records {
		if r.Key() == key {
			return r.Clone(), true
		}
	}
	return ErrorRecord{}, false
}

// Keys returns the key of every record in insertion order.
func (c *ErrorCollection) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.records))
	for _, r := range c.records {
		keys = append(keys, r.Key())
	}
	return keys
}

// Categories returns the distinct categories present, in first-seen order.
func (c *ErrorCollection) Categories() []Category {
	if c == nil {
		return nil
	}
	seen := make(map[Category]bool)
	var out []Category
	for _, r := range c.records {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}

// Clone returns an independent copy of the collection.
func (c *ErrorCollection) Clone() *ErrorCollection {
	return NewErrorCollection(c.All()...)
}

// Err joins the records into a single error, or returns nil when empty.
// errors.As can extract individual ErrorRecord values from the result.
func (c *ErrorCollection) Err() error {
	if !c.HasErrors() {
		return nil
	}
	errs := make([]error, 0, len(c.records))
	for _, r := range c.records {
		errs = append(errs, r)
	}
	return errors.Join(errs...)
}

// MarshalJSON encodes the records as a JSON array.
func (c *ErrorCollection) MarshalJSON() ([]byte, error) {
	records := c.All()
	if records == nil {
		records = []ErrorRecord{}
	}
	return json.Marshal(records)
}

// UnmarshalJSON decodes a JSON array of records.
func (c *ErrorCollection) UnmarshalJSON(data []byte) error {
	var records []ErrorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	c.records = records
	return nil
}

func (c *ErrorCollection) filter(keep func(ErrorRecord) bool) []ErrorRecord {
	if c == nil {
		return nil
	}
	var out []ErrorRecord
	for _, r := range c.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}
