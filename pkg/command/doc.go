// Package command runs discrete units of business logic through a fixed
// lifecycle: validate the typed inputs, load the entities they reference,
// execute, and report either a typed result or every structured error
// collected along the way.
//
// A Definition is assembled once, usually at package init or service start,
// and may then be run from many goroutines at once. Each Run creates a fresh
// Invocation confined to the calling goroutine; nothing runs in the
// background. Failures, including panics inside user code, never escape Run;
// they surface through the returned Outcome.
package command
