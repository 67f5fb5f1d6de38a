package command

// RunSubcommand runs sub synchronously on behalf of parent and returns its
// result. When sub fails, its errors are copied into parent with parent's
// name prepended to their runtime paths, parent is halted, and the returned
// error should be passed straight back from the calling hook or execute
// function.
func RunSubcommand[PI, PR, SI, SR any](parent *Invocation[PI, PR], sub *Definition[SI, SR], inputs SI) (SR, error) {
	outcome := sub.Run(inputs, parent.childConfig()...)
	if outcome.IsSuccess() {
		return outcome.Result(), nil
	}
	parent.MergeErrors(outcome.errors)
	parent.halted = true
	var zero SR
	return zero, halt(sub.Name())
}

// RunSubcommandBestEffort runs sub without consequences for parent. On
// failure the result is the zero value and nothing is merged; parent may
// inspect the outcome and call MergeErrors itself.
func RunSubcommandBestEffort[PI, PR, SI, SR any](parent *Invocation[PI, PR], sub *Definition[SI, SR], inputs SI) (SR, Outcome[SR]) {
	outcome := sub.Run(inputs, parent.childConfig()...)
	return outcome.Result(), outcome
}
