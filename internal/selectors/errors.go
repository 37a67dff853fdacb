package selectors

// CollectErrors returns the non-nil errors in argument order, or nil when
// there are none. Callers pass errors in display precedence: trace errors
// before service errors.
func CollectErrors(errs ...error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
