package engine

import (
	"errors"
	"fmt"
	"strings"
)

// A RunError reports a failed external tool invocation with enough context
// for the operator to re-run it by hand: the command, its exit status, and
// the tail of its combined output.
type RunError struct {
	Tool   string
	Args   []string
	Status int
	Output string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s %s: exit status %d: %v\n%s",
		e.Tool, strings.Join(e.Args, " "), e.Status, e.Err, e.Output)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ExitStatus recovers the exit status of the failing external command buried
// anywhere in err's chain, for propagation as the process exit code. The
// second return is false when err carries no external status.
func ExitStatus(err error) (int, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Status, true
	}

	return 0, false
}
