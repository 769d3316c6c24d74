package scoring

import (
	"fmt"
	"strings"
)

// Cause identifies why a scoring invocation failed.
type Cause string

const (
	// CauseUnavailable means no runtime could be found or a required artifact
	// is missing.
	CauseUnavailable Cause = "unavailable"
	// CauseExit means the process exited nonzero.
	CauseExit Cause = "exit"
	// CauseOutput means the process exited zero but its stdout was not a
	// valid response document.
	CauseOutput   Cause = "output"
	CauseTimeout  Cause = "timeout"
	CauseCanceled Cause = "canceled"
)

// Error is the failure signal of an invocation.
type Error struct {
	Cause    Cause
	ExitCode int
	Stderr   string
	// Response is the failure document the process printed before exiting
	// nonzero, if it printed one.
	Response *Response
	Err      error
}

func (e *Error) Error() string {
	switch e.Cause {
	case CauseExit:
		if e.Stderr != "" {
			return fmt.Sprintf("scoring process exited with code %d: %s", e.ExitCode, firstLine(e.Stderr))
		}
		return fmt.Sprintf("scoring process exited with code %d", e.ExitCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("scoring %s: %v", e.Cause, e.Err)
		}
		return "scoring " + string(e.Cause)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
