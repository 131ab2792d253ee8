// Package errors implements the execution core's error taxonomy
// (spec.md §7). It keeps the shape of the teacher's SentraError —
// a typed error plus an optional call-stack trace — swapped for the
// corvid taxonomy, which describes script-visible runtime failures
// rather than compiler diagnostics.
package errors

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// ErrorType is one of spec.md §7's runtime error classes.
type ErrorType string

const (
	TypeError    ErrorType = "TypeError"
	OverflowError ErrorType = "OverflowError"
	IndexError   ErrorType = "IndexError"
	KeyError     ErrorType = "KeyError"
	NameError    ErrorType = "NameError"
	GenericError ErrorType = "Error"
)

// StackFrame is one frame of a captured call stack (function name plus
// the source line the instruction pointer mapped to via the owning
// FunctionInfo's line table).
type StackFrame struct {
	Function string
	Line     int
}

// CorvidError is a runtime error: a taxonomy class, a message, and
// (once the task unwinds) the frames it passed through.
type CorvidError struct {
	Type      ErrorType
	Message   string
	CallStack []StackFrame

	// TaskID tags which cooperative task produced this error (vm.Task.ID),
	// set once generateStackTrace walks the task that is unwinding.
	TaskID string

	// trace captures the Go-level stack at construction time, for the
	// rarer "host-side failure escalated into an uncaught Error"
	// path (allocation failure after GC, corrupted bytecode) where the
	// script-level call stack alone would be uninformative to whoever
	// is debugging the embedding, per SPEC_FULL.md's domain-stack note.
	trace pkgerrors.StackTrace
}

// Error implements the error interface, rendering the same
// "Type: message\nCall Stack:\n  at f:line" shape as spec.md §7's
// stack_trace field.
func (e *CorvidError) Error() string {
	var sb strings.Builder
	if e.TaskID != "" {
		sb.WriteString(fmt.Sprintf("[task %s] ", e.TaskID))
	}
	sb.WriteString(fmt.Sprintf("%s: %s", e.Type, e.Message))
	if len(e.CallStack) > 0 {
		sb.WriteString("\nCall Stack:\n")
		for _, fr := range e.CallStack {
			if fr.Function != "" {
				sb.WriteString(fmt.Sprintf("  at %s:%d\n", fr.Function, fr.Line))
			} else {
				sb.WriteString(fmt.Sprintf("  at <anonymous>:%d\n", fr.Line))
			}
		}
	}
	return sb.String()
}

// New constructs a CorvidError of the given class.
func New(t ErrorType, format string, args ...interface{}) *CorvidError {
	return &CorvidError{Type: t, Message: fmt.Sprintf(format, args...)}
}

// WithStack attaches a walked call stack (vm.generateStackTrace).
func (e *CorvidError) WithStack(stack []StackFrame) *CorvidError {
	e.CallStack = stack
	return e
}

// Escalate wraps a host-side Go error (not a script-level throw) as a
// generic CorvidError, capturing a Go stack trace via pkg/errors so the
// embedder can diagnose a VM-core bug rather than a script bug —
// SPEC_FULL.md's "DOMAIN STACK" rationale for depending on
// github.com/pkg/errors.
func Escalate(cause error) *CorvidError {
	wrapped := pkgerrors.WithStack(cause)
	e := &CorvidError{Type: GenericError, Message: cause.Error()}
	if st, ok := wrapped.(interface{ StackTrace() pkgerrors.StackTrace }); ok {
		e.trace = st.StackTrace()
	}
	return e
}

// GoStackTrace renders the captured Go-level stack trace, if any
// (empty for ordinary script-level errors).
func (e *CorvidError) GoStackTrace() string {
	if e.trace == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.trace)
}
