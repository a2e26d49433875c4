package sched

import "fmt"

// ErrorKind enumerates the error kinds exposed at the scheduler's call
// boundary (spec §7). Invariant violations are never represented here —
// those panic with a runqueue dump, they are not recoverable errors.
type ErrorKind string

const (
	NoSuchTask      ErrorKind = "NO_SUCH_TASK"
	InvalidPolicy   ErrorKind = "INVALID_POLICY"
	AdmissionDenied ErrorKind = "ADMISSION_DENIED"
	AffinityEmpty   ErrorKind = "AFFINITY_EMPTY"
	WrongState      ErrorKind = "WRONG_STATE"
	Busy            ErrorKind = "BUSY"
)

// SchedError is the standard error shape returned by every exported
// scheduler operation. It carries a kind, a human message, and optional
// context for diagnostics.
type SchedError struct {
	Kind    ErrorKind
	Message string
	Context map[string]interface{}
}

func (e *SchedError) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("[%s] %s %v", e.Kind, e.Message, e.Context)
}

func newErr(kind ErrorKind, msg string, ctx map[string]interface{}) *SchedError {
	return &SchedError{Kind: kind, Message: msg, Context: ctx}
}

func errNoSuchTask(pid uint64) *SchedError {
	return newErr(NoSuchTask, fmt.Sprintf("task %d not found", pid), map[string]interface{}{"pid": pid})
}

func errInvalidPolicy(reason string) *SchedError {
	return newErr(InvalidPolicy, reason, nil)
}

func errAdmissionDenied(reason string) *SchedError {
	return newErr(AdmissionDenied, reason, nil)
}

func errAffinityEmpty() *SchedError {
	return newErr(AffinityEmpty, "affinity set contains no online CPU", nil)
}

func errWrongState(pid uint64, state TaskState) *SchedError {
	return newErr(WrongState, fmt.Sprintf("task %d is in state %v", pid, state),
		map[string]interface{}{"pid": pid, "state": state})
}

func errBusy(reason string) *SchedError {
	return newErr(Busy, reason, nil)
}

// IsKind reports whether err is a *SchedError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	se, ok := err.(*SchedError)
	return ok && se.Kind == kind
}
