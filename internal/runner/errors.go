package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means the interpreter or script path does not point at
	// a usable file. Raised before the job log is touched.
	ErrConfiguration = errors.New("task configuration invalid")

	// ErrPermission means the job log could not be opened for append.
	ErrPermission = errors.New("job log not writable")
)

// TaskFailure reports a subprocess that terminated with a non-zero status.
// The exit code is carried so callers can propagate it as their own.
type TaskFailure struct {
	Task     string
	ExitCode int
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %s failed with exit code %d", e.Task, e.ExitCode)
}

// AsTaskFailure unwraps err into a *TaskFailure if it is one.
func AsTaskFailure(err error) (*TaskFailure, bool) {
	var tf *TaskFailure
	if errors.As(err, &tf) {
		return tf, true
	}
	return nil, false
}
