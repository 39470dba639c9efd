package executor

import (
	"errors"
	"fmt"
)

var ErrUnknownLanguage = errors.New("unknown language")

// SetupError is returned when a submission could not be brought to the
// point of running: the workspace could not be prepared or compilation
// failed. Msg is meant for the submitter.
type SetupError struct {
	Stage string
	Msg   string
	Err   error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Msg)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
