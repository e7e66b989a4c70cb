package notify

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateEvent marks a re-delivered notification that was ignored.
// It is logged, never returned as a failure.
var ErrDuplicateEvent = errors.New("duplicate event ignored")

// ActionError reports that the server rejected an action whose optimistic
// local change has already been applied. The local change is not rolled
// back; callers show the error and may Refresh to resync.
type ActionError struct {
	Action string
	IDs    []string
	Err    error
}

func (e *ActionError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Action, strings.Join(e.IDs, ","), e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// IsActionError reports whether err (or any error in its chain) is an
// ActionError.
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}
