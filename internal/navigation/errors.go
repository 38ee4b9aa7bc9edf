package navigation

import "errors"

// Common errors
var (
	ErrNoContent            = errors.New("no tree or tasks configured for this study")
	ErrNotStarted           = errors.New("task has not been started")
	ErrAlreadyStarted       = errors.New("task has already been started")
	ErrStartTooEarly        = errors.New("task cannot be started yet")
	ErrAlreadyFinished      = errors.New("task attempt is already finished")
	ErrSubmissionInProgress = errors.New("task attempt is being submitted")
	ErrUnknownNode          = errors.New("unknown tree node")
	ErrNodeNotVisible       = errors.New("tree node is not visible")
	ErrNotExpandable        = errors.New("leaves cannot be expanded")
	ErrNotSelectable        = errors.New("only leaves can be selected")
	ErrNothingSelected      = errors.New("no leaf selected")
	ErrConfidenceRequired   = errors.New("confidence rating is required")
	ErrInvalidConfidence    = errors.New("confidence rating must be between 1 and 7")
	ErrTaskNotFinished      = errors.New("current task is not finished")
	ErrRetriesDisabled      = errors.New("retries are not allowed in this study")
	ErrSessionFinished      = errors.New("all tasks are finished")
)

// IsConflict reports whether err is a state-machine conflict (wrong action for the current state)
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrNotStarted, ErrAlreadyStarted, ErrStartTooEarly, ErrAlreadyFinished,
		ErrSubmissionInProgress, ErrTaskNotFinished, ErrRetriesDisabled, ErrSessionFinished, ErrNoContent,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInvalidAction reports whether err rejects the action's arguments
func IsInvalidAction(err error) bool {
	for _, target := range []error{
		ErrUnknownNode, ErrNodeNotVisible, ErrNotExpandable, ErrNotSelectable,
		ErrNothingSelected, ErrConfidenceRequired, ErrInvalidConfidence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
