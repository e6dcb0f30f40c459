package track

import (
	"errors"
	"fmt"

	"github.com/vincentbai/posetrace-agent/internal/models"
)

// ErrRegistrationClosed is returned by Register once a frame has been
// recorded. Every track must cover every frame.
var ErrRegistrationClosed = errors.New("registration closed: frames already recorded")

// DuplicateObjectError is returned when an object name is registered twice.
type DuplicateObjectError struct {
	Name string
}

func (e *DuplicateObjectError) Error() string {
	return fmt.Sprintf("object %q already registered", e.Name)
}

// UnknownObjectError is returned when appending to an unregistered object.
type UnknownObjectError struct {
	Name string
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("object %q is not registered", e.Name)
}

// NonMonotonicFrameError means a frame was not strictly greater than the
// last one recorded for the object. It indicates a broken caller.
type NonMonotonicFrameError struct {
	Name  string
	Frame models.Frame
	Last  models.Frame
}

func (e *NonMonotonicFrameError) Error() string {
	return fmt.Sprintf("object %q: frame %d does not follow frame %d", e.Name, e.Frame, e.Last)
}
