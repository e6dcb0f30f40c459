// Package pose answers "where is this object right now" for a capture.
package pose

import (
	"fmt"

	"github.com/vincentbai/posetrace-agent/internal/models"
)

// Source returns the current world transform of a tracked object.
// Implementations must answer synchronously.
type Source interface {
	Pose(name string) (models.Transform, error)
}

// Func adapts an ordinary function to a Source.
type Func func(name string) (models.Transform, error)

func (f Func) Pose(name string) (models.Transform, error) {
	return f(name)
}

// ObjectNotFoundError is returned when the simulation has no object with
// the requested name.
type ObjectNotFoundError struct {
	Name string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object %q not found in simulation state", e.Name)
}

// InvalidPoseError is returned when a queried transform is not finite.
type InvalidPoseError struct {
	Name string
	Err  error
}

func (e *InvalidPoseError) Error() string {
	return fmt.Sprintf("invalid pose for %q: %v", e.Name, e.Err)
}

func (e *InvalidPoseError) Unwrap() error {
	return e.Err
}

// Table is a fixed set of poses, e.g. posted by a simulation loop.
type Table map[string]models.Transform

func (t Table) Pose(name string) (models.Transform, error) {
	tr, ok := t[name]
	if !ok {
		return models.Transform{}, &ObjectNotFoundError{Name: name}
	}
	return tr, nil
}

// NewTable converts a capture request body into a Table.
func NewTable(req models.CaptureRequest) Table {
	t := make(Table, len(req.Poses))
	for name, tj := range req.Poses {
		t[name] = tj.Transform()
	}
	return t
}
