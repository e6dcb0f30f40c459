package pose

import (
	"fmt"

	"github.com/vincentbai/posetrace-agent/internal/models"
)

// Script replays scripted poses one step at a time. Pose answers from the
// current step until Advance is called. It is not safe for concurrent use.
type Script struct {
	steps []Table
	fail  map[string]error
	step  int
	calls int
}

func NewScript(steps ...Table) *Script {
	return &Script{steps: steps, fail: make(map[string]error)}
}

// FailAt makes the query for name at step return err.
func (s *Script) FailAt(step int, name string, err error) {
	s.fail[failKey(step, name)] = err
}

func (s *Script) Pose(name string) (models.Transform, error) {
	s.calls++
	if err, ok := s.fail[failKey(s.step, name)]; ok {
		return models.Transform{}, err
	}
	if s.step >= len(s.steps) {
		return models.Transform{}, fmt.Errorf("script exhausted at step %d", s.step)
	}
	return s.steps[s.step].Pose(name)
}

// Advance moves to the next scripted step.
func (s *Script) Advance() {
	s.step++
}

// Calls returns the number of Pose queries answered so far.
func (s *Script) Calls() int {
	return s.calls
}

func failKey(step int, name string) string {
	return fmt.Sprintf("%d/%s", step, name)
}
