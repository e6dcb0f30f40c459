// Package track holds the in-memory keyframe tracks of a recording.
package track

import (
	"fmt"

	"github.com/vincentbai/posetrace-agent/internal/models"
)

// Store maps object names to their keyframe tracks. It does no I/O and
// takes no locks; callers serialize access.
type Store struct {
	names  []string
	tracks map[string][]models.Keyframe
}

func NewStore() *Store {
	return &Store{tracks: make(map[string][]models.Keyframe)}
}

// FromSnapshot rebuilds a store from s, checking the same invariants that
// Register and Append enforce.
func FromSnapshot(s models.Snapshot) (*Store, error) {
	store := NewStore()
	for _, t := range s.Tracks {
		if err := store.register(t.Name); err != nil {
			return nil, err
		}
	}
	frames := -1
	for _, t := range s.Tracks {
		if frames >= 0 && len(t.Keyframes) != frames {
			return nil, fmt.Errorf("object %q has %d keyframes, expected %d", t.Name, len(t.Keyframes), frames)
		}
		frames = len(t.Keyframes)
		for _, k := range t.Keyframes {
			if err := store.Append(t.Name, k.Frame, k.Transform); err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}

// Register adds an object with an empty track.
func (s *Store) Register(name string) error {
	if s.Len() > 0 {
		return ErrRegistrationClosed
	}
	return s.register(name)
}

func (s *Store) register(name string) error {
	if _, ok := s.tracks[name]; ok {
		return &DuplicateObjectError{Name: name}
	}
	s.names = append(s.names, name)
	s.tracks[name] = nil
	return nil
}

// Append adds one keyframe to the named track.
func (s *Store) Append(name string, frame models.Frame, transform models.Transform) error {
	if err := s.check(name, frame); err != nil {
		return err
	}
	s.tracks[name] = append(s.tracks[name], models.Keyframe{Frame: frame, Transform: transform})
	return nil
}

// AppendFrame appends one keyframe per registered object at frame. Every
// pose is checked before any track grows, so a failure leaves the store
// untouched.
func (s *Store) AppendFrame(frame models.Frame, poses []models.Pose) error {
	if len(poses) != len(s.names) {
		return fmt.Errorf("frame %d has %d poses for %d objects", frame, len(poses), len(s.names))
	}
	seen := make(map[string]bool, len(poses))
	for _, p := range poses {
		if seen[p.Name] {
			return fmt.Errorf("frame %d: duplicate pose for %q", frame, p.Name)
		}
		seen[p.Name] = true
		if err := s.check(p.Name, frame); err != nil {
			return err
		}
	}
	for _, p := range poses {
		s.tracks[p.Name] = append(s.tracks[p.Name], models.Keyframe{Frame: frame, Transform: p.Transform})
	}
	return nil
}

func (s *Store) check(name string, frame models.Frame) error {
	track, ok := s.tracks[name]
	if !ok {
		return &UnknownObjectError{Name: name}
	}
	if n := len(track); n > 0 && frame <= track[n-1].Frame {
		return &NonMonotonicFrameError{Name: name, Frame: frame, Last: track[n-1].Frame}
	}
	return nil
}

// Names returns the registered object names in registration order.
func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of frames recorded so far.
func (s *Store) Len() int {
	if len(s.names) == 0 {
		return 0
	}
	return len(s.tracks[s.names[0]])
}

// Snapshot returns a deep copy of all tracks in registration order.
func (s *Store) Snapshot() models.Snapshot {
	snap := models.Snapshot{Tracks: make([]models.Track, 0, len(s.names))}
	for _, name := range s.names {
		snap.Tracks = append(snap.Tracks, models.Track{
			Name:      name,
			Keyframes: append([]models.Keyframe{}, s.tracks[name]...),
		})
	}
	return snap
}
