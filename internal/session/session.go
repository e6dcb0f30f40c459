// Package session owns a recording: the keyframe tracks, the frame counter
// and the lock that makes each capture atomic.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vincentbai/posetrace-agent/internal/codec"
	"github.com/vincentbai/posetrace-agent/internal/models"
	"github.com/vincentbai/posetrace-agent/internal/pose"
	"github.com/vincentbai/posetrace-agent/internal/track"
)

// Journal durably records what the session commits. *database.Database
// implements it.
type Journal interface {
	StartSession(sessionID, scene string) error
	RegisterObjects(sessionID string, names []string) error
	InsertFrame(sessionID string, frame models.Frame, poses []models.Pose) error
}

// Option configures a Session.
type Option func(*Session)

// WithJournal writes every registration and frame to j before the session
// commits it in memory.
func WithJournal(j Journal) Option {
	return func(s *Session) {
		s.journal = j
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// Session is safe for concurrent use. Register, Capture, Snapshot and
// Flush are serialized by one mutex.
type Session struct {
	mu      sync.Mutex
	id      string
	scene   string
	store   *track.Store
	next    models.Frame
	journal Journal
}

// New starts a session for the given scene reference. The scene is opaque
// and only carried into the recording.
func New(scene string, opts ...Option) (*Session, error) {
	s := &Session{
		id:    uuid.NewString(),
		scene: scene,
		store: track.NewStore(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.journal != nil {
		if err := s.journal.StartSession(s.id, s.scene); err != nil {
			return nil, fmt.Errorf("failed to journal session: %w", err)
		}
	}
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Register adds a tracked object. Objects are fixed once the first frame
// has been captured.
func (s *Session) Register(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next > 0 {
		return track.ErrRegistrationClosed
	}
	if err := s.store.Register(name); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.RegisterObjects(s.id, []string{name}); err != nil {
			// Rebuild without the name so memory matches the journal.
			s.store = s.unregister(name)
			return fmt.Errorf("failed to journal object %q: %w", name, err)
		}
	}
	return nil
}

// Adopt registers names if the session has no objects and no frames yet,
// and reports whether it did. It lets the first capture define the object
// set when none was configured.
func (s *Session) Adopt(names []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next > 0 || len(s.store.Names()) > 0 {
		return false, nil
	}
	for _, name := range names {
		if err := s.store.Register(name); err != nil {
			s.store = track.NewStore()
			return false, err
		}
	}
	if s.journal != nil {
		if err := s.journal.RegisterObjects(s.id, names); err != nil {
			s.store = track.NewStore()
			return false, fmt.Errorf("failed to journal objects: %w", err)
		}
	}
	return true, nil
}

func (s *Session) unregister(name string) *track.Store {
	store := track.NewStore()
	for _, n := range s.store.Names() {
		if n != name {
			_ = store.Register(n)
		}
	}
	return store
}

// Objects returns the registered object names in registration order.
func (s *Session) Objects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Names()
}

// Capture records the current pose of every registered object under the
// next frame index. Either every track grows by one keyframe and the
// counter advances, or nothing changes.
func (s *Session) Capture(src pose.Source) (models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := s.next
	names := s.store.Names()
	poses := make([]models.Pose, 0, len(names))
	for _, name := range names {
		tr, err := src.Pose(name)
		if err != nil {
			return 0, fmt.Errorf("frame %d: %w", frame, err)
		}
		if err := tr.Validate(); err != nil {
			return 0, fmt.Errorf("frame %d: %w", frame, &pose.InvalidPoseError{Name: name, Err: err})
		}
		poses = append(poses, models.Pose{Name: name, Transform: tr})
	}
	if s.journal != nil {
		if err := s.journal.InsertFrame(s.id, frame, poses); err != nil {
			return 0, fmt.Errorf("failed to journal frame %d: %w", frame, err)
		}
	}
	if err := s.store.AppendFrame(frame, poses); err != nil {
		// Unreachable while the lock is held; the journal is now ahead.
		return 0, fmt.Errorf("frame %d: %w", frame, err)
	}
	s.next++
	return frame, nil
}

// Frames returns the number of captures committed so far.
func (s *Session) Frames() models.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Snapshot returns a copy of the recording. It waits for any capture in
// progress.
func (s *Session) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() models.Snapshot {
	snap := s.store.Snapshot()
	snap.SessionID = s.id
	snap.Scene = s.scene
	snap.NextFrame = s.next
	return snap
}

// Flush writes the recording to path, holding the lock so the file
// reflects exactly the frames committed before it. It returns the snapshot
// written and the file size.
func (s *Session) Flush(path string) (models.Snapshot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	n, err := codec.WriteFile(path, snap)
	if err != nil {
		return models.Snapshot{}, 0, err
	}
	return snap, n, nil
}
