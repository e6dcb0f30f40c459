// Package importer replays a recording onto a host scene.
package importer

import (
	"fmt"
	"log"
	"sort"

	"github.com/vincentbai/posetrace-agent/internal/models"
)

// Target is a host scene that accepts keyframes for the objects it has.
type Target interface {
	Has(name string) bool
	InsertKeyframe(name string, frame models.Frame, transform models.Transform) error
}

// Report summarizes a replay.
type Report struct {
	Frames  int
	Applied []string
	Skipped []string
}

type options struct {
	progress func()
	logger   *log.Logger
}

type Option func(*options)

// WithProgress calls fn once per replayed frame.
func WithProgress(fn func()) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithLogger sends skip warnings to l instead of the standard logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Replay applies one keyframe per recorded frame to every object the
// target has, in increasing frame order. Objects the target lacks are
// skipped with a warning; recordings may be replayed into scenes that only
// partly match.
func Replay(s models.Snapshot, target Target, opts ...Option) (Report, error) {
	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	report := Report{Applied: []string{}, Skipped: []string{}}
	var tracks []models.Track
	for _, t := range s.Tracks {
		if !target.Has(t.Name) {
			o.logger.Printf("Warning: object %s not found in scene", t.Name)
			report.Skipped = append(report.Skipped, t.Name)
			continue
		}
		report.Applied = append(report.Applied, t.Name)
		tracks = append(tracks, t)
	}

	frames := frameIndex(s.Tracks)
	for _, frame := range frames {
		for _, t := range tracks {
			i := sort.Search(len(t.Keyframes), func(i int) bool { return t.Keyframes[i].Frame >= frame })
			if i == len(t.Keyframes) || t.Keyframes[i].Frame != frame {
				continue
			}
			if err := target.InsertKeyframe(t.Name, frame, t.Keyframes[i].Transform); err != nil {
				return report, fmt.Errorf("failed to insert keyframe %d for %s: %w", frame, t.Name, err)
			}
		}
		if o.progress != nil {
			o.progress()
		}
	}
	report.Frames = len(frames)
	return report, nil
}

// frameIndex returns every frame recorded by any track, ascending.
func frameIndex(tracks []models.Track) []models.Frame {
	seen := make(map[models.Frame]bool)
	var frames []models.Frame
	for _, t := range tracks {
		for _, k := range t.Keyframes {
			if !seen[k.Frame] {
				seen[k.Frame] = true
				frames = append(frames, k.Frame)
			}
		}
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return frames
}
