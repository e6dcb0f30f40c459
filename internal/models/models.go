package models

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Frame is the index of one capture event. Frames start at 0.
type Frame uint64

// Transform is a rigid-body pose in world coordinates.
type Transform struct {
	Translation mgl64.Vec3
	Rotation    mgl64.Quat
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Rotation: mgl64.QuatIdent()}
}

// Validate reports whether every component of t is finite.
func (t Transform) Validate() error {
	values := [7]float64{
		t.Translation[0], t.Translation[1], t.Translation[2],
		t.Rotation.W, t.Rotation.V[0], t.Rotation.V[1], t.Rotation.V[2],
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("component %d is not finite: %v", i, v)
		}
	}
	return nil
}

// Pose pairs an object name with its transform at capture time.
type Pose struct {
	Name      string
	Transform Transform
}

type Keyframe struct {
	Frame     Frame
	Transform Transform
}

// Track is the keyframe history of one tracked object, in frame order.
type Track struct {
	Name      string
	Keyframes []Keyframe
}

// Snapshot is a point-in-time copy of a recording session.
type Snapshot struct {
	SessionID string
	Scene     string
	NextFrame Frame
	Tracks    []Track // registration order
}

// Track returns the track recorded for name.
func (s Snapshot) Track(name string) (Track, bool) {
	for _, t := range s.Tracks {
		if t.Name == name {
			return t, true
		}
	}
	return Track{}, false
}

// Frames returns the number of frames shared by every track.
func (s Snapshot) Frames() int {
	if len(s.Tracks) == 0 {
		return 0
	}
	return len(s.Tracks[0].Keyframes)
}

// TransformJSON is the wire shape of a transform in HTTP payloads.
// Rotation is ordered w, x, y, z.
type TransformJSON struct {
	Translation [3]float64 `json:"translation"`
	Rotation    [4]float64 `json:"rotation"`
}

func (t TransformJSON) Transform() Transform {
	return Transform{
		Translation: mgl64.Vec3{t.Translation[0], t.Translation[1], t.Translation[2]},
		Rotation:    mgl64.Quat{W: t.Rotation[0], V: mgl64.Vec3{t.Rotation[1], t.Rotation[2], t.Rotation[3]}},
	}
}

func NewTransformJSON(t Transform) TransformJSON {
	return TransformJSON{
		Translation: [3]float64{t.Translation[0], t.Translation[1], t.Translation[2]},
		Rotation:    [4]float64{t.Rotation.W, t.Rotation.V[0], t.Rotation.V[1], t.Rotation.V[2]},
	}
}

// CaptureRequest is the body of POST /capture.
type CaptureRequest struct {
	Poses map[string]TransformJSON `json:"poses"`
}

type CaptureResponse struct {
	Frame Frame `json:"frame"`
}

type KeyframeJSON struct {
	Frame Frame `json:"frame"`
	TransformJSON
}

type TrackJSON struct {
	Name      string         `json:"name"`
	Keyframes []KeyframeJSON `json:"keyframes"`
}

// SnapshotJSON is the body of GET /snapshot.
type SnapshotJSON struct {
	SessionID string      `json:"session_id"`
	Scene     string      `json:"scene"`
	NextFrame Frame       `json:"next_frame"`
	Tracks    []TrackJSON `json:"tracks"`
}

func NewSnapshotJSON(s Snapshot) SnapshotJSON {
	out := SnapshotJSON{
		SessionID: s.SessionID,
		Scene:     s.Scene,
		NextFrame: s.NextFrame,
		Tracks:    make([]TrackJSON, 0, len(s.Tracks)),
	}
	for _, t := range s.Tracks {
		tj := TrackJSON{Name: t.Name, Keyframes: make([]KeyframeJSON, 0, len(t.Keyframes))}
		for _, k := range t.Keyframes {
			tj.Keyframes = append(tj.Keyframes, KeyframeJSON{Frame: k.Frame, TransformJSON: NewTransformJSON(k.Transform)})
		}
		out.Tracks = append(out.Tracks, tj)
	}
	return out
}

// ErrorResponse is returned by every failing HTTP endpoint.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
