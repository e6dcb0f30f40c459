package importer

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vincentbai/posetrace-agent/internal/models"
)

// BlenderObject is one object pose inside a frame of the Blender export.
// The quaternion is ordered w, x, y, z as Blender stores it.
type BlenderObject struct {
	Name               string     `json:"name"`
	Location           [3]float64 `json:"location"`
	RotationQuaternion [4]float64 `json:"rotation_quaternion"`
}

// BlenderExport is the document read by the keyframe importer addon: a
// frame-major list where element i holds the poses for scene frame i. The
// addon sets the scene's frame range to 0..len-1.
type BlenderExport [][]BlenderObject

// BlenderWriter is a Target that collects keyframes for the addon. A nil
// Objects set accepts every object.
type BlenderWriter struct {
	Objects map[string]bool

	export BlenderExport
	last   models.Frame
}

func NewBlenderWriter(objects []string) *BlenderWriter {
	w := &BlenderWriter{}
	if objects != nil {
		w.Objects = make(map[string]bool, len(objects))
		for _, name := range objects {
			w.Objects[name] = true
		}
	}
	return w
}

func (w *BlenderWriter) Has(name string) bool {
	return w.Objects == nil || w.Objects[name]
}

// InsertKeyframe expects frames in non-decreasing order, as Replay
// delivers them. Frames without keyframes become empty entries.
func (w *BlenderWriter) InsertKeyframe(name string, frame models.Frame, t models.Transform) error {
	if frame < w.last {
		return fmt.Errorf("frame %d arrived after frame %d", frame, w.last)
	}
	for models.Frame(len(w.export)) <= frame {
		w.export = append(w.export, []BlenderObject{})
	}
	w.last = frame
	w.export[frame] = append(w.export[frame], BlenderObject{
		Name:               name,
		Location:           [3]float64{t.Translation[0], t.Translation[1], t.Translation[2]},
		RotationQuaternion: [4]float64{t.Rotation.W, t.Rotation.V[0], t.Rotation.V[1], t.Rotation.V[2]},
	})
	return nil
}

// Export returns the collected document.
func (w *BlenderWriter) Export() BlenderExport {
	if w.export == nil {
		return BlenderExport{}
	}
	return w.export
}

// WriteTo writes the collected document as indented JSON.
func (w *BlenderWriter) WriteTo(out io.Writer) (int64, error) {
	data, err := json.MarshalIndent(w.Export(), "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode export: %w", err)
	}
	n, err := out.Write(append(data, '\n'))
	return int64(n), err
}
