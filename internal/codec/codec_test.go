package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vincentbai/posetrace-agent/internal/models"
	"github.com/vincentbai/posetrace-agent/internal/track"
)

func randomTransform(r *rand.Rand) models.Transform {
	q := mgl64.Quat{W: r.NormFloat64(), V: mgl64.Vec3{r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}}
	return models.Transform{
		Translation: mgl64.Vec3{r.NormFloat64() * 10, r.NormFloat64() * 10, r.NormFloat64() * 10},
		Rotation:    q.Normalize(),
	}
}

// buildSnapshot records frames through a track.Store so the result has
// exactly the shape a live session produces.
func buildSnapshot(t *testing.T, r *rand.Rand, objects, frames int) models.Snapshot {
	t.Helper()
	store := track.NewStore()
	for i := 0; i < objects; i++ {
		require.NoError(t, store.Register(fmt.Sprintf("body_%d/ünïcode %d", i, r.Intn(1000))))
	}
	frame := models.Frame(r.Intn(3))
	for f := 0; f < frames; f++ {
		poses := make([]models.Pose, 0, objects)
		for _, name := range store.Names() {
			poses = append(poses, models.Pose{Name: name, Transform: randomTransform(r)})
		}
		require.NoError(t, store.AppendFrame(frame, poses))
		frame += models.Frame(1 + r.Intn(2))
	}
	snap := store.Snapshot()
	snap.SessionID = fmt.Sprintf("session-%d", r.Int())
	snap.Scene = "scene.gltf"
	snap.NextFrame = frame
	return snap
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for objects := 0; objects <= 4; objects++ {
		for _, frames := range []int{0, 1, 7} {
			t.Run(fmt.Sprintf("%d objects %d frames", objects, frames), func(t *testing.T) {
				snap := buildSnapshot(t, r, objects, frames)

				data, err := Marshal(snap)
				require.NoError(t, err)

				decoded, err := Unmarshal(data)
				require.NoError(t, err)
				assert.Equal(t, snap, decoded)

				again, err := Marshal(decoded)
				require.NoError(t, err)
				assert.Equal(t, data, again, "encoding must be deterministic")
			})
		}
	}
}

func TestRoundTripPreservesFloatBits(t *testing.T) {
	store := track.NewStore()
	require.NoError(t, store.Register("arm"))
	tr := models.Transform{
		Translation: mgl64.Vec3{math.Copysign(0, -1), math.SmallestNonzeroFloat64, math.MaxFloat64},
		Rotation:    mgl64.QuatIdent(),
	}
	require.NoError(t, store.Append("arm", 0, tr))
	snap := store.Snapshot()
	snap.NextFrame = 1

	data, err := Marshal(snap)
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	got := decoded.Tracks[0].Keyframes[0].Transform.Translation
	for i := range got {
		assert.Equal(t, math.Float64bits(tr.Translation[i]), math.Float64bits(got[i]))
	}
}

func TestArmGripperScenario(t *testing.T) {
	store := track.NewStore()
	require.NoError(t, store.Register("arm"))
	require.NoError(t, store.Register("gripper"))
	var arm, gripper []models.Keyframe
	for f := models.Frame(0); f < 3; f++ {
		T := models.Transform{Translation: mgl64.Vec3{float64(f), 0, 0}, Rotation: mgl64.QuatIdent()}
		U := models.Transform{Translation: mgl64.Vec3{0, float64(f), 0}, Rotation: mgl64.QuatIdent()}
		require.NoError(t, store.AppendFrame(f, []models.Pose{{Name: "arm", Transform: T}, {Name: "gripper", Transform: U}}))
		arm = append(arm, models.Keyframe{Frame: f, Transform: T})
		gripper = append(gripper, models.Keyframe{Frame: f, Transform: U})
	}
	snap := store.Snapshot()
	snap.NextFrame = 3

	data, err := Marshal(snap)
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	got, ok := decoded.Track("arm")
	require.True(t, ok)
	assert.Equal(t, arm, got.Keyframes)
	got, ok = decoded.Track("gripper")
	require.True(t, ok)
	assert.Equal(t, gripper, got.Keyframes)
}

func TestRoundTripEmptyObjectName(t *testing.T) {
	store := track.NewStore()
	require.NoError(t, store.Register(""))
	require.NoError(t, store.Register("arm"))
	require.NoError(t, store.AppendFrame(0, []models.Pose{
		{Name: "arm", Transform: models.Identity()},
		{Name: "", Transform: models.Identity()},
	}))
	snap := store.Snapshot()
	snap.NextFrame = 1

	data, err := Marshal(snap)
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	got, ok := decoded.Track("")
	require.True(t, ok)
	assert.Len(t, got.Keyframes, 1)
}

func TestMarshalRejectsInvalidSnapshots(t *testing.T) {
	nan := models.Transform{Translation: mgl64.Vec3{math.NaN(), 0, 0}, Rotation: mgl64.QuatIdent()}
	tests := []struct {
		name string
		snap models.Snapshot
	}{
		{"frame beyond next frame", models.Snapshot{NextFrame: 1, Tracks: []models.Track{{Name: "a", Keyframes: []models.Keyframe{{Frame: 1, Transform: models.Identity()}}}}}},
		{"non-finite", models.Snapshot{NextFrame: 1, Tracks: []models.Track{{Name: "a", Keyframes: []models.Keyframe{{Frame: 0, Transform: nan}}}}}},
		{"duplicate names", models.Snapshot{Tracks: []models.Track{{Name: "a"}, {Name: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Marshal(tt.snap)
			assert.Error(t, err)
		})
	}
}

// frame wraps a hand-built body in a valid header and checksum.
func frame(body []byte) []byte {
	out := append([]byte("PTRK"), 1, 0)
	out = append(out, body...)
	return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
}

func nonMonotonicBody() []byte {
	t := models.Track{Name: "arm", Keyframes: []models.Keyframe{
		{Frame: 1, Transform: models.Identity()},
		{Frame: 1, Transform: models.Identity()},
	}}
	var body []byte
	body = protowire.AppendTag(body, recordingNextFrame, protowire.VarintType)
	body = protowire.AppendVarint(body, 5)
	body = protowire.AppendTag(body, recordingTracks, protowire.BytesType)
	return protowire.AppendBytes(body, appendTrack(nil, t))
}

func TestUnmarshalCorrupt(t *testing.T) {
	snap := buildSnapshot(t, rand.New(rand.NewSource(7)), 2, 3)
	good, err := Marshal(snap)
	require.NoError(t, err)

	flipped := append([]byte(nil), good...)
	flipped[len(flipped)/2] ^= 0xff

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9

	tests := []struct {
		name string
		data []byte
		is   error
	}{
		{"empty", nil, ErrTruncated},
		{"short", []byte("PT"), ErrTruncated},
		{"bad magic", append([]byte("NOPE"), good[4:]...), ErrBadMagic},
		{"bad version", badVersion, ErrBadVersion},
		{"flipped byte", flipped, ErrBadChecksum},
		{"truncated", good[:len(good)-9], nil},
		{"garbage body", frame([]byte{0xff, 0xff, 0xff}), nil},
		{"missing next frame", frame(nil), nil},
		{"non-monotonic frames", frame(nonMonotonicBody()), nil},
		{"wrong wire type", frame(protowire.AppendVarint(protowire.AppendTag(nil, recordingTracks, protowire.VarintType), 1)), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unmarshal(tt.data)
			var corrupt *CorruptFileError
			require.True(t, errors.As(err, &corrupt), "expected CorruptFileError, got %v", err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.Equal(t, models.Snapshot{}, got)
		})
	}
}

func TestUnmarshalEveryTruncation(t *testing.T) {
	good, err := Marshal(buildSnapshot(t, rand.New(rand.NewSource(3)), 2, 2))
	require.NoError(t, err)
	for n := 0; n < len(good); n++ {
		_, err := Unmarshal(good[:n])
		var corrupt *CorruptFileError
		require.True(t, errors.As(err, &corrupt), "length %d: got %v", n, err)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	var body []byte
	body = protowire.AppendTag(body, recordingNextFrame, protowire.VarintType)
	body = protowire.AppendVarint(body, 0)
	body = protowire.AppendTag(body, 99, protowire.BytesType)
	body = protowire.AppendString(body, "future")

	snap, err := Unmarshal(frame(body))
	require.NoError(t, err)
	assert.Empty(t, snap.Tracks)
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run.ptrk")
	snap := buildSnapshot(t, rand.New(rand.NewSource(11)), 3, 4)

	n, err := WriteFile(path, snap)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(n), info.Size())

	decoded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	_, err = ReadFile(filepath.Join(dir, "missing.ptrk"))
	assert.Error(t, err)
}
