package pose

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoLinkScene = `{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0, 3]}],
  "nodes": [
    {"name": "base", "translation": [1, 0, 0], "children": [1]},
    {"name": "arm", "translation": [0, 2, 0], "rotation": [0, 0, 0.7071067811865476, 0.7071067811865476], "children": [2]},
    {"name": "gripper", "translation": [1, 0, 0], "scale": [2, 2, 2]},
    {"name": "base", "matrix": [1,0,0,0, 0,1,0,0, 0,0,1,0, 5,6,7,1]},
    {"name": "orphan"}
  ]
}`

func vecNear(t *testing.T, want, got mgl64.Vec3) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "component %d: want %v, got %v", i, want, got)
	}
}

// sameRotation accepts q or -q, which encode the same rotation.
func sameRotation(t *testing.T, want, got mgl64.Quat) {
	t.Helper()
	assert.InDelta(t, 1.0, math.Abs(want.Dot(got)), 1e-9, "want %v, got %v", want, got)
}

func TestParseSceneHierarchy(t *testing.T) {
	scene, err := ParseScene([]byte(twoLinkScene))
	require.NoError(t, err)

	assert.Equal(t, []string{"base", "arm", "gripper", "base.001"}, scene.Names())

	base, err := scene.Pose("base")
	require.NoError(t, err)
	vecNear(t, mgl64.Vec3{1, 0, 0}, base.Translation)

	arm, err := scene.Pose("arm")
	require.NoError(t, err)
	vecNear(t, mgl64.Vec3{1, 2, 0}, arm.Translation)

	// gripper sits one unit along the arm's local X, which the arm's 90
	// degree yaw turns into world Y.
	gripper, err := scene.Pose("gripper")
	require.NoError(t, err)
	vecNear(t, mgl64.Vec3{1, 3, 0}, gripper.Translation)
	assert.InDelta(t, 1.0, gripper.Rotation.Len(), 1e-9)
	vecNear(t, mgl64.Vec3{0, 1, 0}, gripper.Rotation.Rotate(mgl64.Vec3{1, 0, 0}))

	second, err := scene.Pose("base.001")
	require.NoError(t, err)
	vecNear(t, mgl64.Vec3{5, 6, 7}, second.Translation)

	_, err = scene.Pose("orphan")
	var nf *ObjectNotFoundError
	assert.True(t, errors.As(err, &nf), "nodes outside the scene are not objects")
}

func TestParseSceneZUp(t *testing.T) {
	doc := `{"asset": {"version": "2.0"}, "nodes": [{"name": "cube", "translation": [0, 1, 0]}]}`
	scene, err := ParseScene([]byte(doc), WithZUp())
	require.NoError(t, err)

	cube, err := scene.Pose("cube")
	require.NoError(t, err)
	vecNear(t, mgl64.Vec3{0, 0, 1}, cube.Translation)
	expected := mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{1, 0, 0})
	sameRotation(t, expected, cube.Rotation)
}

func TestParseSceneIdentityMatrixUsesTRS(t *testing.T) {
	doc := `{"asset": {"version": "2.0"}, "nodes": [
	  {"name": "trs", "matrix": [1,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1], "translation": [3, 0, 0]},
	  {"name": "bare"}
	]}`
	scene, err := ParseScene([]byte(doc))
	require.NoError(t, err)

	trs, err := scene.Pose("trs")
	require.NoError(t, err)
	vecNear(t, mgl64.Vec3{3, 0, 0}, trs.Translation)

	bare, err := scene.Pose("bare")
	require.NoError(t, err)
	vecNear(t, mgl64.Vec3{}, bare.Translation)
	sameRotation(t, mgl64.QuatIdent(), bare.Rotation)
}

func TestParseSceneBinary(t *testing.T) {
	doc := &gltf.Document{
		Asset:  gltf.Asset{Version: "2.0"},
		Scene:  gltf.Index(0),
		Scenes: []*gltf.Scene{{Nodes: []int{0}}},
		Nodes: []*gltf.Node{
			{Name: "base", Translation: [3]float64{0, 0, 1}, Children: []int{1}},
			{Name: "arm", Translation: [3]float64{2, 0, 0}},
		},
	}
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	require.NoError(t, enc.Encode(doc))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("glTF")))

	scene, err := ParseScene(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "arm"}, scene.Names())
	arm, err := scene.Pose("arm")
	require.NoError(t, err)
	vecNear(t, mgl64.Vec3{2, 0, 1}, arm.Translation)
}

func TestParseSceneErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"nodes": [`},
		{"bad scene index", `{"asset": {"version": "2.0"}, "scene": 3, "scenes": [{"nodes": [0]}], "nodes": [{"name": "a"}]}`},
		{"bad child index", `{"asset": {"version": "2.0"}, "nodes": [{"name": "a", "children": [9]}], "scenes": [{"nodes": [0]}]}`},
		{"shared child", `{"asset": {"version": "2.0"}, "scenes": [{"nodes": [0, 1]}], "nodes": [{"name": "a", "children": [2]}, {"name": "b", "children": [2]}, {"name": "c"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScene([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
