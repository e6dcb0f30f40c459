package pose

import (
	"bytes"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"

	"github.com/vincentbai/posetrace-agent/internal/models"
)

// Scene is a Source backed by the node poses of a glTF scene, as sent by a
// simulator's render client for every camera frame.
type Scene struct {
	names []string
	poses map[string]models.Transform
}

// SceneOption configures ParseScene.
type SceneOption func(*sceneConfig)

type sceneConfig struct {
	root mgl64.Mat4
}

// WithZUp converts glTF's Y-up convention to a Z-up world by rotating the
// scene +90 degrees about the world X axis.
func WithZUp() SceneOption {
	return func(c *sceneConfig) {
		c.root = mgl64.HomogRotate3DX(math.Pi / 2)
	}
}

// ParseScene reads a glTF document (JSON or binary) and computes the world transform
// of every named node. Duplicate names get a numeric suffix (".001") in
// document order, the way 3D hosts rename clashing objects.
func ParseScene(data []byte, opts ...SceneOption) (*Scene, error) {
	cfg := sceneConfig{root: mgl64.Ident4()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var doc gltf.Document
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode glTF: %w", err)
	}

	roots, err := sceneRoots(&doc)
	if err != nil {
		return nil, err
	}

	world := make(map[int]mgl64.Mat4, len(doc.Nodes))
	var walk func(index int, parent mgl64.Mat4) error
	walk = func(index int, parent mgl64.Mat4) error {
		if index < 0 || index >= len(doc.Nodes) {
			return fmt.Errorf("node index %d out of range", index)
		}
		if _, ok := world[index]; ok {
			return fmt.Errorf("node %d is reachable twice", index)
		}
		m := parent.Mul4(localMatrix(doc.Nodes[index]))
		world[index] = m
		for _, child := range doc.Nodes[index].Children {
			if err := walk(child, m); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range roots {
		if err := walk(r, cfg.root); err != nil {
			return nil, err
		}
	}

	scene := &Scene{poses: make(map[string]models.Transform)}
	used := make(map[string]int)
	for i, node := range doc.Nodes {
		m, ok := world[i]
		if !ok || node.Name == "" {
			continue
		}
		name := node.Name
		if n := used[node.Name]; n > 0 {
			name = fmt.Sprintf("%s.%03d", node.Name, n)
		}
		used[node.Name]++
		scene.names = append(scene.names, name)
		scene.poses[name] = decompose(m)
	}
	return scene, nil
}

// Names returns the named nodes in document order.
func (s *Scene) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *Scene) Pose(name string) (models.Transform, error) {
	tr, ok := s.poses[name]
	if !ok {
		return models.Transform{}, &ObjectNotFoundError{Name: name}
	}
	return tr, nil
}

// sceneRoots returns the root nodes of the default scene. Without scenes,
// every node that is nobody's child is a root.
func sceneRoots(doc *gltf.Document) ([]int, error) {
	if len(doc.Scenes) > 0 {
		idx := 0
		if doc.Scene != nil {
			idx = *doc.Scene
		}
		if idx < 0 || idx >= len(doc.Scenes) {
			return nil, fmt.Errorf("scene index %d out of range", idx)
		}
		return doc.Scenes[idx].Nodes, nil
	}
	child := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			child[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !child[i] {
			roots = append(roots, i)
		}
	}
	return roots, nil
}

// localMatrix is the node's transform relative to its parent. A node
// carries either a matrix or TRS properties; an identity matrix means TRS.
func localMatrix(n *gltf.Node) mgl64.Mat4 {
	if m := mgl64.Mat4(n.MatrixOrDefault()); m != mgl64.Ident4() {
		return m
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault() // x, y, z, w
	s := n.ScaleOrDefault()
	q := mgl64.Quat{W: r[3], V: mgl64.Vec3{r[0], r[1], r[2]}}
	return mgl64.Translate3D(t[0], t[1], t[2]).
		Mul4(q.Normalize().Mat4()).
		Mul4(mgl64.Scale3D(s[0], s[1], s[2]))
}

// decompose splits an affine world matrix into translation and rotation,
// dropping any scale.
func decompose(m mgl64.Mat4) models.Transform {
	cols := [3]mgl64.Vec4{}
	for i := range cols {
		c := m.Col(i).Vec3()
		if l := c.Len(); l > 0 {
			c = c.Mul(1 / l)
		}
		cols[i] = c.Vec4(0)
	}
	rot := mgl64.Mat4FromCols(cols[0], cols[1], cols[2], mgl64.Vec4{0, 0, 0, 1})
	return models.Transform{
		Translation: m.Col(3).Vec3(),
		Rotation:    mgl64.Mat4ToQuat(rot).Normalize(),
	}
}
