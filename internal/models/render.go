package models

// RenderParams are the form fields of a glTF render-client request.
// Only the image size is used to shape the placeholder reply; the rest is
// parsed so malformed requests are rejected the same way a renderer would.
type RenderParams struct {
	SceneSHA256 string
	ImageType   string // color|depth|label
	Width       int
	Height      int
	Near        float64
	Far         float64
	FocalX      float64
	FocalY      float64
	FovX        float64
	FovY        float64
	CenterX     float64
	CenterY     float64
	MinDepth    *float64 // depth images only
	MaxDepth    *float64
}
