package vision

import (
	"context"
	"image"
)

// Rect is a pixel-space bounding box.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is a single detected object within a frame.
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Rect    `json:"bbox"`
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// Embedder produces an appearance embedding for an object crop.
type Embedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
}

// FaceFinder reports whether an object crop contains a detectable face.
type FaceFinder interface {
	HasFace(ctx context.Context, crop image.Image) (bool, error)
}
