package sprite

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
)

const (
	// ThumbWidth and ThumbHeight are the fixed cell dimensions.
	ThumbWidth  = 160
	ThumbHeight = 90
	// MaxWidth bounds a row; 12 cells fit per row.
	MaxWidth = 1920

	initialRows = 10
	jpegQuality = 50
)

// Packer accumulates one thumbnail per object into a left-to-right,
// top-to-bottom grid. Repeat objects reuse their existing cell.
type Packer struct {
	filename  string
	canvas    *image.RGBA
	x, y      int
	fragments map[string]string
	count     int
}

// NewPacker creates an empty atlas. filename is the name referenced by the
// fragments the packer hands out, not a filesystem path.
func NewPacker(filename string) *Packer {
	canvas := image.NewRGBA(image.Rect(0, 0, MaxWidth, initialRows*ThumbHeight))
	fillWhite(canvas, canvas.Bounds())
	return &Packer{
		filename:  filename,
		canvas:    canvas,
		fragments: make(map[string]string),
	}
}

// Add places a thumbnail for objectID and returns its fragment reference,
// "<filename>#xywh=x,y,w,h". An object already in the atlas gets its original
// fragment back and the crop is ignored.
func (p *Packer) Add(objectID string, crop image.Image) string {
	if fragment, ok := p.fragments[objectID]; ok {
		return fragment
	}

	if p.x+ThumbWidth > MaxWidth {
		p.x = 0
		p.y += ThumbHeight
	}
	p.ensureHeight(p.y + ThumbHeight)

	cell := image.Rect(p.x, p.y, p.x+ThumbWidth, p.y+ThumbHeight)
	xdraw.CatmullRom.Scale(p.canvas, cell, crop, crop.Bounds(), xdraw.Src, nil)

	fragment := fmt.Sprintf("%s#xywh=%d,%d,%d,%d", p.filename, p.x, p.y, ThumbWidth, ThumbHeight)
	p.fragments[objectID] = fragment
	p.x += ThumbWidth
	p.count++
	return fragment
}

// Count returns the number of distinct objects in the atlas.
func (p *Packer) Count() int {
	return p.count
}

// Filename returns the atlas name used in fragments.
func (p *Packer) Filename() string {
	return p.filename
}

// Save writes the atlas cropped to its used height.
func (p *Packer) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create atlas directory: %w", err)
		}
	}

	used := p.canvas.SubImage(image.Rect(0, 0, MaxWidth, p.y+ThumbHeight))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create atlas file: %w", err)
	}
	if err := jpeg.Encode(file, used, &jpeg.Options{Quality: jpegQuality}); err != nil {
		_ = file.Close()
		return fmt.Errorf("encode atlas: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close atlas file: %w", err)
	}
	return nil
}

// ensureHeight grows the canvas when the next row would not fit. The new
// height is the larger of double the current height and the required height.
func (p *Packer) ensureHeight(required int) {
	height := p.canvas.Bounds().Dy()
	if required <= height {
		return
	}
	newHeight := height * 2
	if required > newHeight {
		newHeight = required
	}
	grown := image.NewRGBA(image.Rect(0, 0, MaxWidth, newHeight))
	fillWhite(grown, grown.Bounds())
	xdraw.Copy(grown, image.Point{}, p.canvas, p.canvas.Bounds(), xdraw.Src, nil)
	p.canvas = grown
}

func fillWhite(img *image.RGBA, bounds image.Rectangle) {
	xdraw.Draw(img, bounds, &image.Uniform{C: color.White}, image.Point{}, xdraw.Src)
}
