package overlay

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Canvas is the drawing surface the renderer paints on.
type Canvas interface {
	Size() (width, height int)
	Resize(width, height int)
	Clear()
	StrokeRect(x, y, w, h float64, c color.Color, lineWidth float64)
	StrokeLine(x1, y1, x2, y2 float64, c color.Color, lineWidth float64)
	FillRect(x, y, w, h float64, c color.Color)
	FillCircle(x, y, r float64, c color.Color)
	// DrawText draws s with its top-left corner at (x, y).
	DrawText(s string, x, y float64, c color.Color)
	MeasureText(s string) (w, h float64)
}

// ImageCanvas is a Canvas backed by an in-memory RGBA image.
type ImageCanvas struct {
	dc   *gg.Context
	face font.Face
}

// NewImageCanvas returns an empty canvas; Resize allocates the pixels.
func NewImageCanvas(fontSize float64) *ImageCanvas {
	if fontSize <= 0 {
		fontSize = DefaultConfig().FontSize
	}
	return &ImageCanvas{
		face: truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}),
	}
}

// Image returns the current pixels, or nil before the first Resize.
func (c *ImageCanvas) Image() image.Image {
	if c.dc == nil {
		return nil
	}
	return c.dc.Image()
}

func (c *ImageCanvas) Size() (int, int) {
	if c.dc == nil {
		return 0, 0
	}
	return c.dc.Width(), c.dc.Height()
}

// Resize reallocates the surface. Prior content is discarded.
func (c *ImageCanvas) Resize(width, height int) {
	c.dc = gg.NewContext(width, height)
	c.dc.SetFontFace(c.face)
}

func (c *ImageCanvas) Clear() {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(color.Transparent)
	c.dc.Clear()
}

func (c *ImageCanvas) StrokeRect(x, y, w, h float64, col color.Color, lineWidth float64) {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(col)
	c.dc.SetLineWidth(lineWidth)
	c.dc.DrawRectangle(x, y, w, h)
	c.dc.Stroke()
}

func (c *ImageCanvas) StrokeLine(x1, y1, x2, y2 float64, col color.Color, lineWidth float64) {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(col)
	c.dc.SetLineWidth(lineWidth)
	c.dc.DrawLine(x1, y1, x2, y2)
	c.dc.Stroke()
}

func (c *ImageCanvas) FillRect(x, y, w, h float64, col color.Color) {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(col)
	c.dc.DrawRectangle(x, y, w, h)
	c.dc.Fill()
}

func (c *ImageCanvas) FillCircle(x, y, r float64, col color.Color) {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(col)
	c.dc.DrawCircle(x, y, r)
	c.dc.Fill()
}

func (c *ImageCanvas) DrawText(s string, x, y float64, col color.Color) {
	if c.dc == nil {
		return
	}
	c.dc.SetColor(col)
	c.dc.DrawStringAnchored(s, x, y, 0, 1)
}

func (c *ImageCanvas) MeasureText(s string) (float64, float64) {
	if c.dc == nil {
		// Measuring works without pixels; use a scratch context.
		scratch := gg.NewContext(1, 1)
		scratch.SetFontFace(c.face)
		return scratch.MeasureString(s)
	}
	return c.dc.MeasureString(s)
}

// Media reports the intrinsic pixel size of the video frame or still image
// an overlay is drawn for. A zero dimension means the size is not yet known.
type Media interface {
	IntrinsicSize() (width, height int)
}

// FrameSize is Media for a stream whose frames are described only by size.
type FrameSize struct {
	Width  int
	Height int
}

func (f FrameSize) IntrinsicSize() (int, int) {
	return f.Width, f.Height
}

// ImageMedia is Media for a decoded still image.
type ImageMedia struct {
	Img image.Image
}

func (m ImageMedia) IntrinsicSize() (int, int) {
	if m.Img == nil {
		return 0, 0
	}
	b := m.Img.Bounds()
	return b.Dx(), b.Dy()
}
