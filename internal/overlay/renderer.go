package overlay

import (
	"fmt"
	"image/color"
	"math"

	"github.com/dj-oyu/ppe-monitor/internal/detection"
)

// Config controls overlay geometry. Zero fields fall back to DefaultConfig.
type Config struct {
	LineWidth          float64
	ViolationLineWidth float64
	CornerLength       float64
	CornerLineWidth    float64
	FontSize           float64
	LabelPadding       float64
	LabelAlpha         uint8
	PanelX, PanelY     float64
	PanelWidth         float64
	PanelHeight        float64
	LiveWidth          float64
	LiveHeight         float64
	LiveMargin         float64

	// Media larger than this is not drawn.
	MaxSurfaceWidth  int
	MaxSurfaceHeight int
}

// DefaultConfig returns the standard overlay geometry.
func DefaultConfig() Config {
	return Config{
		LineWidth:          2,
		ViolationLineWidth: 4,
		CornerLength:       15,
		CornerLineWidth:    4,
		FontSize:           14,
		LabelPadding:       6,
		LabelAlpha:         0xd9,
		PanelX:             10,
		PanelY:             10,
		PanelWidth:         190,
		PanelHeight:        78,
		LiveWidth:          74,
		LiveHeight:         28,
		LiveMargin:         10,

		MaxSurfaceWidth:  detection.MaxFrameWidth,
		MaxSurfaceHeight: detection.MaxFrameHeight,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LineWidth <= 0 {
		c.LineWidth = d.LineWidth
	}
	if c.ViolationLineWidth <= 0 {
		c.ViolationLineWidth = d.ViolationLineWidth
	}
	if c.CornerLength <= 0 {
		c.CornerLength = d.CornerLength
	}
	if c.CornerLineWidth <= 0 {
		c.CornerLineWidth = d.CornerLineWidth
	}
	if c.FontSize <= 0 {
		c.FontSize = d.FontSize
	}
	if c.LabelPadding <= 0 {
		c.LabelPadding = d.LabelPadding
	}
	if c.LabelAlpha == 0 {
		c.LabelAlpha = d.LabelAlpha
	}
	if c.PanelWidth <= 0 || c.PanelHeight <= 0 {
		c.PanelX, c.PanelY = d.PanelX, d.PanelY
		c.PanelWidth, c.PanelHeight = d.PanelWidth, d.PanelHeight
	}
	if c.LiveWidth <= 0 || c.LiveHeight <= 0 {
		c.LiveWidth, c.LiveHeight, c.LiveMargin = d.LiveWidth, d.LiveHeight, d.LiveMargin
	}
	if c.MaxSurfaceWidth <= 0 || c.MaxSurfaceHeight <= 0 {
		c.MaxSurfaceWidth, c.MaxSurfaceHeight = d.MaxSurfaceWidth, d.MaxSurfaceHeight
	}
	return c
}

// Stats feeds the stats panel.
type Stats struct {
	TotalDetections int
	ActiveCount     int
	FPS             float64
}

// Rect is a box in surface pixels.
type Rect struct {
	X, Y, W, H float64
}

// ColorResolver maps a prediction type to a display color.
type ColorResolver interface {
	Resolve(typ string) color.RGBA
}

// AnnotationHook runs after an annotation's box and label are drawn.
type AnnotationHook func(c Canvas, a detection.Annotation, box Rect)

// Option customizes a Renderer.
type Option func(*Renderer)

// WithColors replaces the color resolver.
func WithColors(colors ColorResolver) Option {
	return func(r *Renderer) {
		if colors != nil {
			r.colors = colors
		}
	}
}

// WithAnnotationHook adds a hook invoked for every drawn annotation.
func WithAnnotationHook(hook AnnotationHook) Option {
	return func(r *Renderer) {
		if hook != nil {
			r.hooks = append(r.hooks, hook)
		}
	}
}

// Renderer paints annotations and panels onto a Canvas sized to its Media.
// Configuration is read-only after construction.
type Renderer struct {
	cfg    Config
	colors ColorResolver
	hooks  []AnnotationHook
}

// NewRenderer creates a Renderer using DefaultColorMap unless overridden.
func NewRenderer(cfg Config, opts ...Option) *Renderer {
	r := &Renderer{
		cfg:    cfg.withDefaults(),
		colors: DefaultColorMap(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Renderer) Config() Config {
	return r.cfg
}

// Annotate resolves colors and violation flags for display.
func (r *Renderer) Annotate(preds []detection.Prediction) []detection.Annotation {
	return detection.Annotate(preds, r.colors.Resolve)
}

// SizeSurfaceToMedia matches the canvas to the media's intrinsic size. It
// returns false when the size is unknown or above the default maximum, and
// only resizes on a real change.
func SizeSurfaceToMedia(c Canvas, m Media) bool {
	return sizeSurface(c, m, detection.MaxFrameWidth, detection.MaxFrameHeight)
}

// SizeSurface is SizeSurfaceToMedia bounded by the renderer's configured maximum.
func (r *Renderer) SizeSurface(c Canvas, m Media) bool {
	return sizeSurface(c, m, r.cfg.MaxSurfaceWidth, r.cfg.MaxSurfaceHeight)
}

func sizeSurface(c Canvas, m Media, maxW, maxH int) bool {
	if c == nil || m == nil {
		return false
	}
	w, h := m.IntrinsicSize()
	if !detection.FrameSizeWithin(w, h, maxW, maxH) {
		return false
	}
	if cw, ch := c.Size(); cw != w || ch != h {
		c.Resize(w, h)
	}
	return true
}

// Render resizes, clears, then draws annotations, the stats panel, and the
// live indicator in that order. It returns false without drawing when the
// canvas or media is unavailable.
func (r *Renderer) Render(c Canvas, m Media, annotations []detection.Annotation, stats Stats, processing bool) bool {
	if !r.SizeSurface(c, m) {
		return false
	}
	c.Clear()

	for _, a := range annotations {
		box, ok := r.DrawBox(c, a)
		if !ok {
			continue
		}
		r.DrawLabel(c, a, box)
		for _, hook := range r.hooks {
			hook(c, a, box)
		}
	}

	r.DrawStatsPanel(c, stats)
	if processing {
		r.DrawLiveIndicator(c)
	}
	return true
}

// ClampBox intersects a source-frame box with a w x h surface. The top-left is
// kept inside [0,w-1] x [0,h-1]. ok is false when nothing remains visible.
func ClampBox(b detection.BoundingBox, w, h int) (Rect, bool) {
	if w <= 0 || h <= 0 {
		return Rect{}, false
	}
	sw, sh := float64(w), float64(h)

	right := math.Min(b.X+b.Width, sw)
	bottom := math.Min(b.Y+b.Height, sh)
	if right-math.Max(b.X, 0) <= 0 || bottom-math.Max(b.Y, 0) <= 0 {
		return Rect{}, false
	}

	x := clamp(b.X, 0, sw-1)
	y := clamp(b.Y, 0, sh-1)
	box := Rect{X: x, Y: y, W: right - x, H: bottom - y}
	if box.W <= 0 || box.H <= 0 {
		return Rect{}, false
	}
	return box, true
}

// DrawBox strokes the clamped box and its corner markers.
func (r *Renderer) DrawBox(c Canvas, a detection.Annotation) (Rect, bool) {
	w, h := c.Size()
	box, ok := ClampBox(a.BoundingBox, w, h)
	if !ok {
		return Rect{}, false
	}

	lineWidth := r.cfg.LineWidth
	if a.Violation {
		lineWidth = r.cfg.ViolationLineWidth
	}
	c.StrokeRect(box.X, box.Y, box.W, box.H, a.Color, lineWidth)
	r.drawCorners(c, box, a.Color)
	return box, true
}

func (r *Renderer) drawCorners(c Canvas, box Rect, col color.Color) {
	n := math.Min(r.cfg.CornerLength, math.Min(box.W, box.H)/2)
	lw := r.cfg.CornerLineWidth
	x0, y0 := box.X, box.Y
	x1, y1 := box.X+box.W, box.Y+box.H

	// top-left
	c.StrokeLine(x0, y0, x0+n, y0, col, lw)
	c.StrokeLine(x0, y0, x0, y0+n, col, lw)
	// top-right
	c.StrokeLine(x1, y0, x1-n, y0, col, lw)
	c.StrokeLine(x1, y0, x1, y0+n, col, lw)
	// bottom-left
	c.StrokeLine(x0, y1, x0+n, y1, col, lw)
	c.StrokeLine(x0, y1, x0, y1-n, col, lw)
	// bottom-right
	c.StrokeLine(x1, y1, x1-n, y1, col, lw)
	c.StrokeLine(x1, y1, x1, y1-n, col, lw)
}

// FormatConfidence renders a confidence as a percentage label.
func FormatConfidence(conf float64) string {
	return fmt.Sprintf("%.1f%%", conf*100)
}

// LabelRect computes where the two-line label for box goes: above the box when
// it fits, otherwise below.
func (r *Renderer) LabelRect(c Canvas, typ, conf string, box Rect) Rect {
	tw, th := c.MeasureText(typ)
	cw, ch := c.MeasureText(conf)
	pad := r.cfg.LabelPadding

	lw := math.Max(tw, cw) + 2*pad
	lh := th + ch + 3*pad

	y := box.Y - lh
	if y < 0 {
		y = box.Y + box.H
	}
	return Rect{X: box.X, Y: y, W: lw, H: lh}
}

// DrawLabel draws the type and confidence lines on a translucent panel.
func (r *Renderer) DrawLabel(c Canvas, a detection.Annotation, box Rect) {
	typ := a.Type
	conf := FormatConfidence(a.Confidence)
	label := r.LabelRect(c, typ, conf, box)
	pad := r.cfg.LabelPadding

	c.FillRect(label.X, label.Y, label.W, label.H, withAlpha(a.Color, r.cfg.LabelAlpha))

	_, th := c.MeasureText(typ)
	c.DrawText(typ, label.X+pad, label.Y+pad, color.White)
	c.DrawText(conf, label.X+pad, label.Y+2*pad+th, color.White)
}

// DrawStatsPanel draws the fixed translucent stats panel.
func (r *Renderer) DrawStatsPanel(c Canvas, stats Stats) {
	x, y := r.cfg.PanelX, r.cfg.PanelY
	c.FillRect(x, y, r.cfg.PanelWidth, r.cfg.PanelHeight, color.NRGBA{A: 0xb3})

	lines := []string{
		fmt.Sprintf("Detections: %d", stats.TotalDetections),
		fmt.Sprintf("Active: %d", stats.ActiveCount),
		fmt.Sprintf("FPS: %.1f", stats.FPS),
	}
	step := (r.cfg.PanelHeight - 2*r.cfg.LabelPadding) / float64(len(lines))
	for i, line := range lines {
		c.DrawText(line, x+r.cfg.LabelPadding+2, y+r.cfg.LabelPadding+float64(i)*step, color.White)
	}
}

// DrawLiveIndicator draws the "LIVE" badge anchored to the top-right corner.
func (r *Renderer) DrawLiveIndicator(c Canvas) {
	w, _ := c.Size()
	x := float64(w) - r.cfg.LiveMargin - r.cfg.LiveWidth
	y := r.cfg.LiveMargin

	c.FillRect(x, y, r.cfg.LiveWidth, r.cfg.LiveHeight, color.NRGBA{R: 0xd7, G: 0x26, B: 0x1e, A: 0xd9})
	radius := r.cfg.LiveHeight / 6
	c.FillCircle(x+r.cfg.LabelPadding+radius, y+r.cfg.LiveHeight/2, radius, color.White)

	_, th := c.MeasureText("LIVE")
	c.DrawText("LIVE", x+2*r.cfg.LabelPadding+2*radius, y+(r.cfg.LiveHeight-th)/2, color.White)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
