package overlay

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dj-oyu/ppe-monitor/internal/detection"
)

// FallbackColor is used for types that match no key.
var FallbackColor = color.RGBA{R: 0x8e, G: 0x8e, B: 0x93, A: 0xff}

// ColorEntry binds a type key to a display color.
type ColorEntry struct {
	Key   string
	Color color.RGBA
}

// ColorMap is an ordered, immutable type-to-color lookup.
// The zero value resolves everything to FallbackColor.
type ColorMap struct {
	entries []colorEntry
}

type colorEntry struct {
	norm  string
	color color.RGBA
}

// DefaultColorMap returns the built-in palette. Violation keys come first so
// that "no_hardhat" style types win over their compliant counterparts.
func DefaultColorMap() ColorMap {
	return NewColorMap(
		ColorEntry{"no_hardhat", rgb(0xff, 0x3b, 0x30)},
		ColorEntry{"no_helmet", rgb(0xff, 0x3b, 0x30)},
		ColorEntry{"no_vest", rgb(0xff, 0x6b, 0x00)},
		ColorEntry{"no_safety_vest", rgb(0xff, 0x6b, 0x00)},
		ColorEntry{"no_gloves", rgb(0xff, 0x95, 0x00)},
		ColorEntry{"hardhat", rgb(0x34, 0xc7, 0x59)},
		ColorEntry{"helmet", rgb(0x34, 0xc7, 0x59)},
		ColorEntry{"safety_vest", rgb(0xff, 0xd6, 0x0a)},
		ColorEntry{"vest", rgb(0xff, 0xd6, 0x0a)},
		ColorEntry{"gloves", rgb(0x5a, 0xc8, 0xfa)},
		ColorEntry{"hand", rgb(0xbf, 0x5a, 0xf2)},
		ColorEntry{"head", rgb(0xff, 0x2d, 0x55)},
		ColorEntry{"person", rgb(0x0a, 0x84, 0xff)},
	)
}

// NewColorMap builds a ColorMap from entries in priority order.
func NewColorMap(entries ...ColorEntry) ColorMap {
	return ColorMap{}.With(entries...)
}

// With returns a new ColorMap with overrides applied. An override whose key
// (normalized) already exists replaces the color in place; new keys are appended.
func (m ColorMap) With(overrides ...ColorEntry) ColorMap {
	entries := make([]colorEntry, len(m.entries), len(m.entries)+len(overrides))
	copy(entries, m.entries)

	for _, o := range overrides {
		norm := detection.NormalizeType(o.Key)
		if norm == "" {
			continue
		}
		replaced := false
		for i := range entries {
			if entries[i].norm == norm {
				entries[i].color = o.Color
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, colorEntry{norm: norm, color: o.Color})
		}
	}
	return ColorMap{entries: entries}
}

// Len returns the number of keys.
func (m ColorMap) Len() int {
	return len(m.entries)
}

// Resolve returns the color for a prediction type. An exact normalized match
// wins; otherwise the first key where either string contains the other.
func (m ColorMap) Resolve(typ string) color.RGBA {
	norm := detection.NormalizeType(typ)
	if norm == "" {
		return FallbackColor
	}
	for _, e := range m.entries {
		if e.norm == norm {
			return e.color
		}
	}
	for _, e := range m.entries {
		if strings.Contains(norm, e.norm) || strings.Contains(e.norm, norm) {
			return e.color
		}
	}
	return FallbackColor
}

// ParseColor parses "#rrggbb" (or "#rgb") into an opaque color.
func ParseColor(s string) (color.RGBA, error) {
	c, err := colorful.Hex(normalizeHex(s))
	if err != nil {
		return color.RGBA{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

func normalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) == 4 {
		s = string([]byte{'#', s[1], s[1], s[2], s[2], s[3], s[3]})
	}
	return s
}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func withAlpha(c color.RGBA, a uint8) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: a}
}
