package model

import "strings"

// Color is a tab group color from a fixed palette. Producers use different
// palettes, so mapping foreign names onto it is best-effort.
type Color string

const (
	ColorGrey   Color = "grey"
	ColorBlue   Color = "blue"
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorPink   Color = "pink"
	ColorPurple Color = "purple"
	ColorCyan   Color = "cyan"
	ColorOrange Color = "orange"
)

// Palette lists every color in display order.
var Palette = []Color{ColorGrey, ColorBlue, ColorRed, ColorYellow, ColorGreen, ColorPink, ColorPurple, ColorCyan, ColorOrange}

var colorAliases = map[string]Color{
	"gray":      ColorGrey,
	"toolbar":   ColorGrey,
	"turquoise": ColorCyan,
	"teal":      ColorCyan,
	"violet":    ColorPurple,
	"magenta":   ColorPink,
}

// Valid reports whether c is in the palette.
func (c Color) Valid() bool {
	for _, p := range Palette {
		if c == p {
			return true
		}
	}
	return false
}

// NormalizeColor maps a producer's color name onto the palette.
// Unknown names become grey.
func NormalizeColor(name string) Color {
	c := Color(strings.ToLower(strings.TrimSpace(name)))
	if c.Valid() {
		return c
	}
	if alias, ok := colorAliases[string(c)]; ok {
		return alias
	}
	return ColorGrey
}
