package output

import (
	"github.com/fatih/color"
)

// Palette defines the colors used for the different parts of the console
// output.
type Palette struct {
	Title   *color.Color
	Border  *color.Color
	Value   *color.Color
	Phase   *color.Color
	Latency *color.Color
	Dim     *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
}

// DefaultPalette returns the default palette.
func DefaultPalette() *Palette {
	return &Palette{
		Title:   color.New(color.Bold),
		Border:  color.New(color.FgCyan),
		Value:   color.New(color.FgCyan),
		Phase:   color.New(color.FgMagenta),
		Latency: color.New(color.FgBlue),
		Dim:     color.New(color.Faint),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed, color.Bold),
	}
}

func (p *Palette) all() []*color.Color {
	return []*color.Color{p.Title, p.Border, p.Value, p.Phase, p.Latency, p.Dim, p.Good, p.Warn, p.Bad}
}

// NoColorPalette returns a palette with every color disabled.
func NoColorPalette() *Palette {
	p := DefaultPalette()
	for _, c := range p.all() {
		c.DisableColor()
	}
	return p
}

// ForcedColorPalette returns a palette that colors even when the process
// output is not a terminal.
func ForcedColorPalette() *Palette {
	p := DefaultPalette()
	for _, c := range p.all() {
		c.EnableColor()
	}
	return p
}

// errorRateColor picks green below 1%, yellow below 5% and red above.
func (p *Palette) errorRateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return p.Bad
	case rate > 0.01:
		return p.Warn
	default:
		return p.Good
	}
}

// PassIcon returns a check mark.
func (p *Palette) PassIcon() string {
	return p.Good.Sprint("✓")
}

// FailIcon returns a cross.
func (p *Palette) FailIcon() string {
	return p.Bad.Sprint("✗")
}
