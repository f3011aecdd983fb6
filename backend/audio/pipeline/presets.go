package pipeline

import (
	"golang.org/x/text/cases"
)

// Preset is a named set of EQ band gains in dB.
type Preset struct {
	Name  string
	Bands [NumBands]float64
}

var presets = []Preset{
	{Name: "Flat", Bands: [NumBands]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	{Name: "Rock", Bands: [NumBands]float64{4.5, 3, 0, -1, 1, 3, 4, 4, 2.5, 2}},
	{Name: "Pop", Bands: [NumBands]float64{-1, 0, 3, 4, 1, -1, -0.5, 1, 2.5, 3}},
	{Name: "Jazz", Bands: [NumBands]float64{3.5, 1, 0, -2, 1, 3, 3, 4, 4, 4}},
	{Name: "Classical", Bands: [NumBands]float64{4.5, 3, 0.5, -1, 1, 3, 3, 2, 2, -1}},
	{Name: "Bass Boost", Bands: [NumBands]float64{5.5, 4, 2.5, 0, 0, 0, 0, 0, 0, 0}},
	{Name: "Treble Boost", Bands: [NumBands]float64{0, 0, 0, 0, 0, 0, 2.5, 4, 5.5, 6}},
	{Name: "Vocal", Bands: [NumBands]float64{-2.5, -3, 2.5, 4, 3.5, 2, 0.5, -1, -2, -3}},
	{Name: "Electronic", Bands: [NumBands]float64{4.5, 2, -1, -2, 1, 3, 4, 3, 4, 3}},
	{Name: "Acoustic", Bands: [NumBands]float64{4.5, 3, 1.5, 1, 1.5, 2, 1.5, 2, 2.5, 2}},
	{Name: "R&B", Bands: [NumBands]float64{4.5, 5, 0, -2, 2.5, 2, 2.5, 3, 3, 4}},
	{Name: "Loudness", Bands: [NumBands]float64{5.5, 3, -0.5, -1, -1, 0, 1.5, 4, 5, 3}},
}

// Presets returns the built-in EQ presets, Flat first.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// FindPreset looks a preset up by name, ignoring case.
func FindPreset(name string) (Preset, bool) {
	fold := cases.Fold()
	want := fold.String(name)
	for _, p := range presets {
		if fold.String(p.Name) == want {
			return p, true
		}
	}
	return Preset{}, false
}
