// Package sheet describes the printed bubble-sheet layout: where the
// calibration markers, the session code and the answer grid sit on the page.
// All coordinates are millimeters from the sheet's top-left corner, so one
// schema serves every scan resolution.
package sheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the layout generation this build understands. The same token is
// embedded in every printed sheet's session code, so scans of outdated
// templates are rejected instead of being sampled against the wrong grid.
const Version = "ATS2"

// ErrUnsupportedVersion is returned for schema documents or sheets printed
// from a layout generation this build does not understand.
var ErrUnsupportedVersion = errors.New("sheet: unsupported schema version")

// Point is a position in sheet millimeters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width and height in sheet millimeters.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is an axis-aligned region in sheet millimeters.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Grid lays out the per-student rows: a block of ID digit fields on the left
// and the present/absent mark pair on the right. Within a digit field the ten
// value bubbles (0-9) run left to right.
type Grid struct {
	Rows         int     `json:"rows"`
	FirstRowY    float64 `json:"firstRowY"`
	RowPitch     float64 `json:"rowPitch"`
	Digits       int     `json:"digits"`
	DigitOriginX float64 `json:"digitOriginX"` // center of value 0, field 0
	ValuePitch   float64 `json:"valuePitch"`   // bubble to bubble within a field
	FieldPitch   float64 `json:"fieldPitch"`   // field origin to field origin
	PresentX     float64 `json:"presentX"`
	AbsentX      float64 `json:"absentX"`
	BubbleDiam   float64 `json:"bubbleDiam"`
}

// Schema is one versioned sheet layout.
type Schema struct {
	Version string `json:"version"`
	Page    Size   `json:"page"`

	// Corner markers in TL, TR, BR, BL order plus the smaller orientation
	// mark printed next to the top-left marker. The orientation mark is what
	// lets an upside-down scan be told apart from an upright one.
	MarkerSize float64  `json:"markerSize"`
	Markers    [4]Point `json:"markers"`
	OrientMark Point    `json:"orientMark"`
	OrientSize float64  `json:"orientSize"`

	CodeRegion Rect `json:"codeRegion"`

	// IDPrefix is prepended to the decoded digit string to form the student
	// identifier as it appears in rosters ("S" + "014" = "S014").
	IDPrefix string `json:"idPrefix"`

	Grid Grid `json:"grid"`
}

// Default returns the built-in ATS2 A4 portrait layout: 8 mm corner markers
// 12 mm in from each edge, a 4 mm orientation mark beside the top-left
// marker, the session QR centered above the grid, and 28 rows of three ID
// digit fields plus a present/absent pair.
func Default() Schema {
	return Schema{
		Version:    Version,
		Page:       Size{W: 210, H: 297},
		MarkerSize: 8,
		Markers: [4]Point{
			{X: 12, Y: 12},
			{X: 198, Y: 12},
			{X: 198, Y: 285},
			{X: 12, Y: 285},
		},
		OrientMark: Point{X: 24, Y: 12},
		OrientSize: 4,
		CodeRegion: Rect{X: 85, Y: 20, W: 40, H: 40},
		IDPrefix:   "S",
		Grid: Grid{
			Rows:         28,
			FirstRowY:    70,
			RowPitch:     7,
			Digits:       3,
			DigitOriginX: 30,
			ValuePitch:   4.5,
			FieldPitch:   48,
			PresentX:     180,
			AbsentX:      190,
			BubbleDiam:   3.6,
		},
	}
}

// Parse decodes and validates a schema document. Unknown versions are
// rejected with ErrUnsupportedVersion before any geometry is looked at.
func Parse(data []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("decoding sheet schema: %w", err)
	}
	if s.Version != Version {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s.Version)
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate checks the geometry is usable: positive page and marker sizes,
// markers on the page, and a non-degenerate grid.
func (s Schema) Validate() error {
	if s.Page.W <= 0 || s.Page.H <= 0 {
		return fmt.Errorf("sheet: page size %gx%g is not positive", s.Page.W, s.Page.H)
	}
	if s.MarkerSize <= 0 || s.OrientSize <= 0 {
		return errors.New("sheet: marker sizes must be positive")
	}
	for i, m := range s.Markers {
		if m.X < 0 || m.Y < 0 || m.X > s.Page.W || m.Y > s.Page.H {
			return fmt.Errorf("sheet: marker %d at (%g,%g) is off the page", i, m.X, m.Y)
		}
	}
	g := s.Grid
	if g.Rows <= 0 || g.Digits <= 0 {
		return errors.New("sheet: grid needs at least one row and one digit field")
	}
	if g.RowPitch <= 0 || g.ValuePitch <= 0 || g.FieldPitch <= 0 || g.BubbleDiam <= 0 {
		return errors.New("sheet: grid pitches and bubble diameter must be positive")
	}
	lastRowY := g.FirstRowY + float64(g.Rows-1)*g.RowPitch
	if lastRowY > s.Page.H {
		return fmt.Errorf("sheet: %d rows run off the page", g.Rows)
	}
	return nil
}

// RowY returns the center line of a grid row.
func (s Schema) RowY(row int) float64 {
	return s.Grid.FirstRowY + float64(row)*s.Grid.RowPitch
}

// DigitCenter returns the bubble center for the given row, digit field and
// value (0-9).
func (s Schema) DigitCenter(row, field, value int) Point {
	return Point{
		X: s.Grid.DigitOriginX + float64(field)*s.Grid.FieldPitch + float64(value)*s.Grid.ValuePitch,
		Y: s.RowY(row),
	}
}

// MarkCenter returns the bubble center for a row's present or absent mark.
func (s Schema) MarkCenter(row int, present bool) Point {
	x := s.Grid.AbsentX
	if present {
		x = s.Grid.PresentX
	}
	return Point{X: x, Y: s.RowY(row)}
}

// CodePayload is the session code as printed into the sheet's QR:
// version, course, lecture and date joined with pipes.
func CodePayload(course, lecture string, date time.Time) string {
	return strings.Join([]string{Version, course, lecture, date.Format("2006-01-02")}, "|")
}
