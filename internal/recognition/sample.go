package recognition

import (
	"math"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/raster"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

// digitValues is the number of value bubbles per ID digit field.
const digitValues = 10

// FieldKind separates ID digit fields from the attendance mark pair.
type FieldKind uint8

const (
	FieldDigit FieldKind = iota
	FieldMark
)

// Mark bubble values within the attendance pair.
const (
	markBubblePresent = 0
	markBubbleAbsent  = 1
)

// Bubble is one sampled cell: its grid position, its logical meaning and the
// measured fill. Sampling is purely mechanical; interpretation happens in
// the decision engine.
type Bubble struct {
	Row       int       `json:"row"`
	Kind      FieldKind `json:"kind"`
	Field     int       `json:"field"`
	Value     int       `json:"value"`
	FillRatio float64   `json:"fillRatio"`
	Samples   int       `json:"samples"`
}

// SampleGrid projects every grid cell through the frame and measures its
// fill ratio against the binarized page. The sampled disc is shrunk by
// SampleShrink so the printed bubble outline never counts as ink. Cells are
// emitted row by row, digits first, then the mark pair.
func SampleGrid(bm *raster.Bitmap, frame *Frame, sc sheet.Schema, cfg Config) []Bubble {
	radius := sc.Grid.BubbleDiam / 2 * cfg.SampleShrink * frame.PxPerMM
	out := make([]Bubble, 0, sc.Grid.Rows*(sc.Grid.Digits*digitValues+2))

	for row := 0; row < sc.Grid.Rows; row++ {
		for field := 0; field < sc.Grid.Digits; field++ {
			for value := 0; value < digitValues; value++ {
				center := frame.T.Apply(sc.DigitCenter(row, field, value))
				fill, n := sampleDisc(bm, center, radius)
				out = append(out, Bubble{
					Row: row, Kind: FieldDigit, Field: field, Value: value,
					FillRatio: fill, Samples: n,
				})
			}
		}
		for _, value := range []int{markBubblePresent, markBubbleAbsent} {
			center := frame.T.Apply(sc.MarkCenter(row, value == markBubblePresent))
			fill, n := sampleDisc(bm, center, radius)
			out = append(out, Bubble{
				Row: row, Kind: FieldMark, Value: value,
				FillRatio: fill, Samples: n,
			})
		}
	}
	return out
}

// sampleDisc returns the dark fraction and pixel count of the disc around c.
// Pixels outside the page are not counted, so a cell clipped by a tight crop
// reports what it actually saw.
func sampleDisc(bm *raster.Bitmap, c Point, radius float64) (float64, int) {
	x0, x1 := int(math.Floor(c.X-radius)), int(math.Ceil(c.X+radius))
	y0, y1 := int(math.Floor(c.Y-radius)), int(math.Ceil(c.Y+radius))
	r2 := radius * radius

	dark, total := 0, 0
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx, dy := float64(x)-c.X, float64(y)-c.Y
			if dx*dx+dy*dy > r2 {
				continue
			}
			if x < 0 || y < 0 || x >= bm.W || y >= bm.H {
				continue
			}
			total++
			if bm.Get(x, y) {
				dark++
			}
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(dark) / float64(total), total
}
