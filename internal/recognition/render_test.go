package recognition

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/raster"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

// testPxPerMM is the resolution synthetic pages are rendered at, roughly a
// 200 dpi scan.
const testPxPerMM = 8.0

const inkShade = 20

func testSession() SessionRef {
	return SessionRef{
		Course:  "CS204",
		Lecture: "L07",
		Date:    time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}
}

func testPayload() string {
	s := testSession()
	return sheet.CodePayload(s.Course, s.Lecture, s.Date)
}

// sheetPainter renders synthetic scans: dark ink on a white page. Tests
// compose pages from the same schema geometry the pipeline reads them with.
type sheetPainter struct {
	t  *testing.T
	sc sheet.Schema
	g  *raster.Grayscale
}

func newSheetPainter(t *testing.T, sc sheet.Schema) *sheetPainter {
	t.Helper()
	w := int(math.Round(sc.Page.W * testPxPerMM))
	h := int(math.Round(sc.Page.H * testPxPerMM))
	return &sheetPainter{t: t, sc: sc, g: raster.NewGrayscale(w, h)}
}

func (p *sheetPainter) image() *raster.Grayscale { return p.g }

func (p *sheetPainter) bitmap(cfg Config) *raster.Bitmap {
	return raster.Binarize(p.g, cfg.WindowFrac, cfg.Sensitivity)
}

func (p *sheetPainter) fillSquare(c sheet.Point, sizeMM float64) {
	half := sizeMM / 2
	x0 := int(math.Round((c.X - half) * testPxPerMM))
	x1 := int(math.Round((c.X + half) * testPxPerMM))
	y0 := int(math.Round((c.Y - half) * testPxPerMM))
	y1 := int(math.Round((c.Y + half) * testPxPerMM))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			p.g.Set(x, y, inkShade)
		}
	}
}

// annulus paints the ring between the two radii; inner 0 makes a full disc.
func (p *sheetPainter) annulus(c sheet.Point, outerMM, innerMM float64) {
	cx := c.X * testPxPerMM
	cy := c.Y * testPxPerMM
	ro := outerMM * testPxPerMM
	ri := innerMM * testPxPerMM
	for y := int(cy - ro); y <= int(cy+ro); y++ {
		for x := int(cx - ro); x <= int(cx+ro); x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			d := math.Hypot(dx, dy)
			if d <= ro && d >= ri {
				p.g.Set(x, y, inkShade)
			}
		}
	}
}

func (p *sheetPainter) drawMarker(i int) {
	p.fillSquare(p.sc.Markers[i], p.sc.MarkerSize)
}

func (p *sheetPainter) drawMarkerShifted(i int, dxMM, dyMM float64) {
	m := p.sc.Markers[i]
	p.fillSquare(sheet.Point{X: m.X + dxMM, Y: m.Y + dyMM}, p.sc.MarkerSize)
}

func (p *sheetPainter) drawOrientMark() {
	p.fillSquare(p.sc.OrientMark, p.sc.OrientSize)
}

// drawFrame prints the four corner markers and the orientation mark.
func (p *sheetPainter) drawFrame() {
	for i := range p.sc.Markers {
		p.drawMarker(i)
	}
	p.drawOrientMark()
}

// drawSessionCode renders payload as a QR filling the schema's code region.
func (p *sheetPainter) drawSessionCode(payload string) {
	p.t.Helper()
	w := int(p.sc.CodeRegion.W * testPxPerMM)
	h := int(p.sc.CodeRegion.H * testPxPerMM)
	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_MARGIN: 2,
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, w, h, hints)
	if err != nil {
		p.t.Fatalf("encoding session QR: %v", err)
	}
	x0 := int(p.sc.CodeRegion.X * testPxPerMM)
	y0 := int(p.sc.CodeRegion.Y * testPxPerMM)
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				p.g.Set(x0+x, y0+y, inkShade)
			}
		}
	}
}

// drawGridOutlines prints the empty bubble rings for every row, the way the
// blank form ships.
func (p *sheetPainter) drawGridOutlines() {
	const stroke = 0.3
	r := p.sc.Grid.BubbleDiam / 2
	for row := 0; row < p.sc.Grid.Rows; row++ {
		for f := 0; f < p.sc.Grid.Digits; f++ {
			for v := 0; v < digitValues; v++ {
				p.annulus(p.sc.DigitCenter(row, f, v), r, r-stroke)
			}
		}
		p.annulus(p.sc.MarkCenter(row, true), r, r-stroke)
		p.annulus(p.sc.MarkCenter(row, false), r, r-stroke)
	}
}

func (p *sheetPainter) fillBubble(c sheet.Point) {
	p.annulus(c, p.sc.Grid.BubbleDiam/2, 0)
}

// smudge paints the top half of a bubble, landing the fill ratio between
// the empty and marked thresholds.
func (p *sheetPainter) smudge(c sheet.Point) {
	cx := c.X * testPxPerMM
	cy := c.Y * testPxPerMM
	r := p.sc.Grid.BubbleDiam / 2 * testPxPerMM
	for y := int(cy - r); float64(y)+0.5 < cy; y++ {
		for x := int(cx - r); x <= int(cx+r); x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			if math.Hypot(dx, dy) <= r {
				p.g.Set(x, y, inkShade)
			}
		}
	}
}

func (p *sheetPainter) fillDigit(row, field, value int) {
	p.fillBubble(p.sc.DigitCenter(row, field, value))
}

func (p *sheetPainter) fillMark(row int, present bool) {
	p.fillBubble(p.sc.MarkCenter(row, present))
}

// fillStudentRow fills the ID digit bubbles for a numeric id plus one
// attendance mark.
func (p *sheetPainter) fillStudentRow(row, id int, present bool) {
	p.t.Helper()
	for f := p.sc.Grid.Digits - 1; f >= 0; f-- {
		p.fillDigit(row, f, id%10)
		id /= 10
	}
	if id != 0 {
		p.t.Fatalf("student id does not fit in %d digit fields", p.sc.Grid.Digits)
	}
	p.fillMark(row, present)
}

// studentRow is one filled grid row for renderScanPage.
type studentRow struct {
	row     int
	id      int
	present bool
}

// renderScanPage paints a complete upright page: frame, session code, grid
// outlines and the given filled rows.
func renderScanPage(t *testing.T, sc sheet.Schema, payload string, rows []studentRow) *sheetPainter {
	t.Helper()
	p := newSheetPainter(t, sc)
	p.drawFrame()
	p.drawSessionCode(payload)
	p.drawGridOutlines()
	for _, r := range rows {
		p.fillStudentRow(r.row, r.id, r.present)
	}
	return p
}

// rotateGray returns a copy of g rotated by deg around the page center,
// nearest neighbor, white where the source runs out.
func rotateGray(g *raster.Grayscale, deg float64) *raster.Grayscale {
	out := raster.NewGrayscale(g.W, g.H)
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx := float64(g.W) / 2
	cy := float64(g.H) / 2
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			sx := cx + cos*dx + sin*dy
			sy := cy - sin*dx + cos*dy
			out.Set(x, y, g.Gray(int(sx), int(sy)))
		}
	}
	return out
}

func encodePNG(t *testing.T, g *raster.Grayscale) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, g); err != nil {
		t.Fatalf("encoding page: %v", err)
	}
	return buf.Bytes()
}

// decoded bundles the per-page stage outputs for cross-checks between
// differently distorted renderings of the same sheet.
type decoded struct {
	frame   *Frame
	entries []Entry
}

func decodePage(t *testing.T, g *raster.Grayscale, sc sheet.Schema, cfg Config) decoded {
	t.Helper()
	bm := raster.Binarize(g, cfg.WindowFrac, cfg.Sensitivity)
	frame, err := Calibrate(bm, sc, cfg)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	cells := SampleGrid(bm, frame, sc, cfg)
	entries, _ := DecodeEntries(1, cells, sc, cfg)
	return decoded{frame: frame, entries: entries}
}

// entriesMatch compares decoded entries ignoring confidence, which shifts
// slightly under resampling.
func entriesMatch(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		x.Confidence, y.Confidence = 0, 0
		if x != y {
			return false
		}
	}
	return true
}

func findCell(t *testing.T, cells []Bubble, row int, kind FieldKind, field, value int) Bubble {
	t.Helper()
	for _, c := range cells {
		if c.Row == row && c.Kind == kind && c.Field == field && c.Value == value {
			return c
		}
	}
	t.Fatalf("no sampled cell for row %d kind %d field %d value %d", row, kind, field, value)
	return Bubble{}
}

// pages collects painter output for a fakeDoc.
func pages(ps ...*sheetPainter) []*raster.Grayscale {
	out := make([]*raster.Grayscale, len(ps))
	for i, p := range ps {
		out[i] = p.image()
	}
	return out
}

// fakeDoc serves pre-rendered pages as a multi-page document.
type fakeDoc struct {
	pages   []*raster.Grayscale
	pageErr map[int]error
	onPage  func(n int)
	closed  bool
}

func (d *fakeDoc) PageCount() int { return len(d.pages) }

func (d *fakeDoc) Page(ctx context.Context, n int) (*raster.Grayscale, error) {
	if d.onPage != nil {
		d.onPage(n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.pageErr[n]; err != nil {
		return nil, err
	}
	if n < 1 || n > len(d.pages) {
		return nil, fmt.Errorf("page %d out of range", n)
	}
	return d.pages[n-1], nil
}

func (d *fakeDoc) Close() error {
	d.closed = true
	return nil
}

type fakeRoster struct {
	students []string
	err      error
	calls    int
	sessions []SessionRef
	onLookup func()
}

func (r *fakeRoster) Roster(ctx context.Context, ses SessionRef) ([]string, error) {
	r.calls++
	r.sessions = append(r.sessions, ses)
	if r.onLookup != nil {
		r.onLookup()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.students, nil
}

type transition struct {
	state  JobState
	detail string
}

type fakeRecorder struct {
	transitions []transition
	err         error
}

func (r *fakeRecorder) RecordTransition(ctx context.Context, jobID string, state JobState, detail string) error {
	r.transitions = append(r.transitions, transition{state: state, detail: detail})
	return r.err
}

func (r *fakeRecorder) states() []JobState {
	out := make([]JobState, len(r.transitions))
	for i, tr := range r.transitions {
		out[i] = tr.state
	}
	return out
}
