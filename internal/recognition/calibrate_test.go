package recognition

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/raster"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

func TestCalibrateCleanPage(t *testing.T) {
	sc := sheet.Default()
	cfg := DefaultConfig()
	p := renderScanPage(t, sc, testPayload(), nil)

	frame, err := Calibrate(p.bitmap(cfg), sc, cfg)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if frame.Inverted {
		t.Error("upright page reported inverted")
	}
	if math.Abs(frame.PxPerMM-testPxPerMM) > 0.1 {
		t.Errorf("PxPerMM = %.3f, want about %g", frame.PxPerMM, testPxPerMM)
	}
	if frame.Quality < 0.9 {
		t.Errorf("Quality = %.3f, want at least 0.9", frame.Quality)
	}
	if math.Abs(frame.RotationDeg) > 0.5 {
		t.Errorf("RotationDeg = %.2f, want about 0", frame.RotationDeg)
	}
	for i, m := range sc.Markers {
		got := frame.T.Apply(m)
		want := Point{X: m.X * testPxPerMM, Y: m.Y * testPxPerMM}
		if math.Abs(got.X-want.X) > 2 || math.Abs(got.Y-want.Y) > 2 {
			t.Errorf("marker %d projects to (%.1f, %.1f), want (%.1f, %.1f)",
				i, got.X, got.Y, want.X, want.Y)
		}
	}
}

func TestCalibrateIsDeterministic(t *testing.T) {
	sc := sheet.Default()
	cfg := DefaultConfig()
	p := renderScanPage(t, sc, testPayload(), []studentRow{
		{row: 0, id: 14, present: true},
		{row: 1, id: 230, present: false},
	})
	bm := p.bitmap(cfg)

	f1, err := Calibrate(bm, sc, cfg)
	if err != nil {
		t.Fatalf("first Calibrate: %v", err)
	}
	f2, err := Calibrate(bm, sc, cfg)
	if err != nil {
		t.Fatalf("second Calibrate: %v", err)
	}
	if *f1 != *f2 {
		t.Errorf("repeated calibration differs:\n%+v\n%+v", *f1, *f2)
	}
	if c1, c2 := SampleGrid(bm, f1, sc, cfg), SampleGrid(bm, f2, sc, cfg); !reflect.DeepEqual(c1, c2) {
		t.Error("repeated sampling of the same page differs")
	}
}

func TestCalibrateToleratesSmallRotation(t *testing.T) {
	sc := sheet.Default()
	cfg := DefaultConfig()
	p := renderScanPage(t, sc, testPayload(), []studentRow{
		{row: 0, id: 7, present: true},
		{row: 5, id: 142, present: false},
		{row: 27, id: 999, present: true},
	})
	upright := decodePage(t, p.image(), sc, cfg)
	if len(upright.entries) != 3 {
		t.Fatalf("upright page decoded %d entries, want 3", len(upright.entries))
	}

	for _, deg := range []float64{-3, 3} {
		rotated := decodePage(t, rotateGray(p.image(), deg), sc, cfg)
		if got := math.Abs(rotated.frame.RotationDeg); math.Abs(got-3) > 1 {
			t.Errorf("rotation by %g deg estimated as %.2f", deg, rotated.frame.RotationDeg)
		}
		if rotated.frame.Inverted {
			t.Errorf("rotation by %g deg reported as inverted", deg)
		}
		if !entriesMatch(rotated.entries, upright.entries) {
			t.Errorf("entries after %g deg rotation differ from upright:\n%+v\n%+v",
				deg, rotated.entries, upright.entries)
		}
	}
}

func TestCalibrateInvertedPage(t *testing.T) {
	sc := sheet.Default()
	cfg := DefaultConfig()
	p := renderScanPage(t, sc, testPayload(), []studentRow{
		{row: 2, id: 47, present: true},
		{row: 13, id: 14, present: false},
	})
	upright := decodePage(t, p.image(), sc, cfg)

	flipped := decodePage(t, rotateGray(p.image(), 180), sc, cfg)
	if !flipped.frame.Inverted {
		t.Fatal("upside-down page not reported inverted")
	}
	if got := math.Abs(flipped.frame.RotationDeg); got > 1 {
		t.Errorf("residual rotation after inversion = %.2f, want about 0", flipped.frame.RotationDeg)
	}
	if !entriesMatch(flipped.entries, upright.entries) {
		t.Errorf("entries from inverted page differ from upright:\n%+v\n%+v",
			flipped.entries, upright.entries)
	}
}

func TestCalibrateRejects(t *testing.T) {
	tests := []struct {
		name string
		draw func(p *sheetPainter)
	}{
		{
			name: "blank page",
			draw: func(p *sheetPainter) {},
		},
		{
			name: "missing corner marker",
			draw: func(p *sheetPainter) {
				p.drawMarker(0)
				p.drawMarker(1)
				p.drawMarker(2)
				p.drawOrientMark()
			},
		},
		{
			name: "missing orientation mark",
			draw: func(p *sheetPainter) {
				for i := range p.sc.Markers {
					p.drawMarker(i)
				}
			},
		},
		{
			name: "displaced marker",
			draw: func(p *sheetPainter) {
				p.drawMarker(0)
				p.drawMarker(1)
				p.drawMarker(3)
				p.drawMarkerShifted(2, -6, 0)
				p.drawOrientMark()
			},
		},
	}
	sc := sheet.Default()
	cfg := DefaultConfig()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newSheetPainter(t, sc)
			tt.draw(p)
			_, err := Calibrate(p.bitmap(cfg), sc, cfg)
			if err == nil {
				t.Fatal("Calibrate succeeded on an unusable page")
			}
			if !errors.Is(err, ErrCalibration) {
				t.Errorf("error = %v, want ErrCalibration", err)
			}
		})
	}
}

func TestCalibrateRejectsQuarterTurn(t *testing.T) {
	sc := sheet.Default()
	sc.Page = sheet.Size{W: 200, H: 200}
	sc.Markers = [4]sheet.Point{
		{X: 12, Y: 12},
		{X: 188, Y: 12},
		{X: 188, Y: 188},
		{X: 12, Y: 188},
	}
	cfg := DefaultConfig()

	p := newSheetPainter(t, sc)
	p.drawFrame()
	bm := raster.Binarize(rotateGray(p.image(), 90), cfg.WindowFrac, cfg.Sensitivity)

	_, err := Calibrate(bm, sc, cfg)
	if err == nil {
		t.Fatal("quarter-turned page calibrated")
	}
	if !errors.Is(err, ErrCalibration) {
		t.Errorf("error = %v, want ErrCalibration", err)
	}
}

func TestCalibrateRotationGate(t *testing.T) {
	sc := sheet.Default()
	cfg := DefaultConfig()
	cfg.MaxRotationDeg = 2

	p := renderScanPage(t, sc, testPayload(), nil)
	bm := raster.Binarize(rotateGray(p.image(), 4), cfg.WindowFrac, cfg.Sensitivity)

	if _, err := Calibrate(bm, sc, cfg); err == nil {
		t.Fatal("rotation beyond the configured limit calibrated")
	} else if !errors.Is(err, ErrCalibration) {
		t.Errorf("error = %v, want ErrCalibration", err)
	}
}
