package raster

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestFromImageLuma(t *testing.T) {
	cases := []struct {
		name string
		c    color.Color
		want uint8
	}{
		{"black", color.RGBA{0, 0, 0, 255}, 0},
		{"white", color.RGBA{255, 255, 255, 255}, 255},
		{"pure red", color.RGBA{255, 0, 0, 255}, 76},
		{"pure green", color.RGBA{0, 255, 0, 255}, 149},
		{"pure blue", color.RGBA{0, 0, 255, 255}, 29},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img := image.NewRGBA(image.Rect(0, 0, 2, 2))
			for y := 0; y < 2; y++ {
				for x := 0; x < 2; x++ {
					img.Set(x, y, tc.c)
				}
			}
			g := FromImage(img)
			if got := g.Gray(1, 1); got != tc.want {
				t.Fatalf("luma = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFromImageGrayFastPath(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			src.SetGray(x, y, color.Gray{Y: uint8(10*y + x)})
		}
	}
	g := FromImage(src)
	if g.W != 4 || g.H != 3 {
		t.Fatalf("dims = %dx%d, want 4x3", g.W, g.H)
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			if got, want := g.Gray(x, y), uint8(10*y+x); got != want {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestGrayOutOfRangeReadsWhite(t *testing.T) {
	g := NewGrayscale(2, 2)
	g.Set(0, 0, 0)
	for _, p := range []image.Point{{-1, 0}, {0, -1}, {2, 0}, {0, 2}} {
		if got := g.Gray(p.X, p.Y); got != 0xff {
			t.Fatalf("Gray(%d,%d) = %d, want 255", p.X, p.Y, got)
		}
	}
}

func TestCrop(t *testing.T) {
	g := NewGrayscale(10, 10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			g.Set(x, y, uint8(y*10+x))
		}
	}
	sub := g.Crop(image.Rect(3, 4, 7, 9))
	if sub.W != 4 || sub.H != 5 {
		t.Fatalf("crop dims = %dx%d, want 4x5", sub.W, sub.H)
	}
	if got, want := sub.Gray(0, 0), uint8(43); got != want {
		t.Fatalf("crop origin = %d, want %d", got, want)
	}
	if got, want := sub.Gray(3, 4), uint8(86); got != want {
		t.Fatalf("crop corner = %d, want %d", got, want)
	}

	clamped := g.Crop(image.Rect(8, 8, 20, 20))
	if clamped.W != 2 || clamped.H != 2 {
		t.Fatalf("clamped crop dims = %dx%d, want 2x2", clamped.W, clamped.H)
	}
}

func TestIntegralMatchesBruteForce(t *testing.T) {
	g := NewGrayscale(13, 9)
	for i := range g.Pix {
		g.Pix[i] = uint8((i * 37) % 251)
	}
	it := NewIntegral(g)

	boxes := [][4]int{
		{0, 0, 13, 9},
		{0, 0, 1, 1},
		{3, 2, 9, 7},
		{-5, -5, 4, 4},
		{10, 6, 30, 30},
	}
	for _, b := range boxes {
		var want uint64
		for y := max(b[1], 0); y < min(b[3], g.H); y++ {
			for x := max(b[0], 0); x < min(b[2], g.W); x++ {
				want += uint64(g.Pix[y*g.W+x])
			}
		}
		if got := it.Sum(b[0], b[1], b[2], b[3]); got != want {
			t.Fatalf("Sum%v = %d, want %d", b, got, want)
		}
	}
}

func TestIntegralMeanEmptyBox(t *testing.T) {
	it := NewIntegral(NewGrayscale(4, 4))
	if got := it.Mean(10, 10, 12, 12); got != 255 {
		t.Fatalf("mean of empty box = %v, want 255", got)
	}
}

func TestBinarizeSquareOnWhite(t *testing.T) {
	g := NewGrayscale(120, 120)
	for y := 40; y < 80; y++ {
		for x := 40; x < 80; x++ {
			g.Set(x, y, 20)
		}
	}
	bm := Binarize(g, 0.8, 0.15)

	if !bm.Get(60, 60) {
		t.Fatal("square center should be dark")
	}
	if bm.Get(10, 10) || bm.Get(110, 110) {
		t.Fatal("background should be light")
	}
}

func TestBinarizeHandlesShading(t *testing.T) {
	// Left-to-right lighting gradient with a dark dot on the darker side.
	// A global threshold would swallow the gradient; the adaptive one keeps
	// only the dot.
	g := NewGrayscale(200, 60)
	for y := 0; y < 60; y++ {
		for x := 0; x < 200; x++ {
			g.Set(x, y, uint8(140+x/4))
		}
	}
	for y := 28; y < 33; y++ {
		for x := 18; x < 23; x++ {
			g.Set(x, y, 10)
		}
	}
	bm := Binarize(g, 0.125, 0.15)

	if !bm.Get(20, 30) {
		t.Fatal("dot should survive binarization")
	}
	count := 0
	for y := 0; y < 60; y++ {
		for x := 100; x < 200; x++ {
			if bm.Get(x, y) {
				count++
			}
		}
	}
	if count != 0 {
		t.Fatalf("gradient side has %d dark pixels, want 0", count)
	}
}

func TestFindBlobs(t *testing.T) {
	bm := NewBitmap(60, 40)
	fill := func(x0, y0, x1, y1 int) {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				bm.Set(x, y, true)
			}
		}
	}
	fill(5, 5, 15, 15)   // 10x10 square
	fill(30, 10, 50, 14) // 20x4 bar
	bm.Set(58, 38, true) // speckle

	blobs := FindBlobs(bm, 2)
	if len(blobs) != 2 {
		t.Fatalf("got %d blobs, want 2", len(blobs))
	}

	sq := blobs[0]
	if sq.Area != 100 || sq.MinX != 5 || sq.MaxX != 14 {
		t.Fatalf("square blob = %+v", sq)
	}
	if math.Abs(sq.CX-9.5) > 1e-9 || math.Abs(sq.CY-9.5) > 1e-9 {
		t.Fatalf("square centroid = (%v,%v), want (9.5,9.5)", sq.CX, sq.CY)
	}
	if sq.Solidity() != 1 || sq.Aspect() != 1 {
		t.Fatalf("square solidity/aspect = %v/%v", sq.Solidity(), sq.Aspect())
	}

	bar := blobs[1]
	if bar.Width() != 20 || bar.Height() != 4 {
		t.Fatalf("bar dims = %dx%d, want 20x4", bar.Width(), bar.Height())
	}
	if bar.Aspect() != 5 {
		t.Fatalf("bar aspect = %v, want 5", bar.Aspect())
	}
}

func TestFindBlobsConnectivity(t *testing.T) {
	// Two squares touching only diagonally are separate regions under
	// 4-connectivity.
	bm := NewBitmap(10, 10)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			bm.Set(x, y, true)
			bm.Set(x+3, y+3, true)
		}
	}
	if got := len(FindBlobs(bm, 1)); got != 2 {
		t.Fatalf("got %d blobs, want 2", got)
	}
}
