package raster

// Blob is a 4-connected region of dark pixels.
type Blob struct {
	MinX, MinY int // inclusive bounds
	MaxX, MaxY int
	Area       int
	CX, CY     float64 // centroid
}

// Width returns the bounding box width in pixels.
func (b Blob) Width() int { return b.MaxX - b.MinX + 1 }

// Height returns the bounding box height in pixels.
func (b Blob) Height() int { return b.MaxY - b.MinY + 1 }

// Aspect returns width over height.
func (b Blob) Aspect() float64 { return float64(b.Width()) / float64(b.Height()) }

// Solidity returns how much of the bounding box the region fills. A filled
// square approaches 1, a ring or a glyph stays well below.
func (b Blob) Solidity() float64 {
	return float64(b.Area) / float64(b.Width()*b.Height())
}

// FindBlobs extracts all 4-connected dark regions with at least minArea
// pixels, in scan order. The flood fill is iterative, so page-sized regions
// cannot blow the stack.
func FindBlobs(bm *Bitmap, minArea int) []Blob {
	visited := make([]bool, bm.W*bm.H)
	var blobs []Blob
	var queue []int

	for start, dark := range bm.bits {
		if !dark || visited[start] {
			continue
		}
		blob := Blob{MinX: bm.W, MinY: bm.H, MaxX: -1, MaxY: -1}
		var sumX, sumY int

		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%bm.W, idx/bm.W

			blob.Area++
			sumX += x
			sumY += y
			blob.MinX = min(blob.MinX, x)
			blob.MaxX = max(blob.MaxX, x)
			blob.MinY = min(blob.MinY, y)
			blob.MaxY = max(blob.MaxY, y)

			if x > 0 && bm.bits[idx-1] && !visited[idx-1] {
				visited[idx-1] = true
				queue = append(queue, idx-1)
			}
			if x < bm.W-1 && bm.bits[idx+1] && !visited[idx+1] {
				visited[idx+1] = true
				queue = append(queue, idx+1)
			}
			if y > 0 && bm.bits[idx-bm.W] && !visited[idx-bm.W] {
				visited[idx-bm.W] = true
				queue = append(queue, idx-bm.W)
			}
			if y < bm.H-1 && bm.bits[idx+bm.W] && !visited[idx+bm.W] {
				visited[idx+bm.W] = true
				queue = append(queue, idx+bm.W)
			}
		}

		if blob.Area >= minArea {
			blob.CX = float64(sumX) / float64(blob.Area)
			blob.CY = float64(sumY) / float64(blob.Area)
			blobs = append(blobs, blob)
		}
	}
	return blobs
}
