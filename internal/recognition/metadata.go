package recognition

import (
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/raster"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

// SessionRef identifies one lecture sitting of one course.
type SessionRef struct {
	Course  string    `json:"course"`
	Lecture string    `json:"lecture"`
	Date    time.Time `json:"date"`
}

// ID renders the canonical session identifier, e.g. "CS204/L07/2026-03-14".
func (s SessionRef) ID() string {
	return fmt.Sprintf("%s/%s/%s", s.Course, s.Lecture, s.Date.Format("2006-01-02"))
}

// Equal compares course, lecture and calendar date.
func (s SessionRef) Equal(o SessionRef) bool {
	return s.Course == o.Course && s.Lecture == o.Lecture &&
		s.Date.Format("2006-01-02") == o.Date.Format("2006-01-02")
}

// IsZero reports an unset reference.
func (s SessionRef) IsZero() bool {
	return s.Course == "" && s.Lecture == "" && s.Date.IsZero()
}

// SessionMetadata is a session reference as read off a sheet, with the raw
// code text kept for audit.
type SessionMetadata struct {
	SessionRef
	Raw string `json:"raw,omitempty"`
}

// ExtractMetadata reads the sheet's session QR. The schema's code region is
// projected through the frame and tried first; if no code is found there the
// whole page is scanned before giving up. A code that decodes but declares a
// different layout generation fails with ErrUnsupportedSchemaVersion; an
// undecodable or malformed code fails with ErrMetadataUnreadable.
func ExtractMetadata(g *raster.Grayscale, frame *Frame, sc sheet.Schema) (*SessionMetadata, error) {
	if region := codeRegionBounds(frame, sc); region.Dx() >= 16 && region.Dy() >= 16 {
		if raw, err := decodeQR(g.Crop(region)); err == nil {
			return parseSessionCode(raw, sc.Version)
		}
	}
	raw, err := decodeQR(g)
	if err != nil {
		return nil, fmt.Errorf("%w: no readable code on page", ErrMetadataUnreadable)
	}
	return parseSessionCode(raw, sc.Version)
}

// codeRegionBounds projects the schema's code rect into pixels and pads it
// so a slightly misprinted or skewed code still lands inside the crop.
func codeRegionBounds(frame *Frame, sc sheet.Schema) image.Rectangle {
	r := sc.CodeRegion
	corners := []sheet.Point{
		{X: r.X, Y: r.Y},
		{X: r.X + r.W, Y: r.Y},
		{X: r.X + r.W, Y: r.Y + r.H},
		{X: r.X, Y: r.Y + r.H},
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		p := frame.T.Apply(c)
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	margin := 4 * frame.PxPerMM
	return image.Rect(
		int(minX-margin), int(minY-margin),
		int(maxX+margin)+1, int(maxY+margin)+1,
	)
}

func decodeQR(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return result.GetText(), nil
}

// parseSessionCode validates a decoded payload against the expected layout
// generation and splits it into its session fields.
func parseSessionCode(raw, version string) (*SessionMetadata, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: malformed session code %q", ErrMetadataUnreadable, raw)
	}
	if parts[0] != version {
		if strings.HasPrefix(parts[0], "ATS") {
			return nil, fmt.Errorf("%w: sheet printed for %q, this build reads %q",
				ErrUnsupportedSchemaVersion, parts[0], version)
		}
		return nil, fmt.Errorf("%w: unrecognized code prefix %q", ErrMetadataUnreadable, parts[0])
	}
	course, lecture := strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
	if course == "" || lecture == "" {
		return nil, fmt.Errorf("%w: session code missing course or lecture", ErrMetadataUnreadable)
	}
	date, err := time.Parse("2006-01-02", parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: bad session date %q", ErrMetadataUnreadable, parts[3])
	}
	return &SessionMetadata{
		SessionRef: SessionRef{Course: course, Lecture: lecture, Date: date},
		Raw:        raw,
	}, nil
}

// ParseSessionHint parses a caller-declared session of the form
// "course|lecture|YYYY-MM-DD".
func ParseSessionHint(hint string) (SessionRef, error) {
	parts := strings.Split(hint, "|")
	if len(parts) != 3 {
		return SessionRef{}, fmt.Errorf("session hint %q is not course|lecture|date", hint)
	}
	course, lecture := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if course == "" || lecture == "" {
		return SessionRef{}, fmt.Errorf("session hint %q missing course or lecture", hint)
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(parts[2]))
	if err != nil {
		return SessionRef{}, fmt.Errorf("session hint date: %w", err)
	}
	return SessionRef{Course: course, Lecture: lecture, Date: date}, nil
}
