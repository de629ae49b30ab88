package recognition

import (
	"fmt"
	"strings"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

// FillState classifies one cell's measured fill against the dual threshold.
type FillState uint8

const (
	FillEmpty FillState = iota
	FillMarked
	FillAmbiguous
)

func classifyFill(ratio float64, cfg Config) FillState {
	switch {
	case ratio >= cfg.HighFillRatio:
		return FillMarked
	case ratio <= cfg.LowFillRatio:
		return FillEmpty
	default:
		return FillAmbiguous
	}
}

// Attendance is a row's resolved attendance mark.
type Attendance string

const (
	AttendanceNone      Attendance = "NONE"
	AttendancePresent   Attendance = "PRESENT"
	AttendanceAbsent    Attendance = "ABSENT"
	AttendanceAmbiguous Attendance = "AMBIGUOUS"
)

// Entry is one decoded student row.
type Entry struct {
	Page int `json:"page"`
	Row  int `json:"row"`

	// StudentID is empty unless every digit field of the row resolved.
	StudentID  string     `json:"studentId,omitempty"`
	Attendance Attendance `json:"attendance"`
	Confidence float64    `json:"confidence"`
}

type pickState uint8

const (
	pickResolved pickState = iota
	pickEmpty
	pickAmbiguous
)

type fieldPick struct {
	state      pickState
	value      int
	confidence float64
}

// resolveField applies the single-choice rule to one bubble group: exactly
// one marked cell resolves the field; none leaves it empty; several, or any
// ambiguous cell, makes the whole field ambiguous. The darker of two marked
// cells is never preferred.
func resolveField(cells []Bubble, cfg Config) fieldPick {
	marked, ambiguous := 0, 0
	value := -1
	best, second := 0.0, 0.0
	for _, c := range cells {
		switch classifyFill(c.FillRatio, cfg) {
		case FillMarked:
			marked++
			value = c.Value
		case FillAmbiguous:
			ambiguous++
		}
		if c.FillRatio > best {
			best, second = c.FillRatio, best
		} else if c.FillRatio > second {
			second = c.FillRatio
		}
	}
	switch {
	case ambiguous > 0 || marked > 1:
		return fieldPick{state: pickAmbiguous}
	case marked == 0:
		return fieldPick{state: pickEmpty}
	default:
		// Confidence is the separation between the chosen cell and the
		// runner-up beyond the minimum the thresholds already guarantee. A
		// barely-marked bubble next to a barely-clean one scores near zero,
		// a solid fill against blank neighbors near one.
		band := cfg.HighFillRatio - cfg.LowFillRatio
		conf := 1.0
		if band < 1 {
			conf = clamp01((best - second - band) / (1 - band))
		}
		return fieldPick{
			state:      pickResolved,
			value:      value,
			confidence: conf,
		}
	}
}

// DecodeEntries groups a page's sampled cells into per-row entries. Rows
// where every cell reads empty are blank (unused roster rows) and are
// skipped; the count of skipped rows is returned alongside the entries.
func DecodeEntries(page int, cells []Bubble, sc sheet.Schema, cfg Config) ([]Entry, int) {
	perRow := make([][]Bubble, sc.Grid.Rows)
	for _, c := range cells {
		if c.Row >= 0 && c.Row < sc.Grid.Rows {
			perRow[c.Row] = append(perRow[c.Row], c)
		}
	}

	var entries []Entry
	blanks := 0
	for row, rowCells := range perRow {
		if len(rowCells) == 0 {
			continue
		}
		entry, blank := decodeRow(page, row, rowCells, sc, cfg)
		if blank {
			blanks++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, blanks
}

func decodeRow(page, row int, cells []Bubble, sc sheet.Schema, cfg Config) (Entry, bool) {
	blank := true
	for _, c := range cells {
		if classifyFill(c.FillRatio, cfg) != FillEmpty {
			blank = false
			break
		}
	}
	if blank {
		return Entry{}, true
	}

	entry := Entry{Page: page, Row: row, Confidence: 1}

	// Student ID: every digit field must resolve, or the identifier stays
	// empty and the row confidence drops to zero.
	var digits strings.Builder
	resolvedID := true
	for field := 0; field < sc.Grid.Digits; field++ {
		var group []Bubble
		for _, c := range cells {
			if c.Kind == FieldDigit && c.Field == field {
				group = append(group, c)
			}
		}
		pick := resolveField(group, cfg)
		if pick.state != pickResolved {
			resolvedID = false
			entry.Confidence = 0
			continue
		}
		fmt.Fprintf(&digits, "%d", pick.value)
		entry.Confidence = min(entry.Confidence, pick.confidence)
	}
	if resolvedID {
		entry.StudentID = sc.IDPrefix + digits.String()
	} else {
		entry.StudentID = ""
	}

	// Attendance pair.
	var pair []Bubble
	for _, c := range cells {
		if c.Kind == FieldMark {
			pair = append(pair, c)
		}
	}
	pick := resolveField(pair, cfg)
	switch pick.state {
	case pickResolved:
		if pick.value == markBubblePresent {
			entry.Attendance = AttendancePresent
		} else {
			entry.Attendance = AttendanceAbsent
		}
		entry.Confidence = min(entry.Confidence, pick.confidence)
	case pickEmpty:
		entry.Attendance = AttendanceNone
		entry.Confidence = 0
	default:
		entry.Attendance = AttendanceAmbiguous
		entry.Confidence = 0
	}

	return entry, false
}
