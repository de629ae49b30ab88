package recognition

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RosterLookup resolves the enrolled student list for a session. The
// pipeline calls it exactly once per job, after the session is known and
// before any sampling work starts.
type RosterLookup interface {
	Roster(ctx context.Context, session SessionRef) ([]string, error)
}

// AttendanceStore persists a job's reconciled output. Implementations do not
// retry; a failed write is reported to the caller as its own condition,
// separate from any recognition failure.
type AttendanceStore interface {
	SaveRecords(ctx context.Context, session SessionRef, records []AttendanceRecord, unmatched []UnmatchedEntry) error
}

// RecordStatus is the final disposition for one roster student.
type RecordStatus string

const (
	StatusPresent    RecordStatus = "PRESENT"
	StatusAbsent     RecordStatus = "ABSENT"
	StatusUnresolved RecordStatus = "UNRESOLVED"
	StatusDuplicate  RecordStatus = "DUPLICATE"
)

// AttendanceRecord is the pipeline's final output for one roster student.
// Page and Row point at the source sheet row for audit (1-based; zero when
// no row produced the record).
type AttendanceRecord struct {
	Session    SessionRef   `json:"session"`
	StudentID  string       `json:"studentId"`
	Status     RecordStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	Confidence float64      `json:"confidence"`
	Page       int          `json:"page,omitempty"`
	Row        int          `json:"row,omitempty"`
}

// UnmatchedEntry is a decoded row that could not be attributed to a roster
// student, kept for audit rather than dropped.
type UnmatchedEntry struct {
	StudentID  string     `json:"studentId,omitempty"`
	Page       int        `json:"page"`
	Row        int        `json:"row"`
	Attendance Attendance `json:"attendance"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
}

// Tally aggregates a job's record statuses.
type Tally struct {
	Present    int `json:"present"`
	Absent     int `json:"absent"`
	Unresolved int `json:"unresolved"`
	Duplicate  int `json:"duplicate"`
	Unmatched  int `json:"unmatched"`
}

// Reconcile joins decoded entries against the roster. Every roster student
// yields exactly one record: matched once with a clean mark it becomes
// PRESENT or ABSENT; matched once with an ambiguous or missing mark it stays
// UNRESOLVED; matched on several rows it becomes DUPLICATE with every source
// row named, because conflicting rows are flagged, never merged. Entries
// matching no roster student, and rows whose identifier never resolved, come
// back as unmatched.
func Reconcile(session SessionRef, roster []string, entries []Entry) ([]AttendanceRecord, []UnmatchedEntry, Tally) {
	byID := make(map[string][]Entry)
	var unresolvedRows []Entry
	for _, e := range entries {
		if e.StudentID == "" {
			unresolvedRows = append(unresolvedRows, e)
			continue
		}
		byID[e.StudentID] = append(byID[e.StudentID], e)
	}

	var tally Tally
	records := make([]AttendanceRecord, 0, len(roster))
	for _, student := range roster {
		es := byID[student]
		delete(byID, student)
		rec := AttendanceRecord{Session: session, StudentID: student}

		switch {
		case len(es) == 0:
			rec.Status = StatusUnresolved
			rec.Reason = "not found on submitted sheets"
			tally.Unresolved++

		case len(es) == 1:
			e := es[0]
			rec.Confidence = e.Confidence
			rec.Page, rec.Row = e.Page, e.Row+1
			switch e.Attendance {
			case AttendancePresent:
				rec.Status = StatusPresent
				tally.Present++
			case AttendanceAbsent:
				rec.Status = StatusAbsent
				tally.Absent++
			case AttendanceAmbiguous:
				rec.Status = StatusUnresolved
				rec.Reason = "ambiguous attendance mark"
				rec.Confidence = 0
				tally.Unresolved++
			default:
				rec.Status = StatusUnresolved
				rec.Reason = "attendance mark empty"
				rec.Confidence = 0
				tally.Unresolved++
			}

		default:
			rec.Status = StatusDuplicate
			rec.Reason = "marked on several rows: " + rowList(es)
			rec.Page, rec.Row = es[0].Page, es[0].Row+1
			tally.Duplicate++
		}
		records = append(records, rec)
	}

	var unmatched []UnmatchedEntry
	leftover := make([]string, 0, len(byID))
	for id := range byID {
		leftover = append(leftover, id)
	}
	sort.Strings(leftover)
	for _, id := range leftover {
		for _, e := range byID[id] {
			unmatched = append(unmatched, UnmatchedEntry{
				StudentID:  id,
				Page:       e.Page,
				Row:        e.Row + 1,
				Attendance: e.Attendance,
				Confidence: e.Confidence,
				Reason:     "student not on roster",
			})
		}
	}
	for _, e := range unresolvedRows {
		unmatched = append(unmatched, UnmatchedEntry{
			Page:       e.Page,
			Row:        e.Row + 1,
			Attendance: e.Attendance,
			Confidence: e.Confidence,
			Reason:     "student identifier unresolved",
		})
	}
	sort.Slice(unmatched, func(i, j int) bool {
		if unmatched[i].Page != unmatched[j].Page {
			return unmatched[i].Page < unmatched[j].Page
		}
		return unmatched[i].Row < unmatched[j].Row
	})
	tally.Unmatched = len(unmatched)

	return records, unmatched, tally
}

func rowList(es []Entry) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = fmt.Sprintf("page %d row %d", e.Page, e.Row+1)
	}
	return strings.Join(parts, ", ")
}
