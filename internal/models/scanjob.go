package models

import (
	"time"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/recognition"
)

// ScanJob represents the main record for a scan processing job in Firestore.
// It tracks the overall status and outcome of one submitted file.
type ScanJob struct {
	FileHash            string        `firestore:"fileHash,omitempty"`
	OriginalFilename    string        `firestore:"originalFilename,omitempty"`
	DeclaredType        string        `firestore:"declaredType,omitempty"`
	SourceURI           string        `firestore:"sourceUri,omitempty"`
	SessionHint         string        `firestore:"sessionHint,omitempty"`
	SessionID           string        `firestore:"sessionId,omitempty"`
	Status              string        `firestore:"status,omitempty"`
	StatusDetail        string        `firestore:"statusDetail,omitempty"`
	ErrorKind           string        `firestore:"errorKind,omitempty"`
	ErrorDetails        string        `firestore:"errorDetails,omitempty"`
	StoreWriteError     string        `firestore:"storeWriteError,omitempty"`
	Partial             bool          `firestore:"partial,omitempty"`
	PageCount           int           `firestore:"pageCount,omitempty"`
	Pages               []PageSummary `firestore:"pages,omitempty"`
	Totals              *RecordTotals `firestore:"totals,omitempty"`
	ReviewNotes         []ReviewNote  `firestore:"reviewNotes,omitempty"`
	WorkflowExecutionID string        `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time     `firestore:"createdAt,omitempty"`
	UpdatedAt           time.Time     `firestore:"updatedAt,omitempty"`
}

// PageSummary is the per-page outcome as stored on the job record.
type PageSummary struct {
	Page      int     `firestore:"page" json:"page"`
	Status    string  `firestore:"status" json:"status"`
	ErrorKind string  `firestore:"errorKind,omitempty" json:"errorKind,omitempty"`
	Detail    string  `firestore:"detail,omitempty" json:"detail,omitempty"`
	Quality   float64 `firestore:"quality,omitempty" json:"quality,omitempty"`
	Entries   int     `firestore:"entries,omitempty" json:"entries,omitempty"`
	BlankRows int     `firestore:"blankRows,omitempty" json:"blankRows,omitempty"`
}

// RecordTotals is the reconciliation tally as stored on the job record.
type RecordTotals struct {
	Present    int `firestore:"present" json:"present"`
	Absent     int `firestore:"absent" json:"absent"`
	Unresolved int `firestore:"unresolved" json:"unresolved"`
	Duplicate  int `firestore:"duplicate" json:"duplicate"`
	Unmatched  int `firestore:"unmatched" json:"unmatched"`
}

// ReviewNote is one annotator finding attached to a job for the admin UI.
type ReviewNote struct {
	Page      int       `firestore:"page" json:"page"`
	Severity  string    `firestore:"severity" json:"severity"`
	Summary   string    `firestore:"summary" json:"summary"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
}

// PageSummaries converts pipeline page outcomes into their stored form.
func PageSummaries(pages []recognition.PageOutcome) []PageSummary {
	if len(pages) == 0 {
		return nil
	}
	out := make([]PageSummary, len(pages))
	for i, p := range pages {
		out[i] = PageSummary{
			Page:      p.Page,
			Status:    p.Status,
			ErrorKind: p.ErrorKind,
			Detail:    p.Detail,
			Quality:   p.Quality,
			Entries:   p.Entries,
			BlankRows: p.BlankRows,
		}
	}
	return out
}

// TotalsOf converts a reconciliation tally into its stored form.
func TotalsOf(t recognition.Tally) *RecordTotals {
	return &RecordTotals{
		Present:    t.Present,
		Absent:     t.Absent,
		Unresolved: t.Unresolved,
		Duplicate:  t.Duplicate,
		Unmatched:  t.Unmatched,
	}
}
