package models

import "github.com/aliabd97/smart-attendance-system-sub001/internal/recognition"

// These structs define the JSON payloads for HTTP requests and responses
// between callers, the Cloud Workflow, and the worker Cloud Functions.

// SubmitScanRequest is the input for the scan-submitter function. Content is
// base64-encoded in the JSON body. SchemaVersion optionally declares which
// sheet layout generation the scan was printed from.
type SubmitScanRequest struct {
	Filename      string `json:"filename"`
	DeclaredType  string `json:"declaredType"`
	SchemaVersion string `json:"schemaVersion,omitempty"`
	SessionHint   string `json:"sessionHint,omitempty"`
	Content       []byte `json:"content"`
}

// SubmitScanResponse is the output of the scan-submitter function: the job
// identifier plus the outcome as far as the job got.
type SubmitScanResponse struct {
	JobID           string                         `json:"jobId"`
	Status          string                         `json:"status"`
	SessionID       string                         `json:"sessionId,omitempty"`
	ErrorKind       string                         `json:"errorKind,omitempty"`
	ErrorDetail     string                         `json:"errorDetail,omitempty"`
	StoreWriteError string                         `json:"storeWriteError,omitempty"`
	Partial         bool                           `json:"partial,omitempty"`
	Pages           []PageSummary                  `json:"pages,omitempty"`
	Records         []recognition.AttendanceRecord `json:"records,omitempty"`
	Unmatched       []recognition.UnmatchedEntry   `json:"unmatched,omitempty"`
	Totals          recognition.Tally              `json:"totals"`
}

// ReviewAnnotatorRequest is the input for the review-annotator function.
type ReviewAnnotatorRequest struct {
	JobID       string `json:"jobId"`
	PageNumber  int    `json:"pageNumber"`
	SnapshotURI string `json:"snapshotUri"`
	ErrorKind   string `json:"errorKind"`
	Detail      string `json:"detail,omitempty"`
	ExecutionID string `json:"executionId"`
}

// ReviewAnnotatorResponse is the output of the review-annotator function.
type ReviewAnnotatorResponse struct {
	Status   string `json:"status"`
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
}

// ReviewWorkflowArgument is the payload handed to the triage workflow when a
// job finishes with pages needing human attention.
type ReviewWorkflowArgument struct {
	JobID           string `json:"jobId"`
	SessionID       string `json:"sessionId,omitempty"`
	PageCount       int    `json:"pageCount"`
	UnreadablePages []int  `json:"unreadablePages"`
}
