package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/models"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/recognition"
)

// FirestoreJobs keeps scan job documents current through the pipeline
// lifecycle. It implements recognition.JobRecorder.
type FirestoreJobs struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreJobs wraps a Firestore client for the given job collection.
func NewFirestoreJobs(client *firestore.Client, collection string) *FirestoreJobs {
	return &FirestoreJobs{client: client, collection: collection}
}

func (s *FirestoreJobs) doc(jobID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(jobID)
}

// Create writes the initial RECEIVED document for a new job. Job IDs are
// fresh UUIDs, so an existing document is a caller bug and fails.
func (s *FirestoreJobs) Create(ctx context.Context, jobID string, job models.ScanJob) error {
	now := time.Now()
	job.Status = string(recognition.StateReceived)
	job.CreatedAt = now
	job.UpdatedAt = now
	if _, err := s.doc(jobID).Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job document %s: %w", jobID, err)
	}
	return nil
}

// RecordTransition updates the job's status as the pipeline advances.
func (s *FirestoreJobs) RecordTransition(ctx context.Context, jobID string, state recognition.JobState, detail string) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(state)},
		{Path: "updatedAt", Value: time.Now()},
	}
	if detail != "" {
		updates = append(updates, firestore.Update{Path: "statusDetail", Value: detail})
	}
	_, err := s.doc(jobID).Update(ctx, updates)
	return err
}

// SaveOutcome records the terminal result on the job document. A non-empty
// storeWriteErr notes that the attendance store rejected the records even
// though recognition itself succeeded.
func (s *FirestoreJobs) SaveOutcome(ctx context.Context, jobID string, res *recognition.Result, storeWriteErr string) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(res.State)},
		{Path: "pageCount", Value: len(res.Pages)},
		{Path: "pages", Value: models.PageSummaries(res.Pages)},
		{Path: "totals", Value: models.TotalsOf(res.Totals)},
		{Path: "partial", Value: res.Partial},
		{Path: "updatedAt", Value: time.Now()},
	}
	if id := res.SessionID(); id != "" {
		updates = append(updates, firestore.Update{Path: "sessionId", Value: id})
	}
	if res.FailureKind != "" {
		updates = append(updates,
			firestore.Update{Path: "errorKind", Value: res.FailureKind},
			firestore.Update{Path: "errorDetails", Value: res.FailureDetail})
	}
	if storeWriteErr != "" {
		updates = append(updates, firestore.Update{Path: "storeWriteError", Value: storeWriteErr})
	}
	if _, err := s.doc(jobID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to save outcome for job %s: %w", jobID, err)
	}
	return nil
}

// FindByHash returns the job ID of an earlier submission with the same
// content hash, or "" when the content is new.
func (s *FirestoreJobs) FindByHash(ctx context.Context, fileHash string) (string, error) {
	iter := s.client.Collection(s.collection).
		Where("fileHash", "==", fileHash).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query jobs by file hash: %w", err)
	}
	return doc.Ref.ID, nil
}

// AddReviewNote appends an annotator finding to the job document.
func (s *FirestoreJobs) AddReviewNote(ctx context.Context, jobID string, note models.ReviewNote) error {
	_, err := s.doc(jobID).Update(ctx, []firestore.Update{
		{Path: "reviewNotes", Value: firestore.ArrayUnion(note)},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to add review note to job %s: %w", jobID, err)
	}
	return nil
}

// SetWorkflowExecution records the triage workflow execution handling this
// job, for traceability from the job document.
func (s *FirestoreJobs) SetWorkflowExecution(ctx context.Context, jobID, executionName string) error {
	_, err := s.doc(jobID).Update(ctx, []firestore.Update{
		{Path: "workflowExecutionId", Value: executionName},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to record workflow execution on job %s: %w", jobID, err)
	}
	return nil
}
