package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/gcp"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/models"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/recognition"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/store"
)

// IngestorConfig holds the environment configuration for the sheet-ingestor.
type IngestorConfig struct {
	ProjectID        string
	ArtifactsBucket  string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
	SchemaBucket     string
	SchemaObject     string
	PostgresDSN      string
}

// IngestorFunction processes scans dropped into the intake bucket. It runs
// the recognition pipeline, stores the outcome, uploads per-page snapshots
// for review, and hands jobs with unreadable pages to the triage workflow.
type IngestorFunction struct {
	storageClient    *storage.Client
	executionsClient *executions.Client
	jobs             *store.FirestoreJobs
	records          *store.Postgres
	pipeline         *recognition.Pipeline
	schema           sheet.Schema
	config           IngestorConfig
}

// GCSEvent is the subset of the storage event payload the ingestor needs.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// NewIngestor creates the service and all of its clients from the
// environment.
func NewIngestor(ctx context.Context) (*IngestorFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	config := IngestorConfig{
		ProjectID:        projectID,
		ArtifactsBucket:  gcp.GetEnv("SCAN_ARTIFACTS_BUCKET", ""),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "scan-jobs"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "attendance-review-triage"),
		SchemaBucket:     gcp.GetEnv("SHEET_SCHEMA_BUCKET", ""),
		SchemaObject:     gcp.GetEnv("SHEET_SCHEMA_OBJECT", ""),
		PostgresDSN:      gcp.GetEnv("POSTGRES_DSN", ""),
	}
	if config.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	records, err := store.OpenPostgres(ctx, config.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open attendance store: %w", err)
	}
	schema, err := loadSheetSchema(ctx, storageClient, config.SchemaBucket, config.SchemaObject)
	if err != nil {
		return nil, err
	}

	jobs := store.NewFirestoreJobs(firestoreClient, config.CollectionName)
	pipeline := recognition.New(schema, recognition.DefaultConfig(), records,
		recognition.WithRecorder(jobs))

	f := &IngestorFunction{
		storageClient:    storageClient,
		executionsClient: executionsClient,
		jobs:             jobs,
		records:          records,
		pipeline:         pipeline,
		schema:           schema,
		config:           config,
	}
	slog.Info("Sheet ingestor logic initialized.", "workflowId", config.WorkflowID)
	return f, nil
}

// Process handles one dropped scan. Recognition failures are recorded on the
// job and complete the event; only infrastructure errors return an error so
// the platform retries.
func (f *IngestorFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing dropped scan.")

	data, err := gcp.ReadGCSObject(ctx, f.storageClient.Bucket(e.Bucket), e.Name)
	if err != nil {
		logCtx.Error("Failed to download scan", "error", err)
		return err
	}

	fileHash := contentHash(data)
	logCtx = logCtx.With("fileHash", fileHash)

	existing, err := f.jobs.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if existing != "" {
		logCtx.Info("Duplicate scan detected. Skipping.", "existingJobId", existing)
		return nil
	}

	meta := f.objectMetadata(ctx, logCtx, e)
	hint, hintRaw := parseSessionHintMeta(logCtx, meta["session-hint"])

	jobID := uuid.NewString()
	job := models.ScanJob{
		FileHash:         fileHash,
		OriginalFilename: path.Base(e.Name),
		DeclaredType:     kindFromName(e.Name),
		SourceURI:        fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name),
		SessionHint:      hintRaw,
	}
	if err := f.jobs.Create(ctx, jobID, job); err != nil {
		logCtx.Error("Failed to create job document", "error", err)
		return err
	}
	logCtx = logCtx.With("jobId", jobID)
	logCtx.Info("Created scan job.")

	// A drop declared against another layout generation fails before any
	// page work, exactly like an old version read off a sheet's code.
	if declared := meta["schema-version"]; declared != "" && declared != f.schema.Version {
		res := &recognition.Result{
			JobID:       jobID,
			State:       recognition.StateFailed,
			FailureKind: recognition.KindUnsupportedSchema,
			FailureDetail: fmt.Sprintf("sheets printed for schema %q cannot be read, this deployment reads %q",
				declared, f.schema.Version),
		}
		logCtx.Warn("Declared sheet schema is not supported.", "declared", declared)
		if err := f.jobs.SaveOutcome(ctx, jobID, res, ""); err != nil {
			logCtx.Error("CRITICAL: failed to save job outcome.", "error", err)
			return err
		}
		return nil
	}

	sub := recognition.Submission{
		JobID:       jobID,
		Kind:        job.DeclaredType,
		Data:        data,
		SessionHint: hint,
	}
	res, runErr := f.pipeline.Run(ctx, sub)

	storeErr := ""
	if res.State == recognition.StateReconciled {
		if err := f.records.SaveRecords(ctx, res.Session.SessionRef, res.Records, res.Unmatched); err != nil {
			storeErr = err.Error()
			logCtx.Error("Attendance store write failed.", "error", err)
		}
	}

	if err := f.uploadPageSnapshots(ctx, logCtx, jobID, sub); err != nil {
		logCtx.Warn("Page snapshot upload incomplete.", "error", err)
	}

	// The outcome write must land even when the event deadline has expired.
	if err := f.jobs.SaveOutcome(context.WithoutCancel(ctx), jobID, res, storeErr); err != nil {
		logCtx.Error("CRITICAL: failed to save job outcome.", "error", err)
		return err
	}

	if runErr != nil && res.FailureKind == recognition.KindCancelled {
		return runErr
	}

	if unreadable := res.UnreadablePages(); len(unreadable) > 0 {
		f.triggerReviewWorkflow(ctx, logCtx, jobID, res, unreadable)
	}

	logCtx.Info("Scan ingestion complete.", "state", string(res.State))
	return nil
}

// objectMetadata fetches the custom metadata set on the dropped object.
// Metadata only carries operator hints, so a read failure downgrades to an
// unhinted run instead of blocking the whole batch.
func (f *IngestorFunction) objectMetadata(ctx context.Context, logCtx *slog.Logger, e GCSEvent) map[string]string {
	attrs, err := f.storageClient.Bucket(e.Bucket).Object(e.Name).Attrs(ctx)
	if err != nil {
		logCtx.Warn("Could not read object metadata, proceeding without hints.", "error", err)
		return nil
	}
	return attrs.Metadata
}

// parseSessionHintMeta turns the operator-declared session metadata into a
// SessionRef. A malformed hint is dropped with a warning.
func parseSessionHintMeta(logCtx *slog.Logger, raw string) (*recognition.SessionRef, string) {
	if raw == "" {
		return nil, ""
	}
	ref, err := recognition.ParseSessionHint(raw)
	if err != nil {
		logCtx.Warn("Ignoring malformed session hint.", "hint", raw, "error", err)
		return nil, ""
	}
	return &ref, raw
}

// uploadPageSnapshots renders each page to PNG under the job's artifact
// prefix, for the review UI and the annotator. Rendering is sequential to
// bound memory; uploads fan out.
func (f *IngestorFunction) uploadPageSnapshots(ctx context.Context, logCtx *slog.Logger, jobID string, sub recognition.Submission) error {
	if f.config.ArtifactsBucket == "" {
		return nil
	}
	doc, err := recognition.Open(sub.Kind, sub.Data)
	if err != nil {
		return fmt.Errorf("reopening document for snapshots: %w", err)
	}
	defer doc.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	uploaded := 0
	for n := 1; n <= doc.PageCount(); n++ {
		gray, err := doc.Page(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logCtx.Warn("Skipping snapshot for page that would not rasterize.", "page", n, "error", err)
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, gray); err != nil {
			return fmt.Errorf("encoding page %d snapshot: %w", n, err)
		}
		objectName := fmt.Sprintf("jobs/%s/pages/%05d.png", jobID, n)
		content := buf.Bytes()
		uploaded++
		g.Go(func() error {
			return f.uploadSnapshot(gctx, objectName, content)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logCtx.Info("Uploaded page snapshots.", "count", uploaded)
	return nil
}

// uploadSnapshot writes one snapshot with retries. The atomic save treats an
// object that landed on an earlier attempt as success, so retries are
// idempotent.
func (f *IngestorFunction) uploadSnapshot(ctx context.Context, objectName string, content []byte) error {
	const maxRetries = 4
	backoff := 1 * time.Second
	var lastErr error

	bucket := f.storageClient.Bucket(f.config.ArtifactsBucket)
	for i := 0; i < maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
			defer cancel()
			return gcp.SaveToGCSAtomically(writeCtx, bucket, objectName, content)
		}()
		if err == nil {
			return nil // Success!
		}

		lastErr = err
		slog.Warn(
			"Snapshot upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", objectName, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Snapshot upload failed after all retries.", "gcsObject", objectName, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}

// triggerReviewWorkflow starts the triage workflow over the job's unreadable
// pages. The job itself is already safely recorded, so a failed trigger is
// logged and the event still completes.
func (f *IngestorFunction) triggerReviewWorkflow(ctx context.Context, logCtx *slog.Logger, jobID string, res *recognition.Result, unreadable []int) {
	logCtx.Info("Triggering review workflow.", "unreadablePages", unreadable)
	payload := models.ReviewWorkflowArgument{
		JobID:           jobID,
		SessionID:       res.SessionID(),
		PageCount:       len(res.Pages),
		UnreadablePages: unreadable,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		logCtx.Error("Failed to marshal workflow payload", "error", err)
		return
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s",
			f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := f.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		logCtx.Error("Failed to trigger review workflow execution", "error", err)
		return
	}
	if err := f.jobs.SetWorkflowExecution(ctx, jobID, exec.GetName()); err != nil {
		logCtx.Error("CRITICAL: failed to record workflow execution on job.", "error", err)
	}
}

// kindFromName derives the declared document type from the object name's
// extension. Extensionless drops are passed through empty and rejected by
// the document loader, which keeps the failure visible on the job.
func kindFromName(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}
