package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/gcp"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/models"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/recognition"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/store"
)

// ErrInvalidRequest marks caller mistakes the HTTP layer answers with 400.
var ErrInvalidRequest = errors.New("invalid request")

// SubmitterConfig holds the environment configuration for the scan-submitter.
type SubmitterConfig struct {
	ProjectID       string
	CollectionName  string
	ArtifactsBucket string
	SchemaBucket    string
	SchemaObject    string
	PostgresDSN     string
}

// SubmitterFunction handles synchronous scan submissions: one HTTP request
// carries the scan, the response carries the reconciled attendance.
type SubmitterFunction struct {
	storageClient *storage.Client
	jobs          *store.FirestoreJobs
	records       *store.Postgres
	pipeline      *recognition.Pipeline
	schema        sheet.Schema
	config        SubmitterConfig
}

func loadSubmitterConfig() (SubmitterConfig, error) {
	config := SubmitterConfig{
		ProjectID:       gcp.GetEnv("PROJECT_ID", ""),
		CollectionName:  gcp.GetEnv("FIRESTORE_COLLECTION", "scan-jobs"),
		ArtifactsBucket: gcp.GetEnv("SCAN_ARTIFACTS_BUCKET", ""),
		SchemaBucket:    gcp.GetEnv("SHEET_SCHEMA_BUCKET", ""),
		SchemaObject:    gcp.GetEnv("SHEET_SCHEMA_OBJECT", ""),
		PostgresDSN:     gcp.GetEnv("POSTGRES_DSN", ""),
	}
	if config.ProjectID == "" {
		return config, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if config.PostgresDSN == "" {
		return config, fmt.Errorf("POSTGRES_DSN environment variable must be set")
	}
	return config, nil
}

// NewSubmitter creates the service and all of its clients from the
// environment.
func NewSubmitter(ctx context.Context) (*SubmitterFunction, error) {
	config, err := loadSubmitterConfig()
	if err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
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

	slog.Info("Scan submitter logic initialized.", "collection", config.CollectionName)
	return &SubmitterFunction{
		storageClient: storageClient,
		jobs:          jobs,
		records:       records,
		pipeline:      pipeline,
		schema:        schema,
		config:        config,
	}, nil
}

// Process runs one submission end to end and reports the outcome. A job that
// fails recognition still gets a response describing the failure; only
// invalid requests and infrastructure errors return an error.
func (f *SubmitterFunction) Process(ctx context.Context, req *models.SubmitScanRequest) (*models.SubmitScanResponse, error) {
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("%w: content is empty", ErrInvalidRequest)
	}
	if req.SchemaVersion != "" && req.SchemaVersion != f.schema.Version {
		return nil, fmt.Errorf("%w: sheets printed for schema %q cannot be read, this deployment reads %q",
			ErrInvalidRequest, req.SchemaVersion, f.schema.Version)
	}
	var hint *recognition.SessionRef
	if req.SessionHint != "" {
		ref, err := recognition.ParseSessionHint(req.SessionHint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		hint = &ref
	}

	jobID := uuid.NewString()
	logCtx := slog.With("jobId", jobID, "filename", req.Filename)
	logCtx.Info("Accepted scan submission.", "bytes", len(req.Content), "declaredType", req.DeclaredType)

	fileHash := contentHash(req.Content)
	existing, err := f.jobs.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	}
	if existing != "" {
		logCtx.Info("Duplicate submission detected.", "existingJobId", existing)
		return &models.SubmitScanResponse{JobID: existing, Status: "DUPLICATE"}, nil
	}

	job := models.ScanJob{
		FileHash:         fileHash,
		OriginalFilename: req.Filename,
		DeclaredType:     req.DeclaredType,
		SessionHint:      req.SessionHint,
	}
	if err := f.jobs.Create(ctx, jobID, job); err != nil {
		logCtx.Error("Failed to create job document", "error", err)
		return nil, err
	}
	f.archiveSource(ctx, logCtx, jobID, req)

	res, runErr := f.pipeline.Run(ctx, recognition.Submission{
		JobID:       jobID,
		Kind:        req.DeclaredType,
		Data:        req.Content,
		SessionHint: hint,
	})
	if runErr != nil {
		logCtx.Warn("Scan job did not reconcile.", "kind", res.FailureKind, "error", runErr)
	}

	storeErr := ""
	if res.State == recognition.StateReconciled {
		if err := f.records.SaveRecords(ctx, res.Session.SessionRef, res.Records, res.Unmatched); err != nil {
			storeErr = err.Error()
			logCtx.Error("Attendance store write failed.", "error", err)
		}
	}
	// The outcome write must land even when the caller has hung up.
	if err := f.jobs.SaveOutcome(context.WithoutCancel(ctx), jobID, res, storeErr); err != nil {
		logCtx.Error("CRITICAL: failed to save job outcome.", "error", err)
	}

	return submitResponse(jobID, res, storeErr), nil
}

// archiveSource keeps a copy of the submitted bytes next to the job's other
// artifacts. Archival is best effort: the scan is already in memory and the
// job proceeds without it.
func (f *SubmitterFunction) archiveSource(ctx context.Context, logCtx *slog.Logger, jobID string, req *models.SubmitScanRequest) {
	if f.config.ArtifactsBucket == "" {
		return
	}
	objectName := fmt.Sprintf("jobs/%s/source%s", jobID, extensionFor(req.DeclaredType))
	bucket := f.storageClient.Bucket(f.config.ArtifactsBucket)
	if err := gcp.SaveToGCSAtomically(ctx, bucket, objectName, req.Content); err != nil {
		logCtx.Warn("Source archival failed, continuing.", "object", objectName, "error", err)
		return
	}
	logCtx.Info("Archived source scan.", "object", objectName)
}

func submitResponse(jobID string, res *recognition.Result, storeErr string) *models.SubmitScanResponse {
	return &models.SubmitScanResponse{
		JobID:           jobID,
		Status:          string(res.State),
		SessionID:       res.SessionID(),
		ErrorKind:       res.FailureKind,
		ErrorDetail:     res.FailureDetail,
		StoreWriteError: storeErr,
		Partial:         res.Partial,
		Pages:           models.PageSummaries(res.Pages),
		Records:         res.Records,
		Unmatched:       res.Unmatched,
		Totals:          res.Totals,
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// extensionFor picks an archive filename extension from a declared type,
// which may be an extension or a MIME type.
func extensionFor(declared string) string {
	k := strings.ToLower(strings.TrimSpace(declared))
	k = strings.TrimPrefix(k, "image/")
	k = strings.TrimPrefix(k, "application/")
	k = strings.TrimPrefix(k, ".")
	switch k {
	case "jpg", "jpeg":
		return ".jpg"
	case "png", "bmp", "pdf":
		return "." + k
	case "tif", "tiff":
		return ".tiff"
	default:
		return ".bin"
	}
}
