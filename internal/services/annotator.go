package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/gcp"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/models"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/store"
)

// AnnotatorConfig holds all configuration for the review-annotator service.
type AnnotatorConfig struct {
	ProjectID      string
	VertexAIRegion string
	CollectionName string
}

// AnnotatorFunction holds the dependencies for the review annotation logic.
type AnnotatorFunction struct {
	vertexClient *gcp.VertexClient
	jobs         *store.FirestoreJobs
	config       AnnotatorConfig
}

// loadAnnotatorConfig loads and validates all necessary environment variables for this service.
func loadAnnotatorConfig() (*AnnotatorConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	return &AnnotatorConfig{
		ProjectID:      projectID,
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "scan-jobs"),
	}, nil
}

// NewAnnotator creates a new AnnotatorFunction instance.
func NewAnnotator(ctx context.Context) (*AnnotatorFunction, error) {
	config, err := loadAnnotatorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	return &AnnotatorFunction{
		vertexClient: vertexClient,
		jobs:         store.NewFirestoreJobs(firestoreClient, config.CollectionName),
		config:       *config,
	}, nil
}

// reviewNotePayload is what the model is instructed to return.
type reviewNotePayload struct {
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
}

// Process inspects one unreadable page snapshot and attaches a human-readable
// review note to the job document.
func (f *AnnotatorFunction) Process(ctx context.Context, req *models.ReviewAnnotatorRequest) (*models.ReviewAnnotatorResponse, error) {
	log.Printf("[Job: %s][Page: %d][Exec: %s] Starting review annotation.", req.JobID, req.PageNumber, req.ExecutionID)

	model := f.vertexClient.ReviewModel
	prompt := genai.Text(fmt.Sprintf(gcp.ReviewUserPromptFmt, req.ErrorKind, req.Detail))
	filePart := genai.FileData{
		MIMEType: "image/png",
		FileURI:  req.SnapshotURI,
	}

	geminiResp, err := model.GenerateContent(ctx, filePart, prompt)
	if err != nil {
		log.Printf("[Job: %s][Page: %d][Exec: %s] ERROR calling Vertex AI: %v", req.JobID, req.PageNumber, req.ExecutionID, err)
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	rawNote := f.extractResponseText(geminiResp, req)

	// Sanity check for LLM refusal. If the model refuses to answer, we must fail fast.
	refusalPhrases := []string{
		"i am unable to",
		"i cannot fulfill",
		"i cannot answer",
		"i cannot provide",
		"as a large language model",
	}
	lowerNote := strings.ToLower(rawNote)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lowerNote, phrase) {
			err := fmt.Errorf("gemini response indicates refusal for page %d", req.PageNumber)
			log.Printf("[Job: %s][Page: %d][Exec: %s] ERROR: %v. Response: '%s'", req.JobID, req.PageNumber, req.ExecutionID, err, rawNote)
			return nil, err // This will fail the step in the workflow.
		}
	}

	var payload reviewNotePayload
	if err := json.Unmarshal([]byte(rawNote), &payload); err != nil {
		log.Printf("[Job: %s][Page: %d][Exec: %s] ERROR: Response is not the expected JSON object: %v. Response: '%s'", req.JobID, req.PageNumber, req.ExecutionID, err, rawNote)
		return nil, fmt.Errorf("failed to parse annotator response: %w", err)
	}
	if payload.Summary == "" {
		return nil, fmt.Errorf("annotator response for page %d carries no summary", req.PageNumber)
	}

	severity := strings.ToUpper(strings.TrimSpace(payload.Severity))
	switch severity {
	case "LOW", "MEDIUM", "HIGH":
	default:
		log.Printf("[Job: %s][Page: %d][Exec: %s] WARNING: Unexpected severity %q, recording as MEDIUM.", req.JobID, req.PageNumber, req.ExecutionID, payload.Severity)
		severity = "MEDIUM"
	}

	note := models.ReviewNote{
		Page:      req.PageNumber,
		Severity:  severity,
		Summary:   payload.Summary,
		CreatedAt: time.Now(),
	}
	if err := f.jobs.AddReviewNote(ctx, req.JobID, note); err != nil {
		log.Printf("[Job: %s][Page: %d][Exec: %s] ERROR: Failed to attach review note: %v", req.JobID, req.PageNumber, req.ExecutionID, err)
		return nil, err
	}

	log.Printf("[Job: %s][Page: %d][Exec: %s] Annotation complete. Severity: %s", req.JobID, req.PageNumber, req.ExecutionID, severity)
	return &models.ReviewAnnotatorResponse{
		Status:   "success",
		Severity: severity,
		Summary:  payload.Summary,
	}, nil
}

// extractResponseText parses the model's response and robustly extracts text content.
func (f *AnnotatorFunction) extractResponseText(resp *genai.GenerateContentResponse, req *models.ReviewAnnotatorRequest) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var content strings.Builder
	var textPartsFound int
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			content.WriteString(string(txt))
			textPartsFound++
		}
	}

	if textPartsFound > 1 {
		log.Printf("[Job: %s][Page: %d][Exec: %s] WARNING: Gemini response contained %d text parts; they have been concatenated.", req.JobID, req.PageNumber, req.ExecutionID, textPartsFound)
	}

	contentStr := strings.TrimSpace(content.String())
	contentStr = strings.TrimPrefix(contentStr, "```json")
	contentStr = strings.TrimPrefix(contentStr, "```")
	contentStr = strings.TrimSuffix(contentStr, "```")
	return strings.TrimSpace(contentStr)
}
