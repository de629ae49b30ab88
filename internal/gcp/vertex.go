package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Review Annotator Model Prompts ---
const ReviewSystemPrompt = "You are a quality reviewer for scanned attendance sheets. You are shown one page image that the recognition pipeline could not fully read. Your task is to describe, for a human administrator, what is visibly wrong with the page. You must output your response as a single valid JSON object."
const ReviewUserPromptFmt = `The recognition pipeline flagged this page with error kind %q and detail %q.

Inspect the page image and report what a human should know before re-scanning or correcting the sheet. Typical problems include:

- Missing, smudged, or damaged corner markers.
- The page scanned upside down or sideways.
- A torn, folded, or cut-off edge.
- Handwriting or stray marks outside the bubbles.
- An unreadable, covered, or missing session code.
- Heavy skew, shadows, or motion blur.

Respond with a single JSON object with exactly two keys:
- "severity": one of "LOW", "MEDIUM", "HIGH". Use HIGH when the page must be re-scanned, MEDIUM when manual data entry is likely needed, LOW for cosmetic issues that did not block recognition.
- "summary": one or two sentences describing the visible problem and the recommended fix.

Do not include any text before or after the JSON object.`

// VertexClient holds the pre-configured generative models for our app.
type VertexClient struct {
	ReviewModel *genai.GenerativeModel
	baseClient  *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the review annotator model ---
	reviewModel := baseClient.GenerativeModel(GetEnv("REVIEW_MODEL_NAME", "gemini-1.5-flash"))
	reviewModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ReviewSystemPrompt)},
	}
	reviewModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for this model.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0), // Low temp for deterministic, structured output
	}
	reviewModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		ReviewModel: reviewModel,
		baseClient:  baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
