package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/services"
)

var (
	ingestorInstance *services.IngestorFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework will handle routing the event here.
	functions.CloudEvent("IngestScan", ingestScan)
}

// main is required by the Go Functions Framework.
func main() {}

// ingestScan is the Cloud Function entry point for scans dropped into the
// intake bucket.
func ingestScan(ctx context.Context, e cloudevents.Event) error {
	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		ingestorInstance, initErr = services.NewIngestor(context.Background())
	})
	if initErr != nil {
		// If initialization fails, log the fatal error and the function will terminate.
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	// Unmarshal the event's data payload into our specific struct.
	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Delegate the actual processing to our business logic method.
	return ingestorInstance.Process(ctx, gcsEvent)
}
