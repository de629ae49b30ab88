package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/models"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/services"
)

var (
	submitterInstance *services.SubmitterFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the HTTP function with the framework.
	functions.HTTP("HandleSubmitScan", handleSubmitScan)
}

// main is required by the Go Functions Framework.
func main() {}

// handleSubmitScan is the HTTP handler for synchronous scan submissions.
func handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		submitterInstance, initErr = services.NewSubmitter(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Submitter initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.SubmitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	// Jobs that fail recognition still answer 200 with the failure described
	// in the body; an error here means the request itself was unusable or an
	// upstream dependency is down.
	res, err := submitterInstance.Process(r.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
