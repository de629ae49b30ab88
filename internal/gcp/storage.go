package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// It's a shared utility for all services.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			log.Printf("SKIPPING: Object %s already exists.", objectName)
			return nil // Not a failure in an idempotent workflow.
		}
		log.Printf("ERROR: Failed to copy content to GCS object %s: %v", objectName, err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	// Small objects are buffered in full, so the precondition can also
	// surface on Close.
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			log.Printf("SKIPPING: Object %s already exists.", objectName)
			return nil
		}
		log.Printf("ERROR: Failed to close GCS writer for %s: %v", objectName, err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	gerr, ok := err.(*googleapi.Error)
	return ok && gerr.Code == 412
}

// ReadGCSObject downloads a full object into memory.
func ReadGCSObject(ctx context.Context, bucket *storage.BucketHandle, objectName string) ([]byte, error) {
	reader, err := bucket.Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %s: %w", objectName, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", objectName, err)
	}
	return data, nil
}
