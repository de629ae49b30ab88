package services

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/gcp"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

// loadSheetSchema fetches the sheet layout from the schema registry bucket.
// Services fall back to the built-in layout when no registry is configured,
// so local runs need no bucket at all.
func loadSheetSchema(ctx context.Context, client *storage.Client, bucket, object string) (sheet.Schema, error) {
	if bucket == "" || object == "" {
		return sheet.Default(), nil
	}
	data, err := gcp.ReadGCSObject(ctx, client.Bucket(bucket), object)
	if err != nil {
		return sheet.Schema{}, fmt.Errorf("failed to fetch sheet schema gs://%s/%s: %w", bucket, object, err)
	}
	sc, err := sheet.Parse(data)
	if err != nil {
		return sheet.Schema{}, fmt.Errorf("failed to parse sheet schema gs://%s/%s: %w", bucket, object, err)
	}
	slog.Info("Loaded sheet schema from registry.", "bucket", bucket, "object", object, "version", sc.Version)
	return sc, nil
}
