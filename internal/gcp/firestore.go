package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

// NewFirestoreClient creates and returns a new Firestore client for the given
// project ID. It centralizes client creation for all services; the optional
// FIRESTORE_DATABASE variable selects a named database instead of the default.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	if database := GetEnv("FIRESTORE_DATABASE", ""); database != "" {
		client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore client for database %s: %w", database, err)
		}
		return client, nil
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}
