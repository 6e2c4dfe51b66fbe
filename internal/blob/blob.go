// Package blob persists raw page HTML outside the relational store. The
// normalized content row keeps only the returned URI.
package blob

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/seolens/crawler/internal/config"
)

// Store writes an artifact and returns a URI that resolves to it later.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// FromConfig selects a Store implementation based on the configured provider.
func FromConfig(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return NewGCSStore(client, cfg.GCSBucket)
	case "local":
		return NewLocalStore(cfg.LocalDir)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// PagePath builds the canonical object path for a crawled page's raw HTML.
func PagePath(projectID, jobID, pageID string) string {
	return fmt.Sprintf("projects/%s/jobs/%s/pages/%s.html", projectID, jobID, pageID)
}
