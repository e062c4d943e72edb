package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCS writes uploads to gs://bucket/prefix/<doc_id>/<filename>.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCS connects with Application Default Credentials.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), name: bucket, prefix: prefix}, nil
}

// Put writes the object only if it does not exist yet.
func (g *GCS) Put(ctx context.Context, docID, filename string, data []byte) (string, error) {
	name := objectName(g.prefix, docID, filename)
	uri := fmt.Sprintf("gs://%s/%s", g.name, name)

	w := g.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if preconditionFailed(err) {
			return uri, nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if preconditionFailed(err) {
			slog.Debug("archive object already exists", "uri", uri)
			return uri, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return uri, nil
}

func (g *GCS) Delete(ctx context.Context, docID, filename string) error {
	err := g.bucket.Object(objectName(g.prefix, docID, filename)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting archived upload: %w", err)
	}
	return nil
}

func (g *GCS) Close() error { return g.client.Close() }

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
