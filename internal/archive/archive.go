// Package archive keeps a copy of every uploaded file, on local disk or in a
// Google Cloud Storage bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Archive stores raw uploads keyed by document id.
type Archive interface {
	// Put stores data and returns the location it was written to. Storing
	// the same document twice is not an error.
	Put(ctx context.Context, docID, filename string, data []byte) (string, error)
	// Delete removes a stored upload. Missing objects are ignored.
	Delete(ctx context.Context, docID, filename string) error
	Close() error
}

// Open returns the archive for location:
//
//	""                 no archive (nil, nil)
//	gs://bucket/prefix Google Cloud Storage
//	file:///dir, /dir  local directory
func Open(ctx context.Context, location string) (Archive, error) {
	if location == "" {
		return nil, nil
	}
	if strings.HasPrefix(location, "gs://") {
		bucket, prefix, err := parseGCS(location)
		if err != nil {
			return nil, err
		}
		g, err := NewGCS(ctx, bucket, prefix)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parsing archive url: %w", err)
		}
		location = u.Path
	}
	l, err := NewLocal(location)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func parseGCS(location string) (bucket, prefix string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parsing archive url: %w", err)
	}
	if u.Host == "" {
		return "", "", errors.New("archive url has no bucket")
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// objectName is <prefix>/<docID>/<base filename>.
func objectName(prefix, docID, filename string) string {
	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		base = "upload.pdf"
	}
	return path.Join(prefix, docID, base)
}
