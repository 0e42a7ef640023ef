// Package archive writes content-addressed blobs (snapshot exports) to a
// filesystem directory, S3 or Google Cloud Storage.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/transmuter/pkg/config"
)

// ErrNotFound is returned by Get for an unknown hash.
var ErrNotFound = errors.New("archive: blob not found")

// Store is a content-addressed blob store. Hashes have the form
// "sha256:<hex>".
type Store interface {
	// Put persists data and returns its content hash. Storing the same
	// bytes twice is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// ContentHash returns the address of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// rawHash strips and checks the algorithm prefix.
func rawHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, "sha256:")
	if !ok || len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	return raw, nil
}

func objectKey(prefix, hash string) (string, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return "", err
	}
	return prefix + raw + ".json", nil
}

// Open returns the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "s3":
		if cfg.Bucket == "" {
			return nil, errors.New("archive: bucket is required for s3")
		}
		return NewS3Store(ctx, S3Config{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			Prefix:       cfg.Prefix,
			UsePathStyle: cfg.UsePathStyle,
		})
	case "gcs":
		if cfg.Bucket == "" {
			return nil, errors.New("archive: bucket is required for gcs")
		}
		return newGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("archive: unsupported backend %q", cfg.Backend)
	}
}
