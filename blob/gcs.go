package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCS stores objects in a Cloud Storage bucket, under an optional prefix.
type GCS struct {
	svc    *storage.Service
	bucket string
	prefix string
}

// NewGCS creates a client with credentials from credentialsFile, or from
// Application Default Credentials when it is empty.
func NewGCS(ctx context.Context, bucket, prefix, credentialsFile string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("blob: gcs backend requires a bucket")
	}
	opts := []option.ClientOption{option.WithScopes(storage.DevstorageReadWriteScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob: create gcs client: %w", err)
	}
	return &GCS{svc: svc, bucket: bucket, prefix: prefix}, nil
}

func (g *GCS) objectName(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if g.prefix == "" {
		return k, nil
	}
	return path.Join(g.prefix, k), nil
}

func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) error {
	name, err := g.objectName(key)
	if err != nil {
		return err
	}
	obj := &storage.Object{Name: name, ContentType: contentType}
	_, err = g.svc.Objects.Insert(g.bucket, obj).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("blob: upload gs://%s/%s: %w", g.bucket, name, err)
	}
	return nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	name, err := g.objectName(key)
	if err != nil {
		return nil, err
	}
	resp, err := g.svc.Objects.Get(g.bucket, name).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: download gs://%s/%s: %w", g.bucket, name, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
