package export

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive keeps a copy of every generated export in S3-compatible object
// storage, one object per download, so practices can retrieve past exports.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to the object store and ensures the bucket exists.
func NewArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Archive{client: client, bucket: bucket}, nil
}

// Store uploads one export result under exports/<itemID>/<timestamp>-<filename>.
func (a *Archive) Store(ctx context.Context, itemID string, res *Result) error {
	objectName := fmt.Sprintf("exports/%s/%s-%s", itemID, time.Now().UTC().Format("20060102T150405Z"), res.Filename)
	_, err := a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(res.Data), int64(len(res.Data)),
		minio.PutObjectOptions{ContentType: res.MimeType})
	if err != nil {
		return fmt.Errorf("archive export %s: %w", objectName, err)
	}
	return nil
}

// StoreAsync uploads in the background and logs failures.
func (a *Archive) StoreAsync(itemID string, res *Result) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Store(ctx, itemID, res); err != nil {
			log.Printf("export: %v", err)
		}
	}()
}
