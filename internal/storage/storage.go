// Package storage publishes finished outputs to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
)

// objectClient is the subset of *minio.Client used here.
type objectClient interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Storage provides object storage operations
type Storage struct {
	client     objectClient
	bucketName string
	prefix     string
	logger     *logging.Logger
}

// New creates a new storage client and makes sure the bucket exists.
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return newStorage(client, cfg.BucketName, cfg.Prefix, logger), nil
}

func newStorage(client objectClient, bucket, prefix string, logger *logging.Logger) *Storage {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Storage{
		client:     client,
		bucketName: bucket,
		prefix:     strings.Trim(prefix, "/"),
		logger:     logger.WithComponent("storage"),
	}
}

// ObjectName returns the key an output of jobID is published under.
func (s *Storage) ObjectName(jobID, filePath string) string {
	return path.Join(s.jobPrefix(jobID), filepath.Base(filePath))
}

func (s *Storage) jobPrefix(jobID string) string {
	if s.prefix == "" {
		return jobID
	}
	return path.Join(s.prefix, jobID)
}

// PublishOutput uploads a finished output file and returns its object key.
// It implements jobs.OutputPublisher.
func (s *Storage) PublishOutput(ctx context.Context, jobID, filePath string) (string, error) {
	objectName := s.ObjectName(jobID, filePath)

	start := time.Now()
	info, err := s.client.FPutObject(ctx, s.bucketName, objectName, filePath, minio.PutObjectOptions{
		ContentType: getContentType(filePath),
		UserMetadata: map[string]string{
			"job-id": jobID,
		},
	})
	s.record("upload", objectName, info.Size, start, err)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return objectName, nil
}

// ListOutputs lists the object keys published for jobID.
func (s *Storage) ListOutputs(ctx context.Context, jobID string) ([]string, error) {
	var objects []string

	start := time.Now()
	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    s.jobPrefix(jobID) + "/",
		Recursive: true,
	}) {
		if object.Err != nil {
			s.record("list", jobID, 0, start, object.Err)
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		objects = append(objects, object.Key)
	}
	s.record("list", jobID, 0, start, nil)

	return objects, nil
}

// Delete deletes an object from storage
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	start := time.Now()
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	s.record("delete", objectName, 0, start, err)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// GetURL returns a presigned URL for an object
func (s *Storage) GetURL(ctx context.Context, objectName string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, expires, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return u.String(), nil
}

func (s *Storage) record(op, key string, size int64, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageOperation(op, status, size)
	s.logger.LogStorageOperation(op, s.bucketName, key, size, time.Since(start), err)
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".ts":
		return "video/mp2t"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
