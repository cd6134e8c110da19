package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectStoreSessionPrefix = "sessions"

// ObjectStoreConfig captures configuration for the object storage-backed session store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
	PathStyle bool
}

// ObjectStore keeps one object per user in an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig
	codec  *Codec
}

// NewObjectStore initializes an object storage backed session store.
func NewObjectStore(cfg ObjectStoreConfig, codec *Codec) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("object store: access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store: secret key is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("object store: codec is required")
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	return &ObjectStore{client: client, cfg: cfg, codec: codec}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object store: create bucket: %w", err)
	}
	return nil
}

// Load fetches the user's object.
func (s *ObjectStore) Load(ctx context.Context, userID string) (*Record, error) {
	key, err := s.objectKey(userID)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("object store: get object %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("object store: read object %s: %w", key, err)
	}
	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("object store: load %s: %w", key, err)
	}
	return rec, nil
}

// Save uploads the user's object.
func (s *ObjectStore) Save(ctx context.Context, userID string, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("object store: record is nil")
	}
	key, err := s.objectKey(userID)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("object store: put object %s: %w", key, err)
	}
	return nil
}

// Delete removes the user's object. A missing object is not an error.
func (s *ObjectStore) Delete(ctx context.Context, userID string) error {
	key, err := s.objectKey(userID)
	if err != nil {
		return err
	}
	if err = s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isObjectNotFound(err) {
			return nil
		}
		return fmt.Errorf("object store: delete object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) objectKey(userID string) (string, error) {
	id, err := SanitizeUserID(userID)
	if err != nil {
		return "", err
	}
	return s.prefixedKey(objectStoreSessionPrefix + "/" + id + recordExt), nil
}

func (s *ObjectStore) prefixedKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimLeft(s.cfg.Prefix+"/"+key, "/")
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
