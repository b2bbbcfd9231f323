// Package minio keeps blobs as objects in an S3-compatible bucket. A
// container is a key prefix, so it needs no creation. Shared blobs are copied
// under the public/ prefix, which one fixed bucket-policy statement opens to
// anonymous reads.
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vbonduro/checkin/internal/blobstore"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client  *minio.Client
	bucket  string
	baseURL string

	policyMu    sync.Mutex
	policyReady bool
}

var _ blobstore.Store = (*Store)(nil)

// New connects to the endpoint and creates the bucket if it is missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: bucketURL(client.EndpointURL(), cfg.Bucket),
	}, nil
}

func bucketURL(endpoint *url.URL, bucket string) string {
	return strings.TrimRight(endpoint.String(), "/") + "/" + bucket + "/"
}

func (s *Store) Save(ctx context.Context, container, name, mimeType string, data []byte) (string, error) {
	key := container + "/" + name
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.baseURL + escapeKey(key), nil
}

func (s *Store) Get(ctx context.Context, blobURL string) ([]byte, string, error) {
	key, err := keyFromURL(s.baseURL, blobURL)
	if err != nil {
		return nil, "", err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}
		return nil, "", fmt.Errorf("stat object %s: %w", key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", key, err)
	}

	mimeType := info.ContentType
	if mimeType == "" {
		mimeType = blobstore.MimeFromName(key)
	}
	return data, mimeType, nil
}

// SetPublicReadable copies the object under the public prefix and returns
// its URL there. Objects already under the prefix are returned as they are.
func (s *Store) SetPublicReadable(ctx context.Context, blobURL string) (string, error) {
	key, err := keyFromURL(s.baseURL, blobURL)
	if err != nil {
		return "", err
	}
	if err := s.ensurePublicPolicy(ctx); err != nil {
		return "", err
	}
	if strings.HasPrefix(key, publicPrefix) {
		return blobURL, nil
	}

	dst := publicPrefix + key
	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: key},
	)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}
		return "", fmt.Errorf("copy object %s: %w", key, err)
	}
	return s.baseURL + escapeKey(dst), nil
}

// ensurePublicPolicy installs the public statements once per process. The
// policy content does not depend on which objects are shared.
func (s *Store) ensurePublicPolicy(ctx context.Context) error {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	if s.policyReady {
		return nil
	}

	current, err := s.client.GetBucketPolicy(ctx, s.bucket)
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchBucketPolicy" {
		return fmt.Errorf("get bucket policy: %w", err)
	}
	policy, err := withPublicPrefix(current, s.bucket)
	if err != nil {
		return err
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}
	s.policyReady = true
	return nil
}

// ContainerURL is an anonymous ListObjectsV2 query over the container's
// shared blobs.
func (s *Store) ContainerURL(container string) string {
	return s.baseURL + "?list-type=2&prefix=" + url.QueryEscape(publicPrefix+container+"/")
}

// ContainerExists reports whether the bucket exists; prefixes always do.
func (s *Store) ContainerExists(ctx context.Context, _ string) (bool, error) {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return false, fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	return ok, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func keyFromURL(baseURL, blobURL string) (string, error) {
	rest, ok := strings.CutPrefix(blobURL, baseURL)
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %s is not in this bucket", blobstore.ErrNotFound, blobURL)
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("invalid blob url: %w", err)
	}
	return key, nil
}

const (
	publicPrefix  = "public/"
	publicReadSid = "CheckinPublicRead"
	publicListSid = "CheckinPublicList"
)

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string          `json:"Sid,omitempty"`
	Effect    string          `json:"Effect"`
	Principal json.RawMessage `json:"Principal"`
	Action    json.RawMessage `json:"Action"`
	Resource  json.RawMessage `json:"Resource"`
	Condition json.RawMessage `json:"Condition,omitempty"`
}

// withPublicPrefix returns current (a JSON bucket policy, possibly empty)
// with anonymous read of public/* and listing of that prefix. Any earlier
// version of those two statements is replaced; other statements are kept.
func withPublicPrefix(current, bucket string) (string, error) {
	policy := bucketPolicy{Version: "2012-10-17"}
	if strings.TrimSpace(current) != "" {
		if err := json.Unmarshal([]byte(current), &policy); err != nil {
			return "", fmt.Errorf("parse bucket policy: %w", err)
		}
	}

	policy.Statement = slices.DeleteFunc(policy.Statement, func(st policyStatement) bool {
		return st.Sid == publicReadSid || st.Sid == publicListSid
	})

	bucketARN := "arn:aws:s3:::" + bucket
	anyone := json.RawMessage(`{"AWS":["*"]}`)
	read, err := json.Marshal([]string{bucketARN + "/" + publicPrefix + "*"})
	if err != nil {
		return "", err
	}
	list, err := json.Marshal([]string{bucketARN})
	if err != nil {
		return "", err
	}
	cond, err := json.Marshal(map[string]map[string][]string{
		"StringLike": {"s3:prefix": {publicPrefix + "*"}},
	})
	if err != nil {
		return "", err
	}
	policy.Statement = append(policy.Statement,
		policyStatement{
			Sid:       publicReadSid,
			Effect:    "Allow",
			Principal: anyone,
			Action:    json.RawMessage(`["s3:GetObject"]`),
			Resource:  read,
		},
		policyStatement{
			Sid:       publicListSid,
			Effect:    "Allow",
			Principal: anyone,
			Action:    json.RawMessage(`["s3:ListBucket"]`),
			Resource:  list,
			Condition: cond,
		},
	)

	out, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("encode bucket policy: %w", err)
	}
	return string(out), nil
}
