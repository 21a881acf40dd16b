package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store is the durable truth behind the registry's in-memory cache —
// either of the two backends below.
type Store interface {
	LoadAll(ctx context.Context) ([]Resource, error)
	Save(ctx context.Context, r Resource) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a process-local Store: durable only for the life of the
// process, useful for tests and single-node deployments without an object
// store configured.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]Resource
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{resources: make(map[string]Resource)}
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, r Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = r
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, id)
	return nil
}

// S3Store persists each resource as one JSON object under
// "<prefix>/<id>.json" in a configured bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) objectKey(id string) string {
	if s.prefix == "" {
		return id + ".json"
	}
	return s.prefix + "/" + id + ".json"
}

func (s *S3Store) LoadAll(ctx context.Context) ([]Resource, error) {
	var out []Resource
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("discovery: list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			getOut, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: obj.Key})
			if err != nil {
				return nil, fmt.Errorf("discovery: get s3 object %s: %w", aws.ToString(obj.Key), err)
			}
			var r Resource
			err = json.NewDecoder(getOut.Body).Decode(&r)
			getOut.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("discovery: decode s3 object %s: %w", aws.ToString(obj.Key), err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *S3Store) Save(ctx context.Context, r Resource) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("discovery: marshal resource: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(r.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("discovery: put s3 object: %w", err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("discovery: delete s3 object: %w", err)
	}
	return nil
}
