package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// NewMockForTests returns a *Store backed by an in-memory fake client. Only
// the operations the artifact store uses are implemented.
func NewMockForTests() *Store {
	client := &mockClient{objects: make(map[string]mockObject)}
	return NewWithClient(client, mockPresigner{}, "mock-bucket")
}

type mockObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

type mockClient struct {
	mu      sync.Mutex
	objects map[string]mockObject
}

func (m *mockClient) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	obj := mockObject{body: body, metadata: params.Metadata, modified: time.Now().UTC()}
	if params.ContentType != nil {
		obj.contentType = *params.ContentType
	}
	m.mu.Lock()
	m.objects[aws.ToString(params.Key)] = obj
	m.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (m *mockClient) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	obj, ok := m.objects[aws.ToString(params.Key)]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", aws.ToString(params.Key))
	}
	size := int64(len(obj.body))
	out := &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: &size,
		Metadata:      obj.metadata,
		LastModified:  &obj.modified,
	}
	if obj.contentType != "" {
		out.ContentType = &obj.contentType
	}
	return out, nil
}

func (m *mockClient) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	obj, ok := m.objects[aws.ToString(params.Key)]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("NotFound: %s", aws.ToString(params.Key))
	}
	size := int64(len(obj.body))
	out := &s3.HeadObjectOutput{ContentLength: &size, Metadata: obj.metadata, LastModified: &obj.modified}
	if obj.contentType != "" {
		out.ContentType = &obj.contentType
	}
	return out, nil
}

func (m *mockClient) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	delete(m.objects, aws.ToString(params.Key))
	m.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockClient) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)
	m.mu.Lock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	contents := make([]types.Object, 0, len(keys))
	for _, k := range keys {
		obj := m.objects[k]
		size := int64(len(obj.body))
		modified := obj.modified
		key := k
		contents = append(contents, types.Object{Key: &key, Size: &size, LastModified: &modified})
	}
	m.mu.Unlock()
	truncated := false
	return &s3.ListObjectsV2Output{IsTruncated: &truncated, Contents: contents}, nil
}

type mockPresigner struct{}

func (mockPresigner) SignedGetURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://%s.s3.local/%s?signature=mock", bucket, key), nil
}
