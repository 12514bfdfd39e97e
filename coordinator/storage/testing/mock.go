// Package testing provides an in-memory object store for engine and client
// tests.
package testing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/coordinator/storage"
	"github.com/zkmpc/maestro/coordinator/types"
)

// MockStore defines a properly functioning in-memory object store.
type MockStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	// uploads maps uploadID to the parts received so far.
	uploads map[string]map[int32][]byte
	nextID  int
	// Err, when set, is returned by every operation.
	Err error
	// BaseURL, when set, replaces the mem:// scheme of pre-signed URLs so
	// Handler can serve them from a real listener.
	BaseURL string
	// FailPuts makes the next N part PUTs against Handler answer 500, for
	// exercising client retry paths.
	FailPuts int
	// PutRequests counts the part PUTs Handler served, failed ones included.
	PutRequests int
}

var _ storage.Store = (*MockStore)(nil)

// NewMockStore --
func NewMockStore() *MockStore {
	return &MockStore{
		buckets: make(map[string]map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

// CreateBucket --
func (m *MockStore) CreateBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.buckets[bucket]; ok {
		return fmt.Errorf("bucket %s already exists", bucket)
	}
	m.buckets[bucket] = make(map[string][]byte)
	return nil
}

// BucketExists --
func (m *MockStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	_, ok := m.buckets[bucket]
	return ok, nil
}

// ObjectExists --
func (m *MockStore) ObjectExists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	objects, ok := m.buckets[bucket]
	if !ok {
		return false, nil
	}
	_, ok = objects[key]
	return ok, nil
}

// ObjectSize --
func (m *MockStore) ObjectSize(_ context.Context, bucket, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	objects, ok := m.buckets[bucket]
	if !ok {
		return 0, errors.Wrapf(storage.ErrNotFound, "%s/%s", bucket, key)
	}
	data, ok := objects[key]
	if !ok {
		return 0, errors.Wrapf(storage.ErrNotFound, "%s/%s", bucket, key)
	}
	return int64(len(data)), nil
}

// Upload --
func (m *MockStore) Upload(_ context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string][]byte)
	}
	m.buckets[bucket][key] = data
	return nil
}

// Download --
func (m *MockStore) Download(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	objects, ok := m.buckets[bucket]
	if !ok {
		return nil, errors.Wrapf(storage.ErrNotFound, "%s/%s", bucket, key)
	}
	data, ok := objects[key]
	if !ok {
		return nil, errors.Wrapf(storage.ErrNotFound, "%s/%s", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// DownloadURL --
func (m *MockStore) DownloadURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return fmt.Sprintf("%s/%s/%s", m.scheme(), bucket, key), nil
}

func (m *MockStore) scheme() string {
	if m.BaseURL != "" {
		return strings.TrimSuffix(m.BaseURL, "/")
	}
	return "mem:/"
}

// StartMultiPartUpload --
func (m *MockStore) StartMultiPartUpload(_ context.Context, bucket, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.nextID++
	uploadID := fmt.Sprintf("upload-%d-%s-%s", m.nextID, bucket, key)
	m.uploads[uploadID] = make(map[int32][]byte)
	return uploadID, nil
}

// PreSignedUploadParts --
func (m *MockStore) PreSignedUploadParts(_ context.Context, bucket, key, uploadID string, parts int32, _ time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if _, ok := m.uploads[uploadID]; !ok {
		return nil, fmt.Errorf("unknown upload id %s", uploadID)
	}
	urls := make([]string, 0, parts)
	for i := int32(1); i <= parts; i++ {
		urls = append(urls, fmt.Sprintf("%s/%s/%s?uploadId=%s&partNumber=%d", m.scheme(), bucket, key, uploadID, i))
	}
	return urls, nil
}

// CompleteMultiPartUpload --
func (m *MockStore) CompleteMultiPartUpload(_ context.Context, bucket, key, uploadID string, parts []types.ChunkData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	received, ok := m.uploads[uploadID]
	if !ok {
		return fmt.Errorf("unknown upload id %s", uploadID)
	}
	ordered := make([]types.ChunkData, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartNumber < ordered[j].PartNumber })
	var object []byte
	for _, p := range ordered {
		data, ok := received[p.PartNumber]
		if !ok {
			return fmt.Errorf("upload %s is missing part %d", uploadID, p.PartNumber)
		}
		object = append(object, data...)
	}
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string][]byte)
	}
	m.buckets[bucket][key] = object
	delete(m.uploads, uploadID)
	return nil
}

// PutPart records a part body as if the contributor had PUT it against the
// pre-signed URL.
func (m *MockStore) PutPart(uploadID string, partNumber int32, data []byte) (etag string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	received, ok := m.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("unknown upload id %s", uploadID)
	}
	received[partNumber] = append([]byte{}, data...)
	return fmt.Sprintf("etag-%s-%d", uploadID, partNumber), nil
}

// Object returns the stored object bytes for assertions.
func (m *MockStore) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.buckets[bucket]
	if !ok {
		return nil, false
	}
	data, ok := objects[key]
	return data, ok
}

// Handler serves the store's pre-signed URLs: GET /{bucket}/{key} streams
// the object, PUT with uploadId and partNumber query parameters records a
// part and answers with its ETag header. Mount it on an httptest server and
// point BaseURL at it.
func (m *MockStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trimmed := strings.TrimPrefix(r.URL.Path, "/")
		slash := strings.IndexByte(trimmed, '/')
		if slash < 0 {
			http.Error(w, "expected /{bucket}/{key}", http.StatusBadRequest)
			return
		}
		bucket, key := trimmed[:slash], trimmed[slash+1:]
		switch r.Method {
		case http.MethodGet:
			data, ok := m.Object(bucket, key)
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			_, _ = w.Write(data)
		case http.MethodPut:
			m.mu.Lock()
			m.PutRequests++
			flaky := m.FailPuts > 0
			if flaky {
				m.FailPuts--
			}
			m.mu.Unlock()
			if flaky {
				http.Error(w, "injected failure", http.StatusInternalServerError)
				return
			}
			partNumber, err := strconv.ParseInt(r.URL.Query().Get("partNumber"), 10, 32)
			if err != nil {
				http.Error(w, "malformed partNumber", http.StatusBadRequest)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			etag, err := m.PutPart(r.URL.Query().Get("uploadId"), int32(partNumber), body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			w.Header().Set("ETag", `"`+etag+`"`)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
