// Package testutil provides testing utilities for the WFS fetch library.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockWFSResponse defines the behavior for a mock WFS endpoint response.
type MockWFSResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockWFS is a configurable mock WFS server for testing.
type MockWFS struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	Offsets      []int
	LastQuery    url.Values
}

// NewMockWFS creates a new mock WFS server.
func NewMockWFS() *MockWFS {
	mock := &MockWFS{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastQuery = q
		if start := q.Get("startIndex"); start != "" {
			if offset, err := strconv.Atoi(start); err == nil {
				mock.Offsets = append(mock.Offsets, offset)
			}
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockWFS) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockWFS) Close() {
	m.server.Close()
}

// Reset clears all tracking state.
func (m *MockWFS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Offsets = nil
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockWFS) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockWFS) SetResponse(path string, resp MockWFSResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// ServePages configures the root path to slice a fixed feature set by
// count and startIndex, the way a real WFS answers GetFeature paging.
// Each entry in features is a complete GeoJSON Feature object.
func (m *MockWFS) ServePages(features []string, crsURN string) {
	m.SetHandler("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offset, _ := strconv.Atoi(q.Get("startIndex"))
		count, _ := strconv.Atoi(q.Get("count"))

		if offset < 0 {
			offset = 0
		}
		if offset > len(features) {
			offset = len(features)
		}
		end := offset + count
		if count <= 0 || end > len(features) {
			end = len(features)
		}
		page := features[offset:end]

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(FeatureCollectionBody(page, len(features), crsURN)))
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockWFS) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetOffsets returns the startIndex values seen, in request order.
func (m *MockWFS) GetOffsets() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, len(m.Offsets))
	copy(out, m.Offsets)
	return out
}

// defaultHandler answers with an empty feature collection.
func (m *MockWFS) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(FeatureCollectionBody(nil, 0, "")))
}

// FeatureCollectionBody assembles a GeoJSON FeatureCollection page from
// pre-rendered feature objects. A non-empty crsURN adds a named crs member.
func FeatureCollectionBody(features []string, matched int, crsURN string) string {
	var b strings.Builder
	b.WriteString(`{"type":"FeatureCollection"`)
	if crsURN != "" {
		fmt.Fprintf(&b, `,"crs":{"type":"name","properties":{"name":%q}}`, crsURN)
	}
	fmt.Fprintf(&b, `,"numberMatched":%d,"numberReturned":%d,"features":[`, matched, len(features))
	b.WriteString(strings.Join(features, ","))
	b.WriteString(`]}`)
	return b.String()
}

// PointFeature renders a GeoJSON point feature with an id and a name
// property, handy for building paging fixtures.
func PointFeature(id string, x, y float64, name string) string {
	return fmt.Sprintf(
		`{"type":"Feature","id":%q,"geometry":{"type":"Point","coordinates":[%g,%g]},"properties":{"name":%q}}`,
		id, x, y, name,
	)
}
