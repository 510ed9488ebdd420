package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Mirror is a fake package mirror serving in-memory files.
type Mirror struct {
	Server *httptest.Server
	URL    string

	mu     sync.Mutex
	files  map[string][]byte
	status map[string]int
	hits   map[string]int
	pace   map[string]pace
	agent  string
}

type pace struct {
	delay  time.Duration // before the headers
	chunks int
	gap    time.Duration // between body chunks
}

// NewMirror starts a mirror that is closed when t finishes.
func NewMirror(t *testing.T) *Mirror {
	t.Helper()
	m := &Mirror{
		files:  make(map[string][]byte),
		status: make(map[string]int),
		hits:   make(map[string]int),
		pace:   make(map[string]pace),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	m.URL = m.Server.URL
	t.Cleanup(m.Server.Close)
	return m
}

// Put serves data at urlPath.
func (m *Mirror) Put(urlPath string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[urlPath] = data
}

// Fail makes urlPath answer with status.
func (m *Mirror) Fail(urlPath string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[urlPath] = status
}

// Trickle sends the body at urlPath in chunks pieces, pausing gap before
// each one after the headers are flushed.
func (m *Mirror) Trickle(urlPath string, chunks int, gap time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pace[urlPath]
	p.chunks, p.gap = chunks, gap
	m.pace[urlPath] = p
}

// Stall holds the response headers of urlPath back for delay.
func (m *Mirror) Stall(urlPath string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pace[urlPath]
	p.delay = delay
	m.pace[urlPath] = p
}

// Hits returns how often urlPath was requested.
func (m *Mirror) Hits(urlPath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[urlPath]
}

// UserAgent returns the User-Agent header of the latest request.
func (m *Mirror) UserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agent
}

func (m *Mirror) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.hits[r.URL.Path]++
	m.agent = r.Header.Get("User-Agent")
	status, failing := m.status[r.URL.Path]
	data, ok := m.files[r.URL.Path]
	p := m.pace[r.URL.Path]
	m.mu.Unlock()

	if !sleep(r, p.delay) {
		return
	}

	switch {
	case r.Method != http.MethodGet:
		w.WriteHeader(http.StatusMethodNotAllowed)
	case failing:
		w.WriteHeader(status)
	case !ok:
		http.NotFound(w, r)
	case p.chunks > 1:
		w.WriteHeader(http.StatusOK)
		writeChunks(w, r, data, p)
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func writeChunks(w http.ResponseWriter, r *http.Request, data []byte, p pace) {
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	size := len(data)/p.chunks + 1
	for len(data) > 0 {
		if !sleep(r, p.gap) {
			return
		}
		n := min(size, len(data))
		if _, err := w.Write(data[:n]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		data = data[n:]
	}
}

// sleep waits d unless the client goes away first.
func sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-r.Context().Done():
		return false
	}
}

// SearchRequest is one document submission received by SearchServer.
type SearchRequest struct {
	Index         string
	Authorization string
	ContentType   string
	UserAgent     string
	Body          []byte
}

// SearchServer is a fake Meilisearch documents endpoint.
type SearchServer struct {
	Server *httptest.Server
	URL    string

	key string

	mu       sync.Mutex
	requests []SearchRequest
	docs     map[string][]map[string]interface{}
	status   map[string]int
}

// NewSearchServer starts a fake index that requires key as bearer token.
func NewSearchServer(t *testing.T, key string) *SearchServer {
	t.Helper()
	s := &SearchServer{
		key:    key,
		docs:   make(map[string][]map[string]interface{}),
		status: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /indexes/{index}/documents", s.addDocuments)
	s.Server = httptest.NewServer(mux)
	s.URL = s.Server.URL
	t.Cleanup(s.Server.Close)
	return s
}

// Fail makes submissions to index answer with status.
func (s *SearchServer) Fail(index string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[index] = status
}

// Requests returns every accepted or rejected submission in arrival order.
func (s *SearchServer) Requests() []SearchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SearchRequest(nil), s.requests...)
}

// Documents returns the documents stored in index.
func (s *SearchServer) Documents(index string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.docs[index]...)
}

func (s *SearchServer) addDocuments(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	index := r.PathValue("index")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, SearchRequest{
		Index:         index,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		UserAgent:     r.Header.Get("User-Agent"),
		Body:          body,
	})

	if s.key != "" && r.Header.Get("Authorization") != "Bearer "+s.key {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"The provided API key is invalid.","code":"invalid_api_key"}`))
		return
	}
	if status, ok := s.status[index]; ok {
		w.WriteHeader(status)
		return
	}

	var docs []map[string]interface{}
	if err := json.Unmarshal(body, &docs); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"malformed payload","code":"malformed_payload"}`))
		return
	}
	s.docs[index] = append(s.docs[index], docs...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"taskUid":    len(s.requests),
		"indexUid":   index,
		"status":     "enqueued",
		"type":       "documentAdditionOrUpdate",
		"enqueuedAt": "2024-05-06T07:08:09Z",
	})
}
