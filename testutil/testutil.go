// Package testutil provides shared test fakes for nodesync tests, chiefly
// an in-memory storage node speaking the listing and object protocol.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// TempFile writes content to a file under dir and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// FakeNode is an in-memory storage node served over httptest. Paths are
// container paths (namespace/folder/object). Listing honors max-results and
// marker; object endpoints honor HEAD, GET and PUT.
type FakeNode struct {
	NodeName string
	Token    string

	mu      sync.Mutex
	objects map[string][]byte

	// ExplicitCursor makes listing responses carry a nextMarker element
	// whenever more entries remain.
	ExplicitCursor bool
	// FailResources maps a listing resource (e.g. "ns1/reports") to an HTTP
	// status returned instead of a page, to simulate truncation.
	FailResources map[string]int

	ListRequests int      // Total listing requests served
	PutPaths     []string // Paths written via PUT, in order

	srv *httptest.Server
}

// NewFakeNode starts a fake node. The server is closed via t.Cleanup.
func NewFakeNode(t *testing.T, name string) *FakeNode {
	t.Helper()
	n := &FakeNode{
		NodeName:      name,
		objects:       make(map[string][]byte),
		FailResources: make(map[string]int),
	}
	n.srv = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.srv.Close)
	return n
}

// URL returns the node's base URL.
func (n *FakeNode) URL() string { return n.srv.URL }

// PutObject seeds one object.
func (n *FakeNode) PutObject(path string, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.objects[path] = data
}

// Object returns a stored object's bytes.
func (n *FakeNode) Object(path string) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, ok := n.objects[path]
	return data, ok
}

func (n *FakeNode) handle(w http.ResponseWriter, r *http.Request) {
	if n.Token != "" && r.Header.Get("Authorization") != "Bearer "+n.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	resource := strings.TrimPrefix(r.URL.Path, "/rest/")
	if r.Method == http.MethodGet && r.URL.Query().Get("type") != "" {
		n.handleListing(w, r, resource)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	switch r.Method {
	case http.MethodHead:
		if _, ok := n.objects[resource]; ok {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodGet:
		data, ok := n.objects[resource]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		body := make([]byte, 0)
		buf := make([]byte, 4096)
		for {
			k, err := r.Body.Read(buf)
			body = append(body, buf[:k]...)
			if err != nil {
				break
			}
		}
		n.objects[resource] = body
		n.PutPaths = append(n.PutPaths, resource)
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (n *FakeNode) handleListing(w http.ResponseWriter, r *http.Request, resource string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ListRequests++

	if status, ok := n.FailResources[resource]; ok {
		w.WriteHeader(status)
		return
	}

	kind := r.URL.Query().Get("type")
	batch, err := strconv.Atoi(r.URL.Query().Get("max-results"))
	if err != nil || batch <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	marker := r.URL.Query().Get("marker")

	var names []string
	switch kind {
	case "directory":
		seen := make(map[string]struct{})
		for path := range n.objects {
			rel, ok := strings.CutPrefix(path, resource+"/")
			if !ok {
				continue
			}
			folder, _, ok := strings.Cut(rel, "/")
			if ok {
				seen[folder] = struct{}{}
			}
		}
		for f := range seen {
			names = append(names, f)
		}
	case "object":
		for path := range n.objects {
			if rel, ok := strings.CutPrefix(path, resource+"/"); ok && rel != "" {
				names = append(names, rel)
			}
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sort.Strings(names)

	// Continuation is exclusive of the marker value.
	start := 0
	if marker != "" {
		start = sort.SearchStrings(names, marker)
		if start < len(names) && names[start] == marker {
			start++
		}
	}
	end := start + batch
	if end > len(names) {
		end = len(names)
	}
	page := names[start:end]

	var sb strings.Builder
	sb.WriteString("<directory>")
	for _, name := range page {
		sb.WriteString(fmt.Sprintf(`<entry name=%q type=%q/>`, name, kind))
	}
	if n.ExplicitCursor && end < len(names) && len(page) > 0 {
		sb.WriteString("<nextMarker>" + page[len(page)-1] + "</nextMarker>")
	}
	sb.WriteString("</directory>")

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(sb.String()))
}
