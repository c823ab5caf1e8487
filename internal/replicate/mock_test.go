package replicate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// mockStore is an in-memory ObjectStore with scriptable failures.
type mockStore struct {
	name string

	mu      sync.Mutex
	objects map[string][]byte

	probeStatus map[string]int   // Overrides the derived existence status
	probeErr    map[string]error // Probe returns this error for the path
	fetchErr    error
	storeErr    error
	storeFails  int  // Fail this many Store calls before succeeding
	dropStores  bool // Accept Store calls without persisting (verify fails)

	probeCalls []string
	fetchCalls []string
	storeCalls []string
}

func newMockStore(name string) *mockStore {
	return &mockStore{
		name:        name,
		objects:     make(map[string][]byte),
		probeStatus: make(map[string]int),
		probeErr:    make(map[string]error),
	}
}

func (m *mockStore) Name() string { return m.name }

func (m *mockStore) put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
}

func (m *mockStore) get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	return data, ok
}

func (m *mockStore) Probe(ctx context.Context, path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCalls = append(m.probeCalls, path)

	if err, ok := m.probeErr[path]; ok {
		return 0, err
	}
	if status, ok := m.probeStatus[path]; ok {
		return status, nil
	}
	if _, ok := m.objects[path]; ok {
		return 200, nil
	}
	return 404, nil
}

func (m *mockStore) Fetch(ctx context.Context, path string, w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls = append(m.fetchCalls, path)

	if m.fetchErr != nil {
		return m.fetchErr
	}
	data, ok := m.objects[path]
	if !ok {
		return fmt.Errorf("fetch %s: not found", path)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (m *mockStore) Store(ctx context.Context, path string, r io.Reader, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls = append(m.storeCalls, path)

	if m.storeErr != nil {
		return m.storeErr
	}
	if m.storeFails > 0 {
		m.storeFails--
		return fmt.Errorf("store %s: connection reset", path)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if !m.dropStores {
		m.objects[path] = data
	}
	return nil
}

func (m *mockStore) storeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.storeCalls)
}
