package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"solace.app/companion/internal/store"
	"solace.app/companion/internal/vector"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestUser(t *testing.T, s *store.SQLStore, externalID string) *store.User {
	t.Helper()
	u, err := s.GetOrCreateUser(context.Background(), externalID)
	require.NoError(t, err)
	return u
}

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   []string
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, text)
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return v, nil
}

type failingIndex struct{}

func (failingIndex) Upsert(context.Context, int64, string, []float32) error {
	return errors.New("index down")
}
func (failingIndex) Delete(context.Context, int64, string) error { return errors.New("index down") }
func (failingIndex) Query(context.Context, int64, []float32, int) ([]vector.Match, error) {
	return nil, errors.New("index down")
}

// recordingIndex remembers the last write per entry.
type recordingIndex struct {
	mu      sync.Mutex
	vectors map[string][]float32
	owners  map[string]int64
}

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{vectors: map[string][]float32{}, owners: map[string]int64{}}
}

func (i *recordingIndex) Upsert(_ context.Context, ownerID int64, entryID string, embedding []float32) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.vectors[entryID] = embedding
	i.owners[entryID] = ownerID
	return nil
}

func (i *recordingIndex) Delete(_ context.Context, _ int64, entryID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.vectors, entryID)
	delete(i.owners, entryID)
	return nil
}

func (i *recordingIndex) Query(context.Context, int64, []float32, int) ([]vector.Match, error) {
	return nil, nil
}

type failingLookup struct{}

func (failingLookup) GetJournalEntriesByIDs(context.Context, int64, []string) ([]store.JournalEntry, error) {
	return nil, errors.New("db down")
}

// scriptedGenerator returns its results in order and repeats the last one.
type scriptedGenerator struct {
	mu       sync.Mutex
	results  []GenerationResult
	err      error
	requests []*GenerationRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req *GenerationRequest) (GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return GenerationResult{}, g.err
	}
	if len(g.results) == 0 {
		return GenerationResult{Kind: ResultOK, Text: "I hear you."}, nil
	}
	res := g.results[0]
	if len(g.results) > 1 {
		g.results = g.results[1:]
	}
	return res, nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type staticRetriever struct {
	excerpts []Excerpt
}

func (r staticRetriever) Retrieve(context.Context, int64, string) []Excerpt {
	return r.excerpts
}

type fakeTitles struct {
	title string
	err   error
}

func (f fakeTitles) GenerateTitle(context.Context, string) (string, error) {
	return f.title, f.err
}

// gatedTitles blocks every call until release is closed.
type gatedTitles struct {
	title   string
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedTitles) GenerateTitle(ctx context.Context, _ string) (string, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return g.title, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
