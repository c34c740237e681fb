// Package mock provides an in-memory test double for the vector store and
// control plane interfaces.
//
// Store keeps records in a map and scores queries with real cosine
// similarity, so retrieval-ordering behavior can be tested without a remote
// service. Error injection fields simulate transient and permanent failures.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/mnemora-ai/mnemora/pkg/vector"
)

// Store is an in-memory implementation of [vector.Store] and
// [vector.ControlPlane]. The zero value is ready to use. Safe for concurrent
// use.
type Store struct {
	mu      sync.Mutex
	records map[string]vector.Record
	indexes []string

	// MaxTopK caps query results. Zero means 10, matching the real backends.
	MaxTopK int

	// FailUpserts makes the next N Upsert calls fail with UpsertErr.
	FailUpserts int
	// FailQueries makes the next N Query calls fail with QueryErr.
	FailQueries int
	// FailDeletes makes the next N DeleteByFilter calls fail with DeleteErr.
	FailDeletes int

	// UpsertErr, QueryErr and DeleteErr are the injected errors. A nil
	// injected error with a positive fail counter panics; set both.
	UpsertErr error
	QueryErr  error
	DeleteErr error

	// Call counters.
	UpsertCalls int
	QueryCalls  int
	DeleteCalls int
}

var (
	_ vector.Store        = (*Store)(nil)
	_ vector.ControlPlane = (*Store)(nil)
)

// Upsert stores the records, replacing any with the same ID.
func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	if s.FailUpserts > 0 {
		s.FailUpserts--
		return s.UpsertErr
	}
	if s.records == nil {
		s.records = make(map[string]vector.Record)
	}
	for _, r := range records {
		s.records[r.ID] = cloneRecord(r)
	}
	return nil
}

// Query returns the stored records matching filter, scored by cosine
// similarity against vec, ties broken by newer timestamp.
func (s *Store) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCalls++
	if s.FailQueries > 0 {
		s.FailQueries--
		return nil, s.QueryErr
	}
	if !filter.UserScoped() {
		return nil, vector.ErrUserScopeRequired
	}

	max := s.MaxTopK
	if max <= 0 {
		max = 10
	}
	if topK <= 0 || topK > max {
		topK = max
	}

	var matches []vector.Match
	for _, r := range s.records {
		if !matchesFilter(r, filter) {
			continue
		}
		matches = append(matches, vector.Match{
			Record: cloneRecord(r),
			Score:  cosine(vec, r.Values),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return timestampOf(matches[i]) > timestampOf(matches[j])
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteByFilter removes matching records and returns how many went away.
func (s *Store) DeleteByFilter(ctx context.Context, filter vector.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	if s.FailDeletes > 0 {
		s.FailDeletes--
		return 0, s.DeleteErr
	}
	if !filter.UserScoped() {
		return 0, vector.ErrUserScopeRequired
	}

	count := 0
	for id, r := range s.records {
		if matchesFilter(r, filter) {
			delete(s.records, id)
			count++
		}
	}
	return count, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Record returns the stored record with the given ID.
func (s *Store) Record(id string) (vector.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return vector.Record{}, false
	}
	return cloneRecord(r), true
}

// ─────────────────────────────────────────────────────────────────────────────
// Control plane
// ─────────────────────────────────────────────────────────────────────────────

// ListIndexes returns the indexes registered via CreateIndex.
func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.indexes...), nil
}

// CreateIndex registers the index name. Always instantly ready.
func (s *Store) CreateIndex(ctx context.Context, spec vector.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = append(s.indexes, spec.Name)
	return nil
}

// DescribeIndex reports any registered index as ready.
func (s *Store) DescribeIndex(ctx context.Context, name string) (*vector.IndexStatus, error) {
	return &vector.IndexStatus{Name: name, State: "Ready", Ready: true}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func cloneRecord(r vector.Record) vector.Record {
	out := vector.Record{
		ID:     r.ID,
		Values: append([]float32(nil), r.Values...),
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func matchesFilter(r vector.Record, filter vector.Filter) bool {
	for k, want := range filter {
		if r.Metadata[k] != want {
			return false
		}
	}
	return true
}

func timestampOf(m vector.Match) float64 {
	if v, ok := m.Record.Metadata[vector.MetaTimestamp].(float64); ok {
		return v
	}
	return -1
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
