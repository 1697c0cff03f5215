package knowledge

import (
	"context"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

type (
	// MemoryIndex is an in-process Index backed by a map of vectors. It is
	// used by tests and as an ephemeral backend; nothing survives a restart.
	MemoryIndex struct {
		mu      sync.RWMutex
		entries map[string]*memoryEntry
		nextSeq int64
	}

	memoryEntry struct {
		seq     int64
		content string
		vector  []float64
		meta    Metadata
	}
)

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[string]*memoryEntry),
	}
}

// Upsert implements Index.Upsert. An id collision silently overwrites the
// previous vector and keeps its insertion sequence.
func (m *MemoryIndex) Upsert(ctx context.Context, content string, embedding []float32, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.nextSeq
	if prev, ok := m.entries[meta.ID]; ok {
		seq = prev.seq
	} else {
		m.nextSeq++
	}

	vector := make([]float64, len(embedding))
	for i, v := range embedding {
		vector[i] = float64(v)
	}

	m.entries[meta.ID] = &memoryEntry{
		seq:     seq,
		content: content,
		vector:  vector,
		meta:    meta,
	}

	return nil
}

// Delete implements Index.Delete.
func (m *MemoryIndex) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return false, nil
	}
	delete(m.entries, id)
	return true, nil
}

// Search implements Index.Search. Candidates are filtered before ranking,
// then sorted by ascending cosine distance; equal distances keep insertion
// order.
func (m *MemoryIndex) Search(ctx context.Context, queryEmbedding []float32, limit int, filter Filter) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(queryEmbedding) == 0 || limit <= 0 {
		return []SearchResult{}, nil
	}

	query := make([]float64, len(queryEmbedding))
	for i, v := range queryEmbedding {
		query[i] = float64(v)
	}

	candidates := m.collect(filter)

	type scored struct {
		entry    *memoryEntry
		distance float64
	}
	scoredEntries := make([]scored, 0, len(candidates))
	for _, entry := range candidates {
		scoredEntries = append(scoredEntries, scored{
			entry:    entry,
			distance: cosineDistance(query, entry.vector),
		})
	}

	// candidates arrive in insertion order; a stable sort keeps that order
	// for distance ties
	sort.SliceStable(scoredEntries, func(i, j int) bool {
		return scoredEntries[i].distance < scoredEntries[j].distance
	})

	if len(scoredEntries) > limit {
		scoredEntries = scoredEntries[:limit]
	}

	results := make([]SearchResult, len(scoredEntries))
	for i, se := range scoredEntries {
		results[i] = SearchResult{
			Content:  se.entry.content,
			Metadata: se.entry.meta,
			Distance: se.distance,
		}
	}

	return results, nil
}

// List implements Index.List.
func (m *MemoryIndex) List(ctx context.Context, filter Filter) ([]IndexedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.collect(filter)
	listed := make([]IndexedEntry, len(entries))
	for i, entry := range entries {
		listed[i] = IndexedEntry{
			Content:  entry.content,
			Metadata: entry.meta,
		}
	}

	return listed, nil
}

// Count implements Index.Count.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries), nil
}

// Stats implements Index.Stats.
func (m *MemoryIndex) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalItems:     len(m.entries),
		KnowledgeTypes: make(map[string]int),
		Languages:      make(map[string]int),
	}
	for _, entry := range m.entries {
		stats.KnowledgeTypes[entry.meta.KnowledgeType]++
		stats.Languages[entry.meta.Language]++
	}

	return stats, nil
}

// Reset implements Index.Reset.
func (m *MemoryIndex) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*memoryEntry)
	return nil
}

// Close implements Index.Close.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*memoryEntry)
	return nil
}

// collect returns matching entries ordered by insertion sequence.
// Callers must hold at least a read lock.
func (m *MemoryIndex) collect(filter Filter) []*memoryEntry {
	entries := make([]*memoryEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		if !filter.Matches(entry.meta) {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	return entries
}

// cosineDistance is 1 minus the cosine similarity of a and b, matching the
// distance the sqlite-vec backend reports. Degenerate vectors score the
// maximum distance rather than poisoning the ranking with NaN.
func cosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 1
	}

	return 1 - floats.Dot(a, b)/(normA*normB)
}
