package knowledge_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/kcartbot/knowledge-engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestEmbedding creates a deterministic unit vector from a seed.
func generateTestEmbedding(dim int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	embedding := make([]float32, dim)
	var norm float64
	for i := range embedding {
		embedding[i] = float32(rng.NormFloat64())
		norm += float64(embedding[i]) * float64(embedding[i])
	}
	norm = math.Sqrt(norm)
	for i := range embedding {
		embedding[i] = float32(float64(embedding[i]) / norm)
	}
	return embedding
}

func TestMemoryIndex_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryIndex()
	defer index.Close()

	embedding1 := generateTestEmbedding(128, 1)
	embedding2 := generateTestEmbedding(128, 2)

	require.NoError(t, index.Upsert(ctx, "keep tomatoes in a cool dry place", embedding1, knowledge.Metadata{
		ID:            "entry-1",
		ProductID:     "tomato",
		KnowledgeType: knowledge.TypeStorage,
		Language:      "en",
	}))
	require.NoError(t, index.Upsert(ctx, "teff is rich in iron and calcium", embedding2, knowledge.Metadata{
		ID:            "entry-2",
		ProductID:     "teff",
		KnowledgeType: knowledge.TypeNutrition,
		Language:      "en",
	}))

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Querying with entry-1's own vector must rank entry-1 first at
	// distance ~0
	results, err := index.Search(ctx, embedding1, 2, knowledge.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "entry-1", results[0].Metadata.ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
	assert.Greater(t, results[1].Distance, results[0].Distance)
}

func TestMemoryIndex_UpsertOverwritesOnIDCollision(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryIndex()
	defer index.Close()

	meta := knowledge.Metadata{ID: "entry-1", KnowledgeType: knowledge.TypeStorage, Language: "en"}
	require.NoError(t, index.Upsert(ctx, "old content", generateTestEmbedding(64, 1), meta))
	require.NoError(t, index.Upsert(ctx, "new content", generateTestEmbedding(64, 2), meta))

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := index.Search(ctx, generateTestEmbedding(64, 2), 1, knowledge.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new content", results[0].Content)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
}

func TestMemoryIndex_FilterBeforeRanking(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryIndex()
	defer index.Close()

	query := generateTestEmbedding(64, 1)

	// entry-close matches the query best but carries the wrong type; with
	// top-k truncation before filtering it would crowd out entry-far
	require.NoError(t, index.Upsert(ctx, "close but wrong type", query, knowledge.Metadata{
		ID: "entry-close", KnowledgeType: knowledge.TypeRecipe, Language: "en",
	}))
	require.NoError(t, index.Upsert(ctx, "far but right type", generateTestEmbedding(64, 9), knowledge.Metadata{
		ID: "entry-far", KnowledgeType: knowledge.TypeStorage, Language: "en",
	}))

	results, err := index.Search(ctx, query, 1, knowledge.Filter{KnowledgeType: knowledge.TypeStorage})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "entry-far", results[0].Metadata.ID)
}

func TestMemoryIndex_FilterMatchingNothingIsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryIndex()
	defer index.Close()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, index.Upsert(ctx, "storage fact", generateTestEmbedding(64, i), knowledge.Metadata{
			ID: string(rune('a' + i)), KnowledgeType: knowledge.TypeStorage, Language: "en",
		}))
	}

	results, err := index.Search(ctx, generateTestEmbedding(64, 1), 5, knowledge.Filter{KnowledgeType: knowledge.TypeRecipe})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_TieBreaksByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryIndex()
	defer index.Close()

	// two entries with identical vectors tie exactly; insertion order decides
	shared := generateTestEmbedding(64, 7)
	require.NoError(t, index.Upsert(ctx, "first", shared, knowledge.Metadata{ID: "first", Language: "en"}))
	require.NoError(t, index.Upsert(ctx, "second", shared, knowledge.Metadata{ID: "second", Language: "en"}))

	results, err := index.Search(ctx, shared, 2, knowledge.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Metadata.ID)
	assert.Equal(t, "second", results[1].Metadata.ID)
}

func TestMemoryIndex_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryIndex()
	defer index.Close()

	require.NoError(t, index.Upsert(ctx, "content", generateTestEmbedding(64, 1), knowledge.Metadata{ID: "entry-1", Language: "en"}))

	removed, err := index.Delete(ctx, "entry-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = index.Delete(ctx, "entry-1")
	require.NoError(t, err)
	assert.False(t, removed)

	results, err := index.Search(ctx, generateTestEmbedding(64, 1), 5, knowledge.Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_ListAndStats(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryIndex()
	defer index.Close()

	require.NoError(t, index.Upsert(ctx, "a", generateTestEmbedding(64, 1), knowledge.Metadata{
		ID: "1", ProductID: "tomato", KnowledgeType: knowledge.TypeStorage, Language: "en",
	}))
	require.NoError(t, index.Upsert(ctx, "b", generateTestEmbedding(64, 2), knowledge.Metadata{
		ID: "2", ProductID: "tomato", KnowledgeType: knowledge.TypeNutrition, Language: "am",
	}))
	require.NoError(t, index.Upsert(ctx, "c", generateTestEmbedding(64, 3), knowledge.Metadata{
		ID: "3", ProductID: "teff", KnowledgeType: knowledge.TypeStorage, Language: "en",
	}))

	entries, err := index.List(ctx, knowledge.Filter{ProductID: "tomato"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1", entries[0].Metadata.ID)
	assert.Equal(t, "2", entries[1].Metadata.ID)

	stats, err := index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, map[string]int{knowledge.TypeStorage: 2, knowledge.TypeNutrition: 1}, stats.KnowledgeTypes)
	assert.Equal(t, map[string]int{"en": 2, "am": 1}, stats.Languages)
}
