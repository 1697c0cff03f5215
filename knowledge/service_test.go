package knowledge_test

import (
	"context"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kcartbot/knowledge-engine/entity"
	"github.com/kcartbot/knowledge-engine/errors"
	"github.com/kcartbot/knowledge-engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordHashEmbedder is a deterministic bag-of-words embedder: identical texts
// embed identically and shared words pull vectors together. Good enough to
// exercise ranking without a model.
type wordHashEmbedder struct {
	dim int
}

func (e *wordHashEmbedder) Embed(_ context.Context, _ knowledge.EmbeddingTaskType, texts ...string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[int(h.Sum32())%e.dim]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] = float32(float64(vec[j]) / norm)
			}
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (e *wordHashEmbedder) Dimension() int { return e.dim }

// failingEmbedder always errors, to test that embedding failures surface as
// hard errors rather than empty result sets.
type failingEmbedder struct{}

func (e *failingEmbedder) Embed(context.Context, knowledge.EmbeddingTaskType, ...string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func (e *failingEmbedder) Dimension() int { return 64 }

func newTestService(t *testing.T) (knowledge.Service, knowledge.Store, knowledge.Index) {
	t.Helper()

	store, err := knowledge.NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)

	index := knowledge.NewMemoryIndex()
	service := knowledge.NewService(store, index, &wordHashEmbedder{dim: 128}, nil)
	t.Cleanup(func() { _ = service.Close() })

	return service, store, index
}

func TestService_SearchValidation(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.SearchKnowledge(ctx, "")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = service.SearchKnowledge(ctx, "   ")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = service.SearchKnowledge(ctx, "tomatoes", knowledge.WithLimit(0))
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = service.SearchKnowledge(ctx, "tomatoes", knowledge.WithLimit(-3))
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestService_AddValidation(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.AddKnowledge(ctx, "", "tomato", knowledge.TypeStorage, "en")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = service.AddKnowledge(ctx, "  \n ", "tomato", knowledge.TypeStorage, "en")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestService_AddAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.AddKnowledge(ctx, "store onions in a dark ventilated room", "onion", knowledge.TypeStorage, "en")
	require.NoError(t, err)
	id, err := service.AddKnowledge(ctx, "keep tomatoes away from direct sunlight", "tomato", knowledge.TypeStorage, "en")
	require.NoError(t, err)

	// searching for an entry's own content must rank it first
	results, err := service.SearchKnowledge(ctx, "keep tomatoes away from direct sunlight", knowledge.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Metadata.ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
	assert.Equal(t, "keep tomatoes away from direct sunlight", results[0].Content)
	assert.Equal(t, "tomato", results[0].Metadata.ProductID)
}

func TestService_FilterCorrectness(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.AddKnowledge(ctx, "teff flour keeps for six months", "teff", knowledge.TypeStorage, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "teff is gluten free and rich in iron", "teff", knowledge.TypeNutrition, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "injera is made from fermented teff", "teff", knowledge.TypeRecipe, "am-latn")
	require.NoError(t, err)

	results, err := service.SearchKnowledge(ctx, "teff",
		knowledge.WithKnowledgeType(knowledge.TypeNutrition),
		knowledge.WithLanguage("en"),
	)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, knowledge.TypeNutrition, r.Metadata.KnowledgeType)
		assert.Equal(t, "en", r.Metadata.Language)
	}
}

func TestService_LanguageFilterBeatsDistance(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	// identical content in two languages: the filter must win even though
	// the English entry ties on raw distance
	_, err := service.AddKnowledge(ctx, "avocado season runs from march to june", "avocado", knowledge.TypeSeasonal, "en")
	require.NoError(t, err)
	amID, err := service.AddKnowledge(ctx, "avocado season runs from march to june", "avocado", knowledge.TypeSeasonal, "am")
	require.NoError(t, err)

	results, err := service.SearchKnowledge(ctx, "avocado season runs from march to june", knowledge.WithLanguage("am"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, amID, results[0].Metadata.ID)
	assert.Equal(t, "am", results[0].Metadata.Language)
}

func TestService_EmptyFilterMatchIsNotAnError(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	for _, content := range []string{
		"store carrots in sand",
		"store potatoes in the dark",
		"store garlic in a mesh bag",
	} {
		_, err := service.AddKnowledge(ctx, content, "", knowledge.TypeStorage, "en")
		require.NoError(t, err)
	}

	results, err := service.SearchKnowledge(ctx, "anything", knowledge.WithKnowledgeType(knowledge.TypeRecipe))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_DeleteEffectiveness(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	id, err := service.AddKnowledge(ctx, "bananas ripen faster in a paper bag", "banana", knowledge.TypeStorage, "en")
	require.NoError(t, err)

	removed, err := service.DeleteKnowledge(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	results, err := service.SearchKnowledge(ctx, "bananas ripen faster in a paper bag")
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, id, r.Metadata.ID)
	}

	// deleting again is not an error, just a no-op
	removed, err = service.DeleteKnowledge(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestService_UpdateConsistency(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService(t)

	id, err := service.AddKnowledge(ctx, "old advice about storing mangoes", "mango", knowledge.TypeStorage, "en")
	require.NoError(t, err)

	require.NoError(t, service.UpdateKnowledge(ctx, id, "ripe mangoes belong in the refrigerator"))

	// the new content must round-trip
	results, err := service.SearchKnowledge(ctx, "ripe mangoes belong in the refrigerator", knowledge.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Metadata.ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)

	// the old embedding no longer yields an exact match
	results, err = service.SearchKnowledge(ctx, "old advice about storing mangoes", knowledge.WithLimit(10))
	require.NoError(t, err)
	for _, r := range results {
		if r.Metadata.ID == id {
			assert.Greater(t, r.Distance, 1e-5)
		}
	}

	// and the store carries the new content
	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ripe mangoes belong in the refrigerator", entry.Content)
}

func TestService_UpdateNotFound(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	err := service.UpdateKnowledge(ctx, uuid.NewString(), "new content")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestService_BootstrapIdempotence(t *testing.T) {
	ctx := context.Background()
	service, store, index := newTestService(t)

	// entries created behind the service's back, as an authoring pipeline
	// would
	for _, content := range []string{
		"red onions keep longer than white",
		"chickpeas are high in protein",
	} {
		productID := "crop"
		require.NoError(t, store.Create(ctx, &entity.KnowledgeEntry{
			ID:            uuid.NewString(),
			Content:       content,
			ProductID:     &productID,
			KnowledgeType: knowledge.TypeStorage,
			Language:      "en",
		}))
	}

	require.NoError(t, service.Bootstrap(ctx))
	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// a second bootstrap is a no-op, not a duplication
	require.NoError(t, service.Bootstrap(ctx))
	count, err = index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// gateStore lets a test hold a Reindex open inside GetAll so other calls can
// be interleaved against it.
type gateStore struct {
	knowledge.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gateStore) GetAll(ctx context.Context) ([]entity.KnowledgeEntry, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.GetAll(ctx)
}

func TestService_ReindexSerializedAgainstDeletes(t *testing.T) {
	ctx := context.Background()

	inner, err := knowledge.NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	store := &gateStore{
		Store:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	service := knowledge.NewService(store, knowledge.NewMemoryIndex(), &wordHashEmbedder{dim: 64}, nil)
	defer service.Close()

	id, err := service.AddKnowledge(ctx, "short lived entry", "tomato", knowledge.TypeStorage, "en")
	require.NoError(t, err)

	reindexDone := make(chan error, 1)
	go func() { reindexDone <- service.Reindex(ctx) }()

	// the rebuild is now inside GetAll and must hold the write lock, so the
	// delete below cannot land between the snapshot and the upsert loop
	<-store.entered

	deleteDone := make(chan error, 1)
	var removed bool
	go func() {
		var err error
		removed, err = service.DeleteKnowledge(ctx, id)
		deleteDone <- err
	}()

	close(store.release)
	require.NoError(t, <-reindexDone)
	require.NoError(t, <-deleteDone)
	assert.True(t, removed)

	// the rebuild must not resurrect the deleted entry
	results, err := service.SearchKnowledge(ctx, "short lived entry", knowledge.WithLimit(10))
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, id, r.Metadata.ID)
	}
}

func TestService_Reindex(t *testing.T) {
	ctx := context.Background()
	service, _, index := newTestService(t)

	id, err := service.AddKnowledge(ctx, "sort lentils before washing", "lentil", knowledge.TypeRecipe, "en")
	require.NoError(t, err)

	require.NoError(t, service.Reindex(ctx))

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := service.SearchKnowledge(ctx, "sort lentils before washing", knowledge.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Metadata.ID)
}

func TestService_TopKPrefixConsistency(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	for _, content := range []string{
		"tomatoes need warm weather",
		"tomatoes ripen off the vine",
		"green tomatoes can be fried",
		"cherry tomatoes grow in pots",
	} {
		_, err := service.AddKnowledge(ctx, content, "tomato", knowledge.TypeSeasonal, "en")
		require.NoError(t, err)
	}

	smaller, err := service.SearchKnowledge(ctx, "tomatoes ripen", knowledge.WithLimit(2))
	require.NoError(t, err)
	larger, err := service.SearchKnowledge(ctx, "tomatoes ripen", knowledge.WithLimit(3))
	require.NoError(t, err)

	require.Len(t, smaller, 2)
	require.Len(t, larger, 3)
	assert.Equal(t, smaller, larger[:2])
}

func TestService_SearchDeterminism(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	for _, content := range []string{
		"papaya is rich in vitamin c",
		"papaya ripens at room temperature",
		"papaya seeds are edible",
	} {
		_, err := service.AddKnowledge(ctx, content, "papaya", knowledge.TypeNutrition, "en")
		require.NoError(t, err)
	}

	first, err := service.SearchKnowledge(ctx, "papaya vitamin")
	require.NoError(t, err)
	second, err := service.SearchKnowledge(ctx, "papaya vitamin")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestService_LimitClamped(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.AddKnowledge(ctx, "cabbage stores well in a root cellar", "cabbage", knowledge.TypeStorage, "en")
	require.NoError(t, err)

	// an oversized limit is clamped, not rejected
	results, err := service.SearchKnowledge(ctx, "cabbage", knowledge.WithLimit(100000))
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestService_EmbeddingErrorIsNotEmptyResult(t *testing.T) {
	ctx := context.Background()

	store, err := knowledge.NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	service := knowledge.NewService(store, knowledge.NewMemoryIndex(), &failingEmbedder{}, nil)
	defer service.Close()

	_, err = service.SearchKnowledge(ctx, "anything")
	assert.ErrorIs(t, err, errors.ErrEmbedding)

	_, err = service.AddKnowledge(ctx, "content", "", knowledge.TypeStorage, "en")
	assert.ErrorIs(t, err, errors.ErrEmbedding)
}

func TestService_GetKnowledgeStats(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.AddKnowledge(ctx, "a", "tomato", knowledge.TypeStorage, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "b", "tomato", knowledge.TypeStorage, "am")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "c", "teff", knowledge.TypeNutrition, "en")
	require.NoError(t, err)

	stats, err := service.GetKnowledgeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 2, stats.KnowledgeTypes[knowledge.TypeStorage])
	assert.Equal(t, 1, stats.KnowledgeTypes[knowledge.TypeNutrition])
	assert.Equal(t, 2, stats.Languages["en"])
	assert.Equal(t, 1, stats.Languages["am"])
}

func TestService_GetProductKnowledge(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.AddKnowledge(ctx, "store avocados at room temperature until ripe", "avocado", knowledge.TypeStorage, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "avocados are high in healthy fats", "avocado", knowledge.TypeNutrition, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "unrelated fact", "teff", knowledge.TypeStorage, "en")
	require.NoError(t, err)

	entries, err := service.GetProductKnowledge(ctx, "avocado", "")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = service.GetProductKnowledge(ctx, "avocado", knowledge.TypeNutrition)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "avocados are high in healthy fats", entries[0].Content)

	_, err = service.GetProductKnowledge(ctx, "", "")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestService_SearchSimilarProducts(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	// tomato accumulates two relevant hits, banana one, and the general
	// entry (no product) is skipped
	_, err := service.AddKnowledge(ctx, "tomatoes love sunshine and heat", "tomato", knowledge.TypeSeasonal, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "tomatoes split when overwatered", "tomato", knowledge.TypeStorage, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "bananas bruise under heat", "banana", knowledge.TypeStorage, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "general heat advisory for tomatoes and produce", "", knowledge.TypeSeasonal, "en")
	require.NoError(t, err)

	matches, err := service.SearchSimilarProducts(ctx, "tomatoes heat", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "tomato", matches[0].ProductID)
	for _, m := range matches {
		assert.NotEmpty(t, m.ProductID)
	}

	_, err = service.SearchSimilarProducts(ctx, "tomatoes", 0)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestService_StorageTips(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.AddKnowledge(ctx, "storage tips for onions hang them in a dry spot", "onion", knowledge.TypeStorage, "en")
	require.NoError(t, err)
	_, err = service.AddKnowledge(ctx, "onion soup recipe with caramelized onions", "onion", knowledge.TypeRecipe, "en")
	require.NoError(t, err)

	tips, err := service.StorageTips(ctx, "onions")
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Contains(t, tips[0], "dry spot")
}
