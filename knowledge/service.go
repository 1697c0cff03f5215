package knowledge

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kcartbot/knowledge-engine/entity"
	kerrors "github.com/kcartbot/knowledge-engine/errors"
	"github.com/mokiat/gog"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type (
	// Service is the retrieval engine: it keeps the relational store and the
	// semantic index in sync and answers filtered nearest-neighbor queries.
	Service interface {
		// Bootstrap populates an empty index from every entry in the store.
		// Calling it on a non-empty index is a no-op.
		Bootstrap(ctx context.Context) error

		// AddKnowledge persists a new entry to the store and indexes it.
		// Returns the assigned id. productID may be empty for
		// general-purpose entries.
		AddKnowledge(ctx context.Context, content, productID, knowledgeType, language string) (string, error)

		// UpdateKnowledge re-embeds newContent and replaces the entry's
		// content in both the store and the index.
		UpdateKnowledge(ctx context.Context, id, newContent string) error

		// DeleteKnowledge removes the entry from both the index and the
		// store. Reports false, without error, when the id does not exist.
		DeleteKnowledge(ctx context.Context, id string) (bool, error)

		// SearchKnowledge embeds the query, filters candidates, and returns
		// them ranked by ascending cosine distance.
		SearchKnowledge(ctx context.Context, query string, opts ...SearchOption) ([]SearchResult, error)

		// GetProductKnowledge lists everything indexed for a product,
		// optionally narrowed to one knowledge type.
		GetProductKnowledge(ctx context.Context, productID, knowledgeType string) ([]IndexedEntry, error)

		// GetKnowledgeStats reports what is currently searchable.
		GetKnowledgeStats(ctx context.Context) (*Stats, error)

		// SearchSimilarProducts finds products through their knowledge
		// content, ranked by accumulated relevance.
		SearchSimilarProducts(ctx context.Context, query string, limit int) ([]ProductMatch, error)

		StorageTips(ctx context.Context, productName string) ([]string, error)
		NutritionalInfo(ctx context.Context, productName string) ([]string, error)
		Recipes(ctx context.Context, productName string) ([]string, error)
		SeasonalInfo(ctx context.Context, productName string) ([]string, error)

		// Reindex drops the index and rebuilds it from the store. This is
		// the recovery path after index loss or an embedding model change.
		Reindex(ctx context.Context) error

		Close() error
	}

	service struct {
		store    Store
		index    Index
		embedder Embedder
		logger   *slog.Logger

		// writeMu serializes store+index writes so concurrent updates to the
		// same id cannot lose one of the two halves. Searches stay lock-free.
		writeMu sync.Mutex

		// bootstrapMu makes the empty-check and the bulk load one step.
		bootstrapMu sync.Mutex
	}
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 100
	helperTipLimit     = 3

	bootstrapBatchSize = 64
)

var _ Service = (*service)(nil)

func NewService(store Store, index Index, embedder Embedder, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		store:    store,
		index:    index,
		embedder: embedder,
		logger:   logger,
	}
}

// Bootstrap implements Service.Bootstrap. Idempotence is checked through
// index cardinality, not a flag, so a rebuilt-from-scratch index is loaded
// again and a populated one is left alone.
func (s *service) Bootstrap(ctx context.Context) error {
	s.bootstrapMu.Lock()
	defer s.bootstrapMu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	count, err := s.index.Count(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to check index cardinality")
	}
	if count > 0 {
		return nil
	}

	return s.loadAll(ctx)
}

// loadAll embeds every store entry and inserts it into the index.
// Callers must hold bootstrapMu and writeMu.
func (s *service) loadAll(ctx context.Context) error {
	entries, err := s.store.GetAll(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to load knowledge entries")
	}
	if len(entries) == 0 {
		s.logger.Info("no knowledge entries to index")
		return nil
	}

	for _, batch := range lo.Chunk(entries, bootstrapBatchSize) {
		texts := gog.Map(batch, func(e entity.KnowledgeEntry) string { return e.Content })

		embeddings, err := s.embed(ctx, EmbeddingTaskTypeDocument, texts...)
		if err != nil {
			return err
		}

		for i, entry := range batch {
			if err := s.index.Upsert(ctx, entry.Content, embeddings[i], entryMetadata(entry)); err != nil {
				return errors.Wrapf(err, "failed to index knowledge entry %q", entry.ID)
			}
		}
	}

	s.logger.Info("knowledge base indexed", "entries", len(entries))
	return nil
}

// AddKnowledge implements Service.AddKnowledge. The store is written first:
// it is authoritative, and Reindex heals an index that missed the second
// half of the write.
func (s *service) AddKnowledge(ctx context.Context, content, productID, knowledgeType, language string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errors.Wrapf(kerrors.ErrValidation, "content must not be empty")
	}
	if language == "" {
		language = "en"
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	entry := entity.KnowledgeEntry{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now(),
		Content:       content,
		KnowledgeType: knowledgeType,
		Language:      language,
	}
	if productID != "" {
		entry.ProductID = &productID
	}

	embeddings, err := s.embed(ctx, EmbeddingTaskTypeDocument, content)
	if err != nil {
		return "", err
	}

	if err := s.store.Create(ctx, &entry); err != nil {
		return "", err
	}
	if err := s.index.Upsert(ctx, content, embeddings[0], entryMetadata(entry)); err != nil {
		return "", errors.Wrapf(err, "entry %q stored but not indexed; run reindex to heal", entry.ID)
	}

	s.logger.Debug("added knowledge", "id", entry.ID, "type", knowledgeType, "language", language)
	return entry.ID, nil
}

// UpdateKnowledge implements Service.UpdateKnowledge.
func (s *service) UpdateKnowledge(ctx context.Context, id, newContent string) error {
	if strings.TrimSpace(newContent) == "" {
		return errors.Wrapf(kerrors.ErrValidation, "content must not be empty")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	embeddings, err := s.embed(ctx, EmbeddingTaskTypeDocument, newContent)
	if err != nil {
		return err
	}

	if err := s.store.UpdateContent(ctx, id, newContent); err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, newContent, embeddings[0], entryMetadata(*entry)); err != nil {
		return errors.Wrapf(err, "entry %q updated but not re-indexed; run reindex to heal", id)
	}

	s.logger.Debug("updated knowledge", "id", id)
	return nil
}

// DeleteKnowledge implements Service.DeleteKnowledge.
func (s *service) DeleteKnowledge(ctx context.Context, id string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	indexed, err := s.index.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	stored, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}

	removed := indexed || stored
	if removed {
		s.logger.Debug("deleted knowledge", "id", id)
	}
	return removed, nil
}

// SearchKnowledge implements Service.SearchKnowledge. An embedding failure
// is a hard error, never an empty result: callers must be able to tell "no
// knowledge found" from "the subsystem is broken".
func (s *service) SearchKnowledge(ctx context.Context, query string, opts ...SearchOption) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.Wrapf(kerrors.ErrValidation, "query must not be empty")
	}

	cfg := buildSearchConfig(opts)
	if cfg.limit <= 0 {
		return nil, errors.Wrapf(kerrors.ErrValidation, "limit must be positive, got %d", cfg.limit)
	}
	if cfg.limit > maxSearchLimit {
		cfg.limit = maxSearchLimit
	}

	embeddings, err := s.embed(ctx, EmbeddingTaskTypeQuery, query)
	if err != nil {
		return nil, err
	}

	results, err := s.index.Search(ctx, embeddings[0], cfg.limit, cfg.filter)
	if err != nil {
		return nil, errors.Wrapf(err, "search failed")
	}

	return results, nil
}

// GetProductKnowledge implements Service.GetProductKnowledge.
func (s *service) GetProductKnowledge(ctx context.Context, productID, knowledgeType string) ([]IndexedEntry, error) {
	if productID == "" {
		return nil, errors.Wrapf(kerrors.ErrValidation, "product id must not be empty")
	}

	return s.index.List(ctx, Filter{
		ProductID:     productID,
		KnowledgeType: knowledgeType,
	})
}

// GetKnowledgeStats implements Service.GetKnowledgeStats.
func (s *service) GetKnowledgeStats(ctx context.Context) (*Stats, error) {
	return s.index.Stats(ctx)
}

// SearchSimilarProducts implements Service.SearchSimilarProducts. Hits are
// grouped by product; each product accumulates 1-distance over its hits, so
// products with several close matches outrank a single lucky one. Entries
// without a product reference are skipped.
func (s *service) SearchSimilarProducts(ctx context.Context, query string, limit int) ([]ProductMatch, error) {
	if limit <= 0 {
		return nil, errors.Wrapf(kerrors.ErrValidation, "limit must be positive, got %d", limit)
	}

	results, err := s.SearchKnowledge(ctx, query, WithLimit(limit*2))
	if err != nil {
		return nil, err
	}

	grouped := lo.GroupBy(
		lo.Filter(results, func(r SearchResult, _ int) bool { return r.Metadata.ProductID != "" }),
		func(r SearchResult) string { return r.Metadata.ProductID },
	)

	matches := make([]ProductMatch, 0, len(grouped))
	for productID, items := range grouped {
		match := ProductMatch{
			ProductID:      productID,
			KnowledgeItems: items,
		}
		for _, item := range items {
			match.RelevanceScore += 1 - item.Distance
		}
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].RelevanceScore != matches[j].RelevanceScore {
			return matches[i].RelevanceScore > matches[j].RelevanceScore
		}
		return matches[i].ProductID < matches[j].ProductID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// StorageTips implements Service.StorageTips.
func (s *service) StorageTips(ctx context.Context, productName string) ([]string, error) {
	return s.tips(ctx, "storage tips for "+productName, TypeStorage)
}

// NutritionalInfo implements Service.NutritionalInfo.
func (s *service) NutritionalInfo(ctx context.Context, productName string) ([]string, error) {
	return s.tips(ctx, "nutritional information calories "+productName, TypeNutrition)
}

// Recipes implements Service.Recipes.
func (s *service) Recipes(ctx context.Context, productName string) ([]string, error) {
	return s.tips(ctx, "recipes using "+productName, TypeRecipe)
}

// SeasonalInfo implements Service.SeasonalInfo.
func (s *service) SeasonalInfo(ctx context.Context, productName string) ([]string, error) {
	return s.tips(ctx, "seasonal information "+productName, TypeSeasonal)
}

// tips routes the convenience lookups through the same filter-then-rank
// search as every other query.
func (s *service) tips(ctx context.Context, query, knowledgeType string) ([]string, error) {
	results, err := s.SearchKnowledge(ctx, query,
		WithKnowledgeType(knowledgeType),
		WithLimit(helperTipLimit),
	)
	if err != nil {
		return nil, err
	}

	return gog.Map(results, func(r SearchResult) string { return r.Content }), nil
}

// Reindex implements Service.Reindex. The write lock is held across the
// reset and the rebuild: a delete or update that slipped between the store
// snapshot and the upsert loop would otherwise reappear in the index with no
// backing entry.
func (s *service) Reindex(ctx context.Context) error {
	s.bootstrapMu.Lock()
	defer s.bootstrapMu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.index.Reset(ctx); err != nil {
		return errors.Wrapf(err, "failed to reset index")
	}

	return s.loadAll(ctx)
}

// Close implements Service.Close.
func (s *service) Close() error {
	indexErr := s.index.Close()
	storeErr := s.store.Close()
	if indexErr != nil {
		return indexErr
	}
	return storeErr
}

// embed wraps embedder failures in the engine's error taxonomy and rejects
// degenerate responses so a zero vector never reaches the index.
func (s *service) embed(ctx context.Context, taskType EmbeddingTaskType, texts ...string) ([][]float32, error) {
	embeddings, err := s.embedder.Embed(ctx, taskType, texts...)
	if err != nil {
		return nil, errors.Wrapf(kerrors.ErrEmbedding, "%v", err)
	}
	if len(embeddings) != len(texts) {
		return nil, errors.Wrapf(kerrors.ErrEmbedding, "embedding count mismatch: got %d, expected %d", len(embeddings), len(texts))
	}
	for i, embedding := range embeddings {
		if len(embedding) == 0 {
			return nil, errors.Wrapf(kerrors.ErrEmbedding, "empty embedding returned for text %d", i)
		}
	}

	return embeddings, nil
}

func entryMetadata(entry entity.KnowledgeEntry) Metadata {
	meta := Metadata{
		ID:            entry.ID,
		KnowledgeType: entry.KnowledgeType,
		Language:      entry.Language,
	}
	if entry.ProductID != nil {
		meta.ProductID = *entry.ProductID
	}
	return meta
}
