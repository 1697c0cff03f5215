package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	kerrors "github.com/kcartbot/knowledge-engine/errors"
	"github.com/kcartbot/knowledge-engine/internal/db"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// SqliteIndex implements Index using SQLite with the sqlite-vec extension.
// Vectors live in a vec0 virtual table configured for cosine distance; the
// filterable metadata lives in a plain table next to it. The whole index is
// one file under its own directory, which is the unit of backup and restore
// for the retrieval engine.
type SqliteIndex struct {
	db     *gorm.DB
	vecDim int
}

// IndexEntryRecord is the metadata row stored alongside each vector.
type IndexEntryRecord struct {
	ID        string    `gorm:"primaryKey"`
	Seq       int64     `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Content       string
	ProductID     string `gorm:"index"`
	KnowledgeType string `gorm:"index"`
	Language      string `gorm:"index"`
}

func (IndexEntryRecord) TableName() string {
	return "index_entries"
}

var _ Index = (*SqliteIndex)(nil)

// NewSqliteIndex opens (or creates) the persisted index under dir. The
// dimension must match the embedder for the lifetime of the index; changing
// the embedding model requires a full rebuild.
func NewSqliteIndex(dir string, dimension int) (*SqliteIndex, error) {
	// Initialize sqlite-vec extension
	sqlite_vec.Auto()

	path := ":memory:"
	if dir != ":memory:" {
		path = filepath.Join(dir, "knowledge.db")
	}

	gormDB, err := db.OpenSqlite(path)
	if err != nil {
		return nil, errors.Wrapf(kerrors.ErrBackendUnavailable, "failed to open index database at %s: %v", path, err)
	}

	index := &SqliteIndex{
		db:     gormDB,
		vecDim: dimension,
	}

	if err := gormDB.AutoMigrate(&IndexEntryRecord{}); err != nil {
		return nil, errors.Wrapf(kerrors.ErrBackendUnavailable, "failed to migrate index tables: %v", err)
	}

	if err := index.createVectorTable(); err != nil {
		return nil, err
	}

	return index, nil
}

// createVectorTable creates the sqlite-vec virtual table.
func (s *SqliteIndex) createVectorTable() error {
	// Verify sqlite-vec is loaded
	var sqliteVersion, vecVersion string
	err := s.db.Raw("SELECT sqlite_version(), vec_version()").Row().Scan(&sqliteVersion, &vecVersion)
	if err != nil {
		return errors.Wrapf(kerrors.ErrBackendUnavailable, "sqlite-vec extension not properly loaded: %v", err)
	}

	createTableSQL := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entry_vectors USING vec0(
			entry_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.vecDim)

	if err := s.db.Exec(createTableSQL).Error; err != nil {
		return errors.Wrapf(kerrors.ErrBackendUnavailable, "failed to create entry_vectors table: %v", err)
	}

	return nil
}

// Upsert implements Index.Upsert. The metadata row and the vector are
// written in one transaction, so readers never observe a partial write. An
// id collision overwrites the previous vector and keeps its insertion
// sequence.
func (s *SqliteIndex) Upsert(ctx context.Context, content string, embedding []float32, meta Metadata) error {
	if len(embedding) != s.vecDim {
		return errors.Errorf("embedding dimension mismatch: got %d, expected %d", len(embedding), s.vecDim)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := IndexEntryRecord{
			ID: meta.ID,
		}
		err := tx.First(&record, "id = ?", meta.ID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			var maxSeq int64
			if err := tx.Model(&IndexEntryRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
				return errors.Wrapf(err, "failed to allocate insertion sequence")
			}
			record.Seq = maxSeq + 1
		case err != nil:
			return errors.Wrapf(err, "failed to look up index entry")
		}

		record.Content = content
		record.ProductID = meta.ProductID
		record.KnowledgeType = meta.KnowledgeType
		record.Language = meta.Language

		if err := tx.Save(&record).Error; err != nil {
			return errors.Wrapf(err, "failed to save index entry")
		}

		// Delete existing vector (if updating)
		if err := tx.Exec("DELETE FROM entry_vectors WHERE entry_id = ?", meta.ID).Error; err != nil {
			return errors.Wrapf(err, "failed to delete existing vector")
		}

		serialized, err := sqlite_vec.SerializeFloat32(embedding)
		if err != nil {
			return errors.Wrapf(err, "failed to serialize embedding")
		}

		if err := tx.Exec("INSERT INTO entry_vectors (entry_id, embedding) VALUES (?, ?)", meta.ID, serialized).Error; err != nil {
			return errors.Wrapf(err, "failed to insert entry vector")
		}

		return nil
	})
}

// Delete implements Index.Delete.
func (s *SqliteIndex) Delete(ctx context.Context, id string) (bool, error) {
	removed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&IndexEntryRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return errors.Wrapf(err, "failed to look up index entry")
		}
		if count == 0 {
			return nil
		}

		if err := tx.Exec("DELETE FROM entry_vectors WHERE entry_id = ?", id).Error; err != nil {
			return errors.Wrapf(err, "failed to delete vector")
		}
		if err := tx.Delete(&IndexEntryRecord{}, "id = ?", id).Error; err != nil {
			return errors.Wrapf(err, "failed to delete index entry")
		}

		removed = true
		return nil
	})

	return removed, err
}

// Search implements Index.Search. Filters restrict the candidate set before
// the KNN scan: the filter predicates select candidate ids from the metadata
// table, and the vector query ranks only those. Truncating first and
// filtering after would silently drop relevant results.
func (s *SqliteIndex) Search(ctx context.Context, queryEmbedding []float32, limit int, filter Filter) ([]SearchResult, error) {
	if len(queryEmbedding) == 0 || limit <= 0 {
		return []SearchResult{}, nil
	}

	tx := s.db.WithContext(ctx)

	var candidateIDs []string
	if !filter.IsZero() {
		query := tx.Model(&IndexEntryRecord{})
		if filter.ProductID != "" {
			query = query.Where("product_id = ?", filter.ProductID)
		}
		if filter.KnowledgeType != "" {
			query = query.Where("knowledge_type = ?", filter.KnowledgeType)
		}
		if filter.Language != "" {
			query = query.Where("language = ?", filter.Language)
		}
		if err := query.Pluck("id", &candidateIDs).Error; err != nil {
			return nil, errors.Wrapf(err, "failed to select filter candidates")
		}

		// A filter matching nothing is an empty result, not an error
		if len(candidateIDs) == 0 {
			return []SearchResult{}, nil
		}
	}

	serialized, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize query embedding")
	}

	var searchSQL string
	var args []any
	if len(candidateIDs) > 0 {
		// sqlite-vec only honors IN constraints on knn scans when the values
		// come from a subquery, so the candidate ids are bound as a JSON array
		candidateJSON, err := json.Marshal(candidateIDs)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode filter candidates")
		}
		searchSQL = `
			SELECT entry_id, distance
			FROM entry_vectors
			WHERE embedding MATCH ? AND k = ? AND entry_id IN (SELECT value FROM json_each(?))
			ORDER BY distance
		`
		args = []any{serialized, limit, string(candidateJSON)}
	} else {
		searchSQL = `
			SELECT entry_id, distance
			FROM entry_vectors
			WHERE embedding MATCH ?
			ORDER BY distance
			LIMIT ?
		`
		args = []any{serialized, limit}
	}

	rows, err := tx.Raw(searchSQL, args...).Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to execute search query")
	}
	defer rows.Close()

	distanceByID := make(map[string]float64)
	var ids []string
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, errors.Wrapf(err, "failed to scan result row")
		}
		ids = append(ids, id)
		distanceByID[id] = distance
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate result rows")
	}

	if len(ids) == 0 {
		return []SearchResult{}, nil
	}

	var records []IndexEntryRecord
	if err := tx.Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to fetch index entries")
	}

	results := make([]SearchResult, 0, len(records))
	seqByID := make(map[string]int64, len(records))
	for _, record := range records {
		seqByID[record.ID] = record.Seq
		results = append(results, SearchResult{
			Content:  record.Content,
			Metadata: recordMetadata(record),
			Distance: distanceByID[record.ID],
		})
	}

	// ascending distance, insertion order on ties
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return seqByID[results[i].Metadata.ID] < seqByID[results[j].Metadata.ID]
	})

	return results, nil
}

// List implements Index.List.
func (s *SqliteIndex) List(ctx context.Context, filter Filter) ([]IndexedEntry, error) {
	query := s.db.WithContext(ctx).Model(&IndexEntryRecord{}).Order("seq")
	if filter.ProductID != "" {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if filter.KnowledgeType != "" {
		query = query.Where("knowledge_type = ?", filter.KnowledgeType)
	}
	if filter.Language != "" {
		query = query.Where("language = ?", filter.Language)
	}

	var records []IndexEntryRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list index entries")
	}

	entries := make([]IndexedEntry, len(records))
	for i, record := range records {
		entries[i] = IndexedEntry{
			Content:  record.Content,
			Metadata: recordMetadata(record),
		}
	}

	return entries, nil
}

// Count implements Index.Count.
func (s *SqliteIndex) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&IndexEntryRecord{}).Count(&count).Error; err != nil {
		return 0, errors.Wrapf(err, "failed to count index entries")
	}

	return int(count), nil
}

// Stats implements Index.Stats.
func (s *SqliteIndex) Stats(ctx context.Context) (*Stats, error) {
	tx := s.db.WithContext(ctx)

	stats := &Stats{
		KnowledgeTypes: make(map[string]int),
		Languages:      make(map[string]int),
	}

	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalItems = total

	type bucket struct {
		Key   string
		Count int
	}

	var typeBuckets []bucket
	if err := tx.Model(&IndexEntryRecord{}).
		Select("knowledge_type AS key, COUNT(*) AS count").
		Group("knowledge_type").
		Scan(&typeBuckets).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to aggregate knowledge types")
	}
	for _, b := range typeBuckets {
		stats.KnowledgeTypes[b.Key] = b.Count
	}

	var langBuckets []bucket
	if err := tx.Model(&IndexEntryRecord{}).
		Select("language AS key, COUNT(*) AS count").
		Group("language").
		Scan(&langBuckets).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to aggregate languages")
	}
	for _, b := range langBuckets {
		stats.Languages[b.Key] = b.Count
	}

	return stats, nil
}

// Reset implements Index.Reset.
func (s *SqliteIndex) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM entry_vectors").Error; err != nil {
			return errors.Wrapf(err, "failed to clear vectors")
		}
		if err := tx.Exec("DELETE FROM index_entries").Error; err != nil {
			return errors.Wrapf(err, "failed to clear index entries")
		}
		return nil
	})
}

// Close implements Index.Close.
func (s *SqliteIndex) Close() error {
	return db.CloseDB(s.db)
}

func recordMetadata(record IndexEntryRecord) Metadata {
	return Metadata{
		ID:            record.ID,
		ProductID:     record.ProductID,
		KnowledgeType: record.KnowledgeType,
		Language:      record.Language,
	}
}
