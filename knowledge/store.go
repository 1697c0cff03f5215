package knowledge

import (
	"context"

	"github.com/kcartbot/knowledge-engine/entity"
	kerrors "github.com/kcartbot/knowledge-engine/errors"
	"github.com/kcartbot/knowledge-engine/internal/db"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Store is the relational source of truth for knowledge entries. The index
// is derived from it: search never touches the store, only writes and
// bootstrap do.
type Store interface {
	Create(ctx context.Context, entry *entity.KnowledgeEntry) error
	Get(ctx context.Context, id string) (*entity.KnowledgeEntry, error)
	GetAll(ctx context.Context) ([]entity.KnowledgeEntry, error)
	UpdateContent(ctx context.Context, id string, content string) error
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

type gormStore struct {
	db *gorm.DB
}

var _ Store = (*gormStore)(nil)

// NewSqliteStore opens a SQLite-backed store at path and migrates its
// schema. This file is distinct from the index's storage.
func NewSqliteStore(path string) (Store, error) {
	gormDB, err := db.OpenSqlite(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open knowledge store at %s", path)
	}

	if err := gormDB.AutoMigrate(&entity.KnowledgeEntry{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate knowledge store")
	}

	return &gormStore{db: gormDB}, nil
}

// NewStore wraps an existing gorm DB. The caller keeps ownership of the
// connection; Close is still safe to call.
func NewStore(gormDB *gorm.DB) (Store, error) {
	if err := gormDB.AutoMigrate(&entity.KnowledgeEntry{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate knowledge store")
	}

	return &gormStore{db: gormDB}, nil
}

func (s *gormStore) Create(ctx context.Context, entry *entity.KnowledgeEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.Wrapf(err, "failed to create knowledge entry")
	}

	return nil
}

func (s *gormStore) Get(ctx context.Context, id string) (*entity.KnowledgeEntry, error) {
	var entry entity.KnowledgeEntry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(kerrors.ErrNotFound, "knowledge entry %q", id)
		}
		return nil, errors.Wrapf(err, "failed to get knowledge entry %q", id)
	}

	return &entry, nil
}

func (s *gormStore) GetAll(ctx context.Context) ([]entity.KnowledgeEntry, error) {
	var entries []entity.KnowledgeEntry
	if err := s.db.WithContext(ctx).Order("created_at").Find(&entries).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list knowledge entries")
	}

	return entries, nil
}

func (s *gormStore) UpdateContent(ctx context.Context, id string, content string) error {
	result := s.db.WithContext(ctx).
		Model(&entity.KnowledgeEntry{}).
		Where("id = ?", id).
		Update("content", content)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update knowledge entry %q", id)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(kerrors.ErrNotFound, "knowledge entry %q", id)
	}

	return nil
}

func (s *gormStore) Delete(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&entity.KnowledgeEntry{}, "id = ?", id)
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "failed to delete knowledge entry %q", id)
	}

	return result.RowsAffected > 0, nil
}

func (s *gormStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&entity.KnowledgeEntry{}).Count(&count).Error; err != nil {
		return 0, errors.Wrapf(err, "failed to count knowledge entries")
	}

	return count, nil
}

func (s *gormStore) Close() error {
	return db.CloseDB(s.db)
}
