package entity

import (
	"time"

	"gorm.io/datatypes"
)

// KnowledgeEntry is the canonical record behind the semantic index. The
// relational store owns these rows; the index is a rebuildable projection
// of them.
type KnowledgeEntry struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Content is the text that gets embedded and returned verbatim on match.
	// Never empty.
	Content string `gorm:"not null" json:"content"`

	// ProductID references a product owned by the commerce layer. Nil for
	// general-purpose entries. Referential integrity is not enforced here.
	ProductID *string `gorm:"index" json:"product_id,omitempty"`

	// KnowledgeType is a soft category tag ("storage", "nutrition",
	// "recipe", "seasonal", ...). Filtering on it is exact-match only.
	KnowledgeType string `gorm:"index" json:"knowledge_type"`

	// Language tags the entry's natural language ("en", "am", "am-latn").
	// It is never inferred from content.
	Language string `gorm:"index" json:"language"`

	Metadata datatypes.JSONType[map[string]any] `json:"metadata,omitempty"`
}

func (KnowledgeEntry) TableName() string {
	return "knowledge_entries"
}
