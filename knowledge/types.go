package knowledge

type (
	// Metadata is the structured payload stored next to each vector in the
	// index. It mirrors the canonical entry's filterable fields.
	Metadata struct {
		ID            string `json:"id"`
		ProductID     string `json:"product_id,omitempty"`
		KnowledgeType string `json:"knowledge_type"`
		Language      string `json:"language"`
	}

	// Filter is an exact-match predicate on entry metadata. Zero-valued
	// fields are ignored; set fields combine with logical AND. Filtering is
	// applied before ranking, never as a post-process of a truncated top-k.
	Filter struct {
		ProductID     string
		KnowledgeType string
		Language      string
	}

	// SearchResult is one ranked hit. Distance is the raw cosine distance
	// from the index backend; lower means more similar, and callers must
	// not assume a fixed numeric range beyond that.
	SearchResult struct {
		Content  string   `json:"content"`
		Metadata Metadata `json:"metadata"`
		Distance float64  `json:"distance"`
	}

	// IndexedEntry is a metadata-only view of an indexed entry, used for
	// listings that carry no ranking.
	IndexedEntry struct {
		Content  string   `json:"content"`
		Metadata Metadata `json:"metadata"`
	}

	// Stats reports what is actually searchable: it is computed from the
	// index, not the relational store.
	Stats struct {
		TotalItems     int            `json:"total_items"`
		KnowledgeTypes map[string]int `json:"knowledge_types"`
		Languages      map[string]int `json:"languages"`
	}

	// ProductMatch groups search hits by product for content-driven product
	// discovery. RelevanceScore accumulates 1-distance over the product's
	// hits, so higher is better.
	ProductMatch struct {
		ProductID      string         `json:"product_id"`
		KnowledgeItems []SearchResult `json:"knowledge_items"`
		RelevanceScore float64        `json:"relevance_score"`
	}
)

// Well-known knowledge type tags. The vocabulary is open; these are the
// values the curated corpus uses.
const (
	TypeStorage   = "storage"
	TypeNutrition = "nutrition"
	TypeRecipe    = "recipe"
	TypeSeasonal  = "seasonal"
)

// IsZero reports whether no predicate is set.
func (f Filter) IsZero() bool {
	return f.ProductID == "" && f.KnowledgeType == "" && f.Language == ""
}

// Matches reports whether the metadata satisfies every set predicate.
func (f Filter) Matches(m Metadata) bool {
	if f.ProductID != "" && f.ProductID != m.ProductID {
		return false
	}
	if f.KnowledgeType != "" && f.KnowledgeType != m.KnowledgeType {
		return false
	}
	if f.Language != "" && f.Language != m.Language {
		return false
	}
	return true
}
