package knowledge

type (
	searchConfig struct {
		limit  int
		filter Filter
	}

	// SearchOption customizes a single SearchKnowledge call.
	SearchOption func(*searchConfig)
)

// WithLimit sets the maximum number of results. Values above the engine's
// cap are clamped; non-positive values are rejected at search time.
func WithLimit(limit int) SearchOption {
	return func(cfg *searchConfig) {
		cfg.limit = limit
	}
}

// WithProduct restricts results to one product's entries.
func WithProduct(productID string) SearchOption {
	return func(cfg *searchConfig) {
		cfg.filter.ProductID = productID
	}
}

// WithKnowledgeType restricts results to one knowledge type. Matching is
// exact, never substring.
func WithKnowledgeType(knowledgeType string) SearchOption {
	return func(cfg *searchConfig) {
		cfg.filter.KnowledgeType = knowledgeType
	}
}

// WithLanguage restricts results to one language tag.
func WithLanguage(language string) SearchOption {
	return func(cfg *searchConfig) {
		cfg.filter.Language = language
	}
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{
		limit: defaultSearchLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
