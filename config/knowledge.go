package config

// KnowledgeConfig holds the settings for the knowledge store, the semantic
// index, and the embedding backend.
type KnowledgeConfig struct {
	// StorePath specifies the file path for the relational SQLite database
	// that owns the canonical knowledge entries.
	// Default: data/kcart.db
	StorePath string `yaml:"storePath" json:"storePath,omitempty"`

	// IndexDir specifies the directory holding the persisted semantic index.
	// It is kept separate from StorePath so the index can be backed up,
	// restored, or thrown away (and rebuilt) on its own.
	// Default: data/index
	IndexDir string `yaml:"indexDir" json:"indexDir,omitempty"`

	// Embedder selects the embedding backend.
	// Options: "nomic" (Nomic Atlas text API), "openai" (text-embedding-3-small)
	// Default: "nomic"
	Embedder string `yaml:"embedder" json:"embedder,omitempty"`

	// NomicAPIKey authenticates against the Nomic Atlas embedding API.
	NomicAPIKey string `yaml:"nomicApiKey" json:"-"`

	// OpenAIAPIKey authenticates against the OpenAI embedding API.
	OpenAIAPIKey string `yaml:"openaiApiKey" json:"-"`
}

// NewKnowledgeConfig creates a KnowledgeConfig with sensible defaults.
// These defaults can be overridden by a config file or environment variables.
func NewKnowledgeConfig() *KnowledgeConfig {
	return &KnowledgeConfig{
		StorePath: "data/kcart.db",
		IndexDir:  "data/index",
		Embedder:  "nomic",
	}
}
