package knowledge

import (
	"context"
)

// Index is the derived nearest-neighbor projection of the knowledge store.
// It holds one vector per canonical entry, keyed by the entry's id, and is
// fully reconstructable by re-embedding every entry in the store.
type Index interface {
	// Upsert stores the vector and metadata for an entry, replacing any
	// existing vector with the same id. The write must appear atomic to
	// concurrent readers.
	Upsert(ctx context.Context, content string, embedding []float32, meta Metadata) error

	// Delete removes the vector for id. It reports false when id is not
	// indexed; deletion is idempotent, not an error condition.
	Delete(ctx context.Context, id string) (bool, error)

	// Search restricts candidates to entries matching the filter, then ranks
	// the survivors by ascending cosine distance to the query embedding and
	// returns at most limit of them. Ties break by insertion order.
	Search(ctx context.Context, queryEmbedding []float32, limit int, filter Filter) ([]SearchResult, error)

	// List returns the indexed entries matching the filter, in insertion
	// order, without ranking.
	List(ctx context.Context, filter Filter) ([]IndexedEntry, error)

	// Count returns the index cardinality.
	Count(ctx context.Context) (int, error)

	// Stats scans the metadata currently in the index. It reflects what is
	// actually searchable, which may briefly differ from the store.
	Stats(ctx context.Context) (*Stats, error)

	// Reset drops every vector, leaving an empty index ready for a rebuild.
	Reset(ctx context.Context) error

	// Close releases the index's resources.
	Close() error
}
