package knowledge

import (
	"context"

	goopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"
)

// OpenAIEmbedder generates embeddings with OpenAI's text-embedding-3-small.
// Swapping embedding models invalidates an existing index; an index built
// with one embedder must be rebuilt before searching with another.
type OpenAIEmbedder struct {
	client goopenai.Client
	model  string
	dim    int
}

const openaiEmbedDimension = 1536

func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	client := goopenai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &OpenAIEmbedder{
		client: client,
		model:  goopenai.EmbeddingModelTextEmbedding3Small,
		dim:    openaiEmbedDimension,
	}
}

// Embed implements Embedder. The task type is ignored: OpenAI embedding
// models do not distinguish document and query inputs.
func (e *OpenAIEmbedder) Embed(ctx context.Context, _ EmbeddingTaskType, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var input goopenai.EmbeddingNewParamsInputUnion
	input.OfArrayOfStrings = append(input.OfArrayOfStrings, texts...)

	res, err := e.client.Embeddings.New(ctx, goopenai.EmbeddingNewParams{
		Input:          input,
		Model:          e.model,
		EncodingFormat: goopenai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to embed texts")
	}

	if len(res.Data) != len(texts) {
		return nil, errors.Errorf("embedding count mismatch: got %d, expected %d", len(res.Data), len(texts))
	}

	embeddings := make([][]float32, len(res.Data))
	for i, emb := range res.Data {
		if len(emb.Embedding) == 0 {
			return nil, errors.Errorf("empty embedding returned for text %d", i)
		}
		embedding := make([]float32, len(emb.Embedding))
		for j, val := range emb.Embedding {
			embedding[j] = float32(val)
		}
		embeddings[i] = embedding
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}
