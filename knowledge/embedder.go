package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

type (
	EmbeddingTaskType string

	// Embedder maps text to fixed-length dense vectors. The same input must
	// always produce the same vector within a running system, and failures
	// must surface as errors: a silent zero vector corrupts ranking.
	Embedder interface {
		Embed(ctx context.Context, taskType EmbeddingTaskType, texts ...string) ([][]float32, error)
		Dimension() int
	}

	// NomicEmbedder calls the Nomic Atlas text embedding API. It handles
	// mixed-script text (Latin, Ethiopic) without language-specific
	// preprocessing.
	NomicEmbedder struct {
		client   *http.Client
		apiKey   string
		endpoint string
	}
)

const (
	EmbeddingTaskTypeDocument EmbeddingTaskType = "search_document"
	EmbeddingTaskTypeQuery    EmbeddingTaskType = "search_query"

	NomicEmbedderTextEndpoint = "https://api-atlas.nomic.ai/v1/embedding/text"
	NomicTextEmbedderModel    = "nomic-embed-text-v1.5"

	nomicEmbedDimension = 768
)

func (e *EmbeddingTaskType) String() string {
	return string(*e)
}

func NewNomicEmbedder(apiKey string) *NomicEmbedder {
	return &NomicEmbedder{
		client:   http.DefaultClient,
		apiKey:   apiKey,
		endpoint: NomicEmbedderTextEndpoint,
	}
}

func (e *NomicEmbedder) Embed(ctx context.Context, taskType EmbeddingTaskType, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var requestBody bytes.Buffer
	if err := json.NewEncoder(&requestBody).Encode(struct {
		TaskType string   `json:"task_type"`
		Model    string   `json:"model"`
		Texts    []string `json:"texts"`
	}{
		TaskType: taskType.String(),
		Model:    NomicTextEmbedderModel,
		Texts:    texts,
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &requestBody)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("failed to embed text: HTTP %d - %s", resp.StatusCode, string(body))
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, errors.Wrapf(err, "failed to decode response")
	}

	if len(response.Embeddings) != len(texts) {
		return nil, errors.Errorf("embedding count mismatch: got %d, expected %d", len(response.Embeddings), len(texts))
	}
	for i, embedding := range response.Embeddings {
		if len(embedding) == 0 {
			return nil, errors.Errorf("empty embedding returned for text %d", i)
		}
	}

	return response.Embeddings, nil
}

func (e *NomicEmbedder) Dimension() int {
	return nomicEmbedDimension
}
