package providers

import "context"

// Task values understood by task-aware embedding models.
const (
	TaskPassage = "retrieval.passage"
	TaskQuery   = "retrieval.query"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Task      string   `json:"task"`
	Model     string   `json:"model,omitempty"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}
