package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OllamaEmbeddingProvider runs embeddings against a local Ollama server, one
// input per request.
type OllamaEmbeddingProvider struct {
	alias   string
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaEmbeddingProvider(alias string) *OllamaEmbeddingProvider {
	baseURL := strings.TrimSpace(os.Getenv("PAPERFLOW_OLLAMA_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbeddingProvider{
		alias:   alias,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   resolveOllamaEmbedModel(alias),
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (o *OllamaEmbeddingProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.model, Key: o.alias}
	out := make([][]float32, 0, len(req.Inputs))
	for _, text := range req.Inputs {
		payload, err := json.Marshal(map[string]any{
			"model":  o.model,
			"prompt": taskPrefix(o.model, req.Task) + text,
		})
		if err != nil {
			return nil, info, fmt.Errorf("encode ollama request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, info, fmt.Errorf("build ollama request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(httpReq)
		if err != nil {
			return nil, info, requestError("ollama", "embeddings", err)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, info, requestError("ollama", "embeddings", err)
		}
		if resp.StatusCode >= 400 {
			return nil, info, statusError("ollama", "embeddings", resp.StatusCode, body)
		}
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, info, fmt.Errorf("decode ollama embedding response: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return nil, info, errors.New("ollama returned empty embedding")
		}
		out = append(out, matchDimension(parsed.Embedding, req.Dimension))
	}
	return out, info, nil
}

// taskPrefix applies the nomic instruction prefixes; other models take raw text.
func taskPrefix(model, task string) string {
	if !strings.Contains(model, "nomic") {
		return ""
	}
	if task == TaskQuery {
		return "search_query: "
	}
	return "search_document: "
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		if v := strings.TrimSpace(os.Getenv("PAPERFLOW_OLLAMA_EMBED_MODEL_" + sanitizeEnvToken(alias))); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-m3"
		}
		// ollama:mxbai-embed-large names the model directly.
		if strings.ContainsAny(alias, "-/.") {
			return alias
		}
	}
	if v := strings.TrimSpace(os.Getenv("PAPERFLOW_OLLAMA_EMBED_MODEL")); v != "" {
		return v
	}
	return "nomic-embed-text"
}

// matchDimension truncates or zero-pads v to target.
func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
