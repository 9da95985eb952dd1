package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultJinaBaseURL = "https://api.jina.ai/v1"
	defaultJinaModel   = "jina-embeddings-v3"
)

// JinaProvider calls the Jina embeddings API, which takes a task per request so
// passages and queries land in matching but distinct spaces.
type JinaProvider struct {
	alias   string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewJinaProvider(alias, baseURL, model string) *JinaProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultJinaBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = defaultJinaModel
	}
	return &JinaProvider{
		alias:   alias,
		apiKey:  resolveKey("JINA", alias, "JINA_API_KEY"),
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	EmbeddingType string   `json:"embedding_type"`
	Input         []string `json:"input"`
}

type jinaResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (j *JinaProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	model := j.model
	if req.Model != "" {
		model = req.Model
	}
	info := ProviderInfo{Name: "jina", Model: model, Key: j.alias}
	if j.apiKey == "" {
		return nil, info, fmt.Errorf("jina api key missing for alias %q", j.alias)
	}
	if len(req.Inputs) == 0 {
		return [][]float32{}, info, nil
	}

	payload, err := json.Marshal(jinaRequest{
		Model:         model,
		Task:          req.Task,
		Dimensions:    req.Dimension,
		EmbeddingType: "float",
		Input:         req.Inputs,
	})
	if err != nil {
		return nil, info, fmt.Errorf("encode jina request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, info, fmt.Errorf("build jina request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+j.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return nil, info, requestError("jina", "embeddings", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, info, requestError("jina", "embeddings", err)
	}
	if resp.StatusCode >= 400 {
		return nil, info, statusError("jina", "embeddings", resp.StatusCode, body)
	}

	var parsed jinaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, info, fmt.Errorf("decode jina response: %w", err)
	}
	if len(parsed.Data) != len(req.Inputs) {
		return nil, info, countError("jina", len(req.Inputs), len(parsed.Data))
	}
	out := make([][]float32, len(req.Inputs))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, info, fmt.Errorf("jina returned invalid embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, info, nil
}

// resolveKey prefers PAPERFLOW_<PROVIDER>_KEY_<ALIAS> and falls back to the vendor variable.
func resolveKey(provider, alias, fallback string) string {
	if alias != "" {
		if k := strings.TrimSpace(os.Getenv("PAPERFLOW_" + provider + "_KEY_" + sanitizeEnvToken(alias))); k != "" {
			return k
		}
	}
	return strings.TrimSpace(os.Getenv(fallback))
}

func sanitizeEnvToken(s string) string {
	return strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(strings.ToUpper(s))
}
