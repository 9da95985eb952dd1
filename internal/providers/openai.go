package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

const defaultOpenAIEmbedModel = "text-embedding-3-small"

// OpenAIProvider uses the OpenAI embeddings endpoint when a key is configured.
type OpenAIProvider struct {
	keyName string
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	baseURL := strings.TrimSpace(os.Getenv("PAPERFLOW_OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		keyName: keyName,
		apiKey:  resolveKey("OPENAI", keyName, "OPENAI_API_KEY"),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	model := defaultOpenAIEmbedModel
	if strings.HasPrefix(req.Model, "text-embedding-") {
		model = req.Model
	}
	info := ProviderInfo{Name: "openai", Model: model, Key: o.keyName}
	if o.apiKey == "" {
		return nil, info, fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	if len(req.Inputs) == 0 {
		return [][]float32{}, info, nil
	}

	body := map[string]any{"model": model, "input": req.Inputs}
	if req.Dimension > 0 && strings.HasPrefix(model, "text-embedding-3") {
		body["dimensions"] = req.Dimension
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, info, fmt.Errorf("encode openai request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, info, fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, info, requestError("openai", "embeddings", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, info, requestError("openai", "embeddings", err)
	}
	if resp.StatusCode >= 400 {
		return nil, info, statusError("openai", "embeddings", resp.StatusCode, raw)
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, info, fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Data) != len(req.Inputs) {
		return nil, info, countError("openai", len(req.Inputs), len(parsed.Data))
	}
	sort.SliceStable(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		out = append(out, d.Embedding)
	}
	return out, info, nil
}
