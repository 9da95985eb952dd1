package providers

import (
	"fmt"

	"paperflow/internal/config"
)

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// Manager holds the configured embedding providers in list order.
type Manager struct {
	embedProviders []NamedEmbedProvider
	model          string
	dim            int
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{model: cfg.EmbedModel, dim: cfg.EmbedDim}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: p})
	}
	return m, nil
}

func (m *Manager) FirstEmbedProvider() EmbeddingProvider {
	return m.embedProviders[0].Provider
}

func (m *Manager) EmbedProviderRefs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.embedProviders))
	for _, p := range m.embedProviders {
		out = append(out, p.Ref)
	}
	return out
}

func (m *Manager) Model() string  { return m.model }
func (m *Manager) Dimension() int { return m.dim }

func buildProvider(ref ProviderRef, cfg config.Config) (EmbeddingProvider, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(cfg.EmbedDim), nil
	case "jina":
		return NewJinaProvider(ref.KeyAlias, cfg.JinaBaseURL, cfg.EmbedModel), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ref.Raw)
	}
}
