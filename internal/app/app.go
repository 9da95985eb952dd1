// Package app wires every pipeline component from configuration once per process.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"paperflow/internal/arxiv"
	"paperflow/internal/chunker"
	"paperflow/internal/config"
	"paperflow/internal/embedding"
	"paperflow/internal/indexing"
	"paperflow/internal/metrics"
	"paperflow/internal/pdfparser"
	"paperflow/internal/providers"
	"paperflow/internal/search"
	"paperflow/internal/storage"
	"paperflow/internal/storage/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

type Container struct {
	Config   config.Config
	Log      zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	DB      *storage.DB
	Papers  storage.PaperStore
	Backend search.Backend

	Fetcher   *arxiv.Client
	Parser    *pdfparser.Parser
	Chunker   *chunker.Chunker
	Providers *providers.Manager
	Embedder  *embedding.Batcher
	Indexer   *indexing.Indexer
	Builder   *search.QueryBuilder
	Search    *search.Service

	closers []func()
}

// New builds the container. The caller owns it and must call Close.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c := &Container{Config: cfg, Log: log, Registry: reg, Metrics: metrics.New(reg)}

	if err := c.openStorage(ctx); err != nil {
		c.Close()
		return nil, err
	}

	ch, err := chunker.New(chunker.Options{
		ChunkSize:             cfg.ChunkSize,
		Overlap:               cfg.ChunkOverlap,
		MinChunkSize:          cfg.MinChunkSize,
		SmallSectionWords:     cfg.SmallSectionWords,
		LargeSectionWords:     cfg.LargeSectionWords,
		MergeThresholdWords:   cfg.MergeThresholdWords,
		DuplicateOverlapRatio: cfg.DuplicateOverlapRatio,
	}, log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build chunker: %w", err)
	}
	c.Chunker = ch

	pm, err := providers.NewManager(cfg)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build embedding providers: %w", err)
	}
	c.Providers = pm

	c.Fetcher = arxiv.NewClient(arxiv.Options{
		BaseURL:           cfg.ArxivBaseURL,
		DefaultCategory:   cfg.ArxivCategory,
		DefaultMaxResults: cfg.ArxivMaxResults,
		RateLimitDelay:    cfg.ArxivRateLimitDelay,
		Timeout:           cfg.ArxivTimeout,
		MaxRetries:        cfg.DownloadMaxRetries,
		RetryDelayBase:    cfg.DownloadRetryDelayBase,
		CacheDir:          cfg.PDFCacheDir,
	}, log, c.Metrics)
	c.Parser = pdfparser.New(pdfparser.Options{
		MaxPages:     cfg.PDFMaxPages,
		MaxFileBytes: cfg.PDFMaxFileSizeBytes(),
		Timeout:      cfg.PDFParseTimeout,
	}, log, c.Metrics)
	c.Embedder = embedding.NewBatcher(pm.FirstEmbedProvider(), embedding.Options{
		Model:       pm.Model(),
		Dimension:   pm.Dimension(),
		BatchSize:   cfg.EmbedBatchSize,
		Concurrency: cfg.EmbedConcurrency,
	}, log, c.Metrics)
	c.Indexer = indexing.New(c.Chunker, c.Embedder, c.Backend, indexing.Options{BatchSize: cfg.EmbedBatchSize}, log, c.Metrics)
	c.Builder = search.NewQueryBuilder(search.BuilderOptions{
		RankConstant: cfg.SearchRRFRankConstant,
		VectorK:      cfg.SearchVectorK,
	}, log)
	c.Search = search.NewService(c.Backend, c.Builder, c.Embedder, log, c.Metrics)

	log.Info().
		Str("storage", cfg.StorageBackend).
		Str("index", cfg.IndexName).
		Stringer("embed_provider", pm.EmbedProviderRefs()[0]).
		Str("embed_model", pm.Model()).
		Int("embed_dim", pm.Dimension()).
		Msg("components ready")
	return c, nil
}

func (c *Container) openStorage(ctx context.Context) error {
	cfg := c.Config
	switch cfg.StorageBackend {
	case "sqlite":
		idx, err := sqlite.Open(sqlite.Options{Path: cfg.SQLitePath, Name: cfg.IndexName, Dimension: cfg.EmbedDim}, c.Log)
		if err != nil {
			return fmt.Errorf("open sqlite index: %w", err)
		}
		c.closers = append(c.closers, func() { _ = idx.Close() })
		papers, err := storage.NewFilePaperStore(filepath.Join(cfg.DataOutRoot, "papers"))
		if err != nil {
			return fmt.Errorf("open paper store: %w", err)
		}
		c.Backend, c.Papers = idx, papers
	default:
		db, err := storage.NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, db.Close)
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		c.DB = db
		c.Papers = storage.NewPaperRepo(db)
		c.Backend = storage.NewPGIndex(db, storage.PGIndexOptions{Name: cfg.IndexName, Dimension: cfg.EmbedDim}, c.Log)
	}
	return nil
}

// Setup creates the chunk index when it does not exist yet.
func (c *Container) Setup(ctx context.Context) (bool, error) {
	created, err := c.Backend.EnsureIndex(ctx)
	if err != nil {
		return false, fmt.Errorf("ensure index %s: %w", c.Config.IndexName, err)
	}
	return created, nil
}

func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
