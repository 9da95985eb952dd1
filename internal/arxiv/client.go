// Package arxiv talks to the arXiv Atom API and downloads paper PDFs.
package arxiv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paperflow/internal/metrics"
	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// MaxResultsCap is the largest page the arXiv API serves in one call.
const MaxResultsCap = 2000

const maxFeedBytes = 64 << 20

type Options struct {
	BaseURL           string
	DefaultCategory   string
	DefaultMaxResults int
	RateLimitDelay    time.Duration
	Timeout           time.Duration
	MaxRetries        int
	RetryDelayBase    time.Duration
	CacheDir          string
}

type Option func(*Client)

// WithHTTPClient replaces the default client built from Options.Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewClient(opts Options, log zerolog.Logger, m *metrics.Metrics, options ...Option) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://export.arxiv.org/api/query"
	}
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = 100
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimitDelay > 0 {
		limit = rate.Every(opts.RateLimitDelay)
	}
	c := &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepContext,
		log:     log.With().Str("component", "arxiv").Logger(),
		metrics: m,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

type Query struct {
	Category string
	FromDate string // YYYYMMDD, inclusive
	ToDate   string // YYYYMMDD, inclusive
}

type Page struct {
	Start      int
	MaxResults int
}

// Search returns the papers of one result page, newest submission first.
// An empty page is not an error.
func (c *Client) Search(ctx context.Context, q Query, p Page) ([]models.Document, error) {
	searchQuery, err := c.buildSearchQuery(q)
	if err != nil {
		return nil, err
	}
	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = c.opts.DefaultMaxResults
	}
	if maxResults > MaxResultsCap {
		maxResults = MaxResultsCap
	}
	start := p.Start
	if start < 0 {
		start = 0
	}
	u := fmt.Sprintf("%s?search_query=%s&start=%d&max_results=%d&sortBy=submittedDate&sortOrder=descending",
		c.opts.BaseURL, escapeQuery(searchQuery), start, maxResults)

	body, err := c.fetchFeed(ctx, "search", u)
	if err != nil {
		return nil, err
	}
	docs, err := parseFeed(body, c.log)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("query", searchQuery).Int("start", start).Int("count", len(docs)).Msg("arxiv search completed")
	return docs, nil
}

// FetchByID looks up a single paper through the id_list parameter.
func (c *Client) FetchByID(ctx context.Context, arxivID string) (models.Document, error) {
	id := strings.TrimSpace(arxivID)
	if id == "" {
		return models.Document{}, &util.ValidationError{Reason: util.ValidationMissingID}
	}
	u := fmt.Sprintf("%s?id_list=%s&max_results=1", c.opts.BaseURL, escapeQuery(id))
	body, err := c.fetchFeed(ctx, "fetch", u)
	if err != nil {
		return models.Document{}, err
	}
	docs, err := parseFeed(body, c.log)
	if err != nil {
		return models.Document{}, err
	}
	if len(docs) == 0 {
		return models.Document{}, fmt.Errorf("arxiv paper %s: %w", id, util.ErrNotFound)
	}
	return docs[0], nil
}

func (c *Client) buildSearchQuery(q Query) (string, error) {
	category := strings.TrimSpace(q.Category)
	if category == "" {
		category = c.opts.DefaultCategory
	}
	if category == "" {
		return "", fmt.Errorf("arxiv search: category is required: %w", util.ErrValidation)
	}
	query := "cat:" + category

	from, to := strings.TrimSpace(q.FromDate), strings.TrimSpace(q.ToDate)
	if from == "" && to == "" {
		return query, nil
	}
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse("20060102", d); err != nil {
			return "", fmt.Errorf("arxiv search: date %q is not YYYYMMDD: %w", d, util.ErrValidation)
		}
	}
	return fmt.Sprintf("%s AND submittedDate:[%s0000+TO+%s2359]", query, from, to), nil
}

func (c *Client) fetchFeed(ctx context.Context, op, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &util.TransportError{Op: op, URL: u, Timeout: isTimeout(err), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build arxiv request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ArxivRequests.WithLabelValues(op, "error").Inc()
		return nil, &util.TransportError{Op: op, URL: u, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		c.metrics.ArxivRequests.WithLabelValues(op, "error").Inc()
		return nil, &util.TransportError{Op: op, URL: u, Timeout: isTimeout(err), Err: err}
	}
	if resp.StatusCode >= 400 {
		c.metrics.ArxivRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
		return nil, &util.TransportError{Op: op, URL: u, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	c.metrics.ArxivRequests.WithLabelValues(op, "ok").Inc()
	return body, nil
}

func escapeQuery(s string) string {
	const safe = "-_.~:+[]"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', strings.IndexByte(safe, ch) >= 0:
			b.WriteByte(ch)
		default:
			fmt.Fprintf(&b, "%%%02X", ch)
		}
	}
	return b.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
