package arxiv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"paperflow/internal/models"
	"paperflow/internal/util"
)

// PDFPath is the cache location of a paper's PDF.
func (c *Client) PDFPath(arxivID string) string {
	return util.SafeJoin(c.opts.CacheDir, strings.ReplaceAll(arxivID, "/", "_")+".pdf")
}

// Download fetches the paper PDF into the cache directory and returns its path.
// A cached non-empty file is reused unless force is set. Failed attempts are
// retried after RetryDelayBase*attempt; nothing partial is ever left at the path.
func (c *Client) Download(ctx context.Context, doc models.Document, force bool) (string, error) {
	if strings.TrimSpace(doc.ArxivID) == "" {
		return "", &util.ValidationError{Reason: util.ValidationMissingID}
	}
	if strings.TrimSpace(doc.PDFURL) == "" {
		return "", fmt.Errorf("paper %s has no pdf url: %w", doc.ArxivID, util.ErrNotFound)
	}
	if err := util.EnsureDir(c.opts.CacheDir); err != nil {
		return "", err
	}
	path := c.PDFPath(doc.ArxivID)
	if !force && util.FileSize(path) > 0 {
		c.log.Debug().Str("arxiv_id", doc.ArxivID).Str("path", path).Msg("pdf cache hit")
		return path, nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		retryAfter, err := c.downloadOnce(ctx, doc.PDFURL, path)
		if err == nil {
			c.metrics.DownloadAttempts.WithLabelValues("ok").Inc()
			c.log.Info().Str("arxiv_id", doc.ArxivID).Int("attempt", attempt).Int64("bytes", util.FileSize(path)).Msg("pdf downloaded")
			return path, nil
		}
		lastErr = err
		_ = os.Remove(path)
		c.metrics.DownloadAttempts.WithLabelValues(attemptLabel(err)).Inc()

		if !retryableDownload(ctx, err) {
			return "", err
		}
		if attempt == c.opts.MaxRetries {
			break
		}
		delay := c.opts.RetryDelayBase * time.Duration(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		c.log.Warn().Err(err).Str("arxiv_id", doc.ArxivID).Int("attempt", attempt).Dur("backoff", delay).Msg("pdf download failed, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return "", &util.TransportError{Op: "download", URL: doc.PDFURL, Attempts: attempt, Timeout: isTimeout(err), Err: err}
		}
	}

	_ = os.Remove(path)
	c.log.Error().Err(lastErr).Str("arxiv_id", doc.ArxivID).Int("attempts", c.opts.MaxRetries).Msg("pdf download exhausted retries")
	return "", &util.TransportError{Op: "download", URL: doc.PDFURL, Attempts: c.opts.MaxRetries, Timeout: true, Err: lastErr}
}

func (c *Client) downloadOnce(ctx context.Context, u, path string) (time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, &util.TransportError{Op: "download", URL: u, Timeout: isTimeout(err), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &util.TransportError{Op: "download", URL: u, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("download %s: %w", u, util.ErrNotFound)
	case resp.StatusCode >= 400:
		return parseRetryAfter(resp.Header.Get("Retry-After")), &util.TransportError{Op: "download", URL: u, StatusCode: resp.StatusCode}
	}

	if _, err := util.WriteStreamAtomic(path, resp.Body); err != nil {
		return 0, &util.TransportError{Op: "download", URL: u, Timeout: isTimeout(err), Err: err}
	}
	return 0, nil
}

func retryableDownload(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, util.ErrNotFound) {
		return false
	}
	var te *util.TransportError
	if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 {
		return te.StatusCode == http.StatusTooManyRequests || te.StatusCode == http.StatusRequestTimeout
	}
	return true
}

func attemptLabel(err error) string {
	switch {
	case errors.Is(err, util.ErrTimeout):
		return "timeout"
	case errors.Is(err, util.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// CleanCache removes cached PDFs older than maxAge.
func (c *Client) CleanCache(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(c.opts.CacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pdf cache: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(c.opts.CacheDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
