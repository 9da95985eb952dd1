// Package pdfparser validates PDFs and extracts sectioned text from them.
package pdfparser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"paperflow/internal/metrics"
	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

const parserName = "ledongthuc/pdf"

var pdfSignature = []byte("%PDF-")

type Options struct {
	MaxPages     int
	MaxFileBytes int64
	Timeout      time.Duration
}

type Parser struct {
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func New(opts Options, log zerolog.Logger, m *metrics.Metrics) *Parser {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Parser{opts: opts, log: log.With().Str("component", "pdfparser").Logger(), metrics: m}
}

// Validate checks the file before any extraction. It never truncates.
func (p *Parser) Validate(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("pdf %s: %w", path, util.ErrNotFound)
		}
		return fmt.Errorf("stat pdf: %w", err)
	}
	if st.Size() == 0 {
		return &util.ValidationError{Reason: util.ValidationEmpty, Detail: path}
	}
	if p.opts.MaxFileBytes > 0 && st.Size() > p.opts.MaxFileBytes {
		return &util.ValidationError{Reason: util.ValidationTooLarge, Detail: fmt.Sprintf("%d bytes > %d", st.Size(), p.opts.MaxFileBytes)}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	head := make([]byte, len(pdfSignature))
	_, err = io.ReadFull(f, head)
	_ = f.Close()
	if err != nil || !bytes.Equal(head, pdfSignature) {
		return &util.ValidationError{Reason: util.ValidationBadSignature, Detail: path}
	}

	if p.opts.MaxPages > 0 {
		pages, err := pageCount(path)
		if err != nil {
			return &util.ParseFailure{Cause: util.CauseCorrupt, Err: err}
		}
		if pages > p.opts.MaxPages {
			return &util.ValidationError{Reason: util.ValidationTooManyPages, Detail: fmt.Sprintf("%d pages > %d", pages, p.opts.MaxPages)}
		}
	}
	return nil
}

// Parse validates and extracts path. Size and page violations come back Skipped.
func (p *Parser) Parse(ctx context.Context, path string) models.Outcome[*models.ParsedContent] {
	out := p.parse(ctx, path)
	p.metrics.ParseOutcomes.WithLabelValues(string(out.Kind)).Inc()
	return out
}

func (p *Parser) parse(ctx context.Context, path string) models.Outcome[*models.ParsedContent] {
	if err := p.Validate(path); err != nil {
		var ve *util.ValidationError
		if errors.As(err, &ve) && ve.LimitExceeded() {
			p.log.Info().Str("path", path).Str("reason", string(ve.Reason)).Msg("skipping pdf over limits")
			return models.Skipped[*models.ParsedContent](ve.Error())
		}
		return models.Failed[*models.ParsedContent](err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	type result struct {
		content *models.ParsedContent
		err     error
	}
	done := make(chan result, 1)
	started := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Debug().Str("stack", string(debug.Stack())).Msg("pdf library panic")
				done <- result{err: &util.ParseFailure{Cause: util.CauseCorrupt, Err: fmt.Errorf("pdf library panic: %v", r)}}
			}
		}()
		c, err := extract(path)
		done <- result{content: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.Failed[*models.ParsedContent](&util.ParseFailure{Cause: util.CauseTimeout, Err: ctx.Err()})
	case r := <-done:
		if r.err != nil {
			return models.Failed[*models.ParsedContent](classify(r.err))
		}
		sum, err := util.SHA256File(path)
		if err == nil {
			r.content.Metadata["sha256"] = sum
		}
		r.content.Metadata["file_size"] = util.FileSize(path)
		r.content.Metadata["duration_ms"] = time.Since(started).Milliseconds()
		p.log.Debug().Str("path", path).Int("pages", r.content.Pages).Int("sections", len(r.content.Sections)).Msg("pdf parsed")
		return models.Ok(r.content)
	}
}

func classify(err error) error {
	var pf *util.ParseFailure
	if errors.As(err, &pf) {
		return err
	}
	if errors.Is(err, util.ErrNoExtractableText) {
		return &util.ParseFailure{Cause: util.CauseCorrupt, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "out of memory"), strings.Contains(msg, "cannot allocate"):
		return &util.ParseFailure{Cause: util.CauseResource, Err: err}
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "xref"), strings.Contains(msg, "eof"),
		strings.Contains(msg, "not a pdf"), strings.Contains(msg, "invalid"):
		return &util.ParseFailure{Cause: util.CauseCorrupt, Err: err}
	default:
		return &util.ParseFailure{Cause: util.CauseUnknown, Err: err}
	}
}

func pageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf library panic: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}
