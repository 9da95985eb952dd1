// Package chunker splits paper text into overlapping word windows, following the
// section structure of the paper when the parser recovered one.
package chunker

import (
	"fmt"
	"strings"

	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/rs/zerolog"
)

type Options struct {
	ChunkSize    int
	Overlap      int
	MinChunkSize int

	SmallSectionWords     int
	LargeSectionWords     int
	MergeThresholdWords   int
	DuplicateOverlapRatio float64
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:             600,
		Overlap:               100,
		MinChunkSize:          100,
		SmallSectionWords:     100,
		LargeSectionWords:     800,
		MergeThresholdWords:   200,
		DuplicateOverlapRatio: 0.8,
	}
}

type Chunker struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options, log zerolog.Logger) (*Chunker, error) {
	switch {
	case opts.ChunkSize <= 0:
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	case opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize:
		return nil, fmt.Errorf("overlap %d must be in [0, %d)", opts.Overlap, opts.ChunkSize)
	case opts.MinChunkSize <= 0:
		return nil, fmt.Errorf("min chunk size must be positive, got %d", opts.MinChunkSize)
	case opts.SmallSectionWords <= 0 || opts.SmallSectionWords > opts.LargeSectionWords:
		return nil, fmt.Errorf("section thresholds small=%d large=%d are inconsistent", opts.SmallSectionWords, opts.LargeSectionWords)
	case opts.MergeThresholdWords < 0:
		return nil, fmt.Errorf("merge threshold must not be negative, got %d", opts.MergeThresholdWords)
	case opts.DuplicateOverlapRatio <= 0 || opts.DuplicateOverlapRatio > 1:
		return nil, fmt.Errorf("duplicate overlap ratio %.2f must be in (0, 1]", opts.DuplicateOverlapRatio)
	}
	return &Chunker{opts: opts, log: log.With().Str("component", "chunker").Logger()}, nil
}

func (c *Chunker) Options() Options { return c.opts }

// Chunk prefers section-based chunking and falls back to a sliding window over
// fullText when sections are missing, all filtered out, or chunking them fails.
func (c *Chunker) Chunk(docID, title, abstract, fullText string, sections []models.Section) []models.Chunk {
	if len(sections) > 0 {
		chunks, err := c.chunkSections(docID, title, abstract, sections)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Str("arxiv_id", docID).Msg("section chunking failed, using sliding window")
		case len(chunks) > 0:
			c.log.Debug().Str("arxiv_id", docID).Int("chunks", len(chunks)).Msg("section chunks created")
			return chunks
		default:
			c.log.Debug().Str("arxiv_id", docID).Msg("no usable sections, using sliding window")
		}
	}
	return c.ChunkText(docID, fullText)
}

// ChunkText is the sliding window: ChunkSize words per chunk, each window starting
// ChunkSize-Overlap words after the previous one.
func (c *Chunker) ChunkText(docID, text string) []models.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) < c.opts.MinChunkSize {
		joined := strings.Join(words, " ")
		return []models.Chunk{{
			DocumentID: docID,
			Text:       joined,
			EndChar:    len(joined),
			WordCount:  len(words),
		}}
	}

	w := newWordIndex(words)
	step := c.opts.ChunkSize - c.opts.Overlap
	var chunks []models.Chunk
	for pos := 0; ; pos += step {
		end := min(pos+c.opts.ChunkSize, len(words))
		ch := models.Chunk{
			DocumentID: docID,
			Index:      len(chunks),
			Text:       strings.Join(words[pos:end], " "),
			StartChar:  w.start(pos),
			EndChar:    w.joinedLen(end),
			WordCount:  end - pos,
		}
		if pos > 0 {
			ch.OverlapPrev = min(c.opts.Overlap, pos)
		}
		if end < len(words) {
			ch.OverlapNext = c.opts.Overlap
		}
		chunks = append(chunks, ch)
		if end >= len(words) {
			break
		}
	}
	c.log.Debug().Str("arxiv_id", docID).Int("words", len(words)).Int("chunks", len(chunks)).Msg("text chunked")
	return chunks
}

// wordIndex answers character offsets of a single-space join of words.
type wordIndex struct {
	prefix []int
}

func newWordIndex(words []string) wordIndex {
	prefix := make([]int, len(words)+1)
	for i, wd := range words {
		prefix[i+1] = prefix[i] + len(wd)
	}
	return wordIndex{prefix: prefix}
}

// joinedLen is len(strings.Join(words[:n], " ")).
func (w wordIndex) joinedLen(n int) int {
	if n == 0 {
		return 0
	}
	return w.prefix[n] + n - 1
}

// start is the offset of words[n] in the joined text.
func (w wordIndex) start(n int) int {
	if n == 0 {
		return 0
	}
	return w.joinedLen(n) + 1
}

func header(title, abstract string) string {
	return util.CollapseWhitespace(title) + "\n\nAbstract: " + util.CollapseWhitespace(abstract) + "\n\n"
}

func sectionText(title, content string) string {
	return "Section: " + title + "\n\n" + content
}
