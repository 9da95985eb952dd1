package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"paperflow/internal/models"
	"paperflow/internal/util"
)

var metadataTitles = []string{
	"content",
	"header",
	"authors",
	"author",
	"affiliation",
	"email",
	"arxiv",
	"preprint",
	"submitted",
	"received",
	"accepted",
}

// keptSection is a filtered section plus its offset in the joined content stream.
type keptSection struct {
	title   string
	content string
	words   int
	offset  int
}

func (s keptSection) end() int { return s.offset + len(s.content) }

func (c *Chunker) chunkSections(docID, title, abstract string, sections []models.Section) (chunks []models.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			chunks, err = nil, fmt.Errorf("section chunking panic: %v", r)
		}
	}()

	kept := c.filterSections(docID, abstract, sections)
	if len(kept) == 0 {
		return nil, nil
	}

	head := header(title, abstract)
	headWords := util.WordCount(head)
	var pending []keptSection

	for i, s := range kept {
		switch {
		case s.words < c.opts.SmallSectionWords:
			pending = append(pending, s)
			if i == len(kept)-1 || kept[i+1].words >= c.opts.SmallSectionWords {
				chunks = c.flushSmall(docID, head, headWords, pending, chunks)
				pending = nil
			}
		case s.words <= c.opts.LargeSectionWords:
			chunks = append(chunks, models.Chunk{
				DocumentID:   docID,
				Text:         head + sectionText(s.title, s.content),
				StartChar:    s.offset,
				EndChar:      s.end(),
				SectionTitle: s.title,
			})
		default:
			chunks = append(chunks, c.splitLarge(docID, head, s)...)
		}
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].WordCount = util.WordCount(chunks[i].Text)
	}
	return chunks, nil
}

func (c *Chunker) filterSections(docID, abstract string, sections []models.Section) []keptSection {
	abstractLower := strings.ToLower(strings.TrimSpace(abstract))
	abstractWords := wordSet(abstractLower)

	var kept []keptSection
	offset := 0
	for _, s := range sections {
		content := strings.TrimSpace(s.Content)
		title := strings.TrimSpace(s.Title)
		switch {
		case content == "":
			continue
		case isMetadataTitle(title):
			c.log.Debug().Str("arxiv_id", docID).Str("section", title).Msg("skipping metadata section")
			continue
		case c.duplicatesAbstract(content, abstractLower, abstractWords):
			c.log.Debug().Str("arxiv_id", docID).Str("section", title).Msg("skipping section duplicating the abstract")
			continue
		}
		if len(kept) > 0 {
			offset += len("\n\n")
		}
		kept = append(kept, keptSection{title: title, content: content, words: util.WordCount(content), offset: offset})
		offset += len(content)
	}
	return kept
}

func isMetadataTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	n := utf8.RuneCountInString(t)
	if n < 5 {
		return true
	}
	for _, m := range metadataTitles {
		if t == m || (n < 20 && strings.Contains(t, m)) {
			return true
		}
	}
	return false
}

func (c *Chunker) duplicatesAbstract(content, abstractLower string, abstractWords map[string]struct{}) bool {
	if abstractLower == "" {
		return false
	}
	contentLower := strings.ToLower(content)
	if strings.Contains(contentLower, abstractLower) || strings.Contains(abstractLower, contentLower) {
		return true
	}
	if len(abstractWords) <= 10 {
		return false
	}
	shared := 0
	for w := range wordSet(contentLower) {
		if _, ok := abstractWords[w]; ok {
			shared++
		}
	}
	return float64(shared)/float64(len(abstractWords)) > c.opts.DuplicateOverlapRatio
}

func wordSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

// flushSmall turns buffered small sections into one chunk, or appends them to the
// previous chunk when the result stays under MergeThresholdWords.
func (c *Chunker) flushSmall(docID, head string, headWords int, pending []keptSection, chunks []models.Chunk) []models.Chunk {
	if len(pending) == 0 {
		return chunks
	}
	parts := make([]string, 0, len(pending))
	titles := make([]string, 0, len(pending))
	words := 0
	for _, s := range pending {
		parts = append(parts, sectionText(s.title, s.content))
		titles = append(titles, s.title)
		words += s.words
	}
	body := strings.Join(parts, "\n\n")
	last := pending[len(pending)-1]

	if words+headWords < c.opts.MergeThresholdWords && len(chunks) > 0 {
		prev := &chunks[len(chunks)-1]
		prev.Text += "\n\n" + body
		prev.SectionTitle += "+combined"
		prev.EndChar = max(prev.EndChar, last.end())
		prev.OverlapNext = 0
		return chunks
	}

	combined := strings.Join(titles[:min(3, len(titles))], "+")
	if len(titles) > 3 {
		combined += fmt.Sprintf(" + %d more", len(titles)-3)
	}
	return append(chunks, models.Chunk{
		DocumentID:   docID,
		Text:         head + body,
		StartChar:    pending[0].offset,
		EndChar:      last.end(),
		SectionTitle: combined,
	})
}

// splitLarge windows the section content and re-prefixes every piece with the
// paper header and section heading.
func (c *Chunker) splitLarge(docID, head string, s keptSection) []models.Chunk {
	pieces := c.ChunkText(docID, s.content)
	out := make([]models.Chunk, 0, len(pieces))
	for i, p := range pieces {
		out = append(out, models.Chunk{
			DocumentID:   docID,
			Text:         head + sectionText(s.title, p.Text),
			StartChar:    s.offset + p.StartChar,
			EndChar:      s.offset + p.EndChar,
			OverlapPrev:  p.OverlapPrev,
			OverlapNext:  p.OverlapNext,
			SectionTitle: fmt.Sprintf("%s (Part %d)", s.title, i+1),
		})
	}
	return out
}
