package models

import "time"

// Document is one paper: catalog metadata plus, after parsing, its extracted content.
type Document struct {
	ArxivID        string         `json:"arxiv_id"`
	Title          string         `json:"title"`
	Authors        []string       `json:"authors"`
	Abstract       string         `json:"abstract"`
	Categories     []string       `json:"categories"`
	PublishedDate  time.Time      `json:"published_date"`
	PDFURL         string         `json:"pdf_url"`
	RawText        string         `json:"raw_text,omitempty"`
	Sections       []Section      `json:"sections,omitempty"`
	Figures        []Figure       `json:"figures,omitempty"`
	Tables         []Table        `json:"tables,omitempty"`
	ParserUsed     string         `json:"parser_used,omitempty"`
	ParserMetadata map[string]any `json:"parser_metadata,omitempty"`
	PDFProcessed   bool           `json:"pdf_processed"`
	PDFProcessedAt *time.Time     `json:"pdf_processed_at,omitempty"`
}

// ApplyParsed copies parser output onto the document.
func (d *Document) ApplyParsed(p *ParsedContent, at time.Time) {
	d.RawText = p.RawText
	d.Sections = p.Sections
	d.Figures = p.Figures
	d.Tables = p.Tables
	d.ParserUsed = p.ParserUsed
	d.ParserMetadata = p.Metadata
	d.PDFProcessed = true
	d.PDFProcessedAt = &at
}

type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Level   int    `json:"level"`
}

type Figure struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

type Table struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

type ParsedContent struct {
	Sections   []Section      `json:"sections"`
	Figures    []Figure       `json:"figures"`
	Tables     []Table        `json:"tables"`
	RawText    string         `json:"raw_text"`
	Pages      int            `json:"pages"`
	ParserUsed string         `json:"parser_used"`
	Metadata   map[string]any `json:"metadata"`
}

type Chunk struct {
	DocumentID   string `json:"document_id"`
	Index        int    `json:"chunk_index"`
	Text         string `json:"chunk_text"`
	StartChar    int    `json:"start_char"`
	EndChar      int    `json:"end_char"`
	WordCount    int    `json:"word_count"`
	OverlapPrev  int    `json:"overlap_with_previous"`
	OverlapNext  int    `json:"overlap_with_next"`
	SectionTitle string `json:"section_title,omitempty"`
}

// IndexRecord is the stored unit: a chunk, its embedding and the document
// fields needed to render a hit without a join.
type IndexRecord struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"arxiv_id"`
	ChunkIndex     int       `json:"chunk_index"`
	ChunkText      string    `json:"chunk_text"`
	ChunkWordCount int       `json:"chunk_word_count"`
	StartChar      int       `json:"start_char"`
	EndChar        int       `json:"end_char"`
	OverlapPrev    int       `json:"overlap_with_previous"`
	OverlapNext    int       `json:"overlap_with_next"`
	SectionTitle   string    `json:"section_title,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model"`
	Title          string    `json:"title"`
	Authors        []string  `json:"authors"`
	Abstract       string    `json:"abstract"`
	Categories     []string  `json:"categories"`
	PublishedDate  time.Time `json:"published_date"`
	PDFURL         string    `json:"pdf_url,omitempty"`
	IndexedAt      time.Time `json:"indexed_at"`
}
