package pdfparser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"paperflow/internal/metrics"
	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestParser(opts Options) (*Parser, *metrics.Metrics) {
	m := metrics.NewNop()
	return New(opts, zerolog.Nop(), m), m
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestValidateEmptyFile(t *testing.T) {
	p, _ := newTestParser(Options{MaxPages: 30, MaxFileBytes: 1 << 20})
	err := p.Validate(writeFile(t, "empty.pdf", nil))

	var ve *util.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, util.ValidationEmpty, ve.Reason)
}

func TestValidateBadSignature(t *testing.T) {
	p, _ := newTestParser(Options{MaxPages: 30, MaxFileBytes: 1 << 20})
	err := p.Validate(writeFile(t, "page.pdf", []byte("<html>not a pdf</html>")))

	var ve *util.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, util.ValidationBadSignature, ve.Reason)
	require.False(t, ve.LimitExceeded())
}

func TestValidateMissingFile(t *testing.T) {
	p, _ := newTestParser(Options{})
	err := p.Validate(filepath.Join(t.TempDir(), "nope.pdf"))
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestParseOversizedFileIsSkipped(t *testing.T) {
	p, m := newTestParser(Options{MaxPages: 30, MaxFileBytes: 16})
	path := writeFile(t, "big.pdf", append([]byte("%PDF-1.4\n"), make([]byte, 64)...))

	out := p.Parse(context.Background(), path)
	require.Equal(t, models.OutcomeSkipped, out.Kind)
	require.Contains(t, out.Reason, string(util.ValidationTooLarge))
	require.Nil(t, out.Value)
	require.Equal(t, 1.0, testutil.ToFloat64(m.ParseOutcomes.WithLabelValues("skipped")))
}

func TestParseGarbageAfterSignatureFails(t *testing.T) {
	p, m := newTestParser(Options{MaxFileBytes: 1 << 20, Timeout: 5 * time.Second})
	path := writeFile(t, "broken.pdf", []byte("%PDF-1.4\nthis is not really a pdf body\n"))

	out := p.Parse(context.Background(), path)
	require.Equal(t, models.OutcomeFailed, out.Kind)
	require.ErrorIs(t, out.Err, util.ErrParse)
	require.False(t, util.Retryable(out.Err))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ParseOutcomes.WithLabelValues("failed")))
}

func TestParseEmptyFileFailsWithValidation(t *testing.T) {
	p, _ := newTestParser(Options{MaxFileBytes: 1 << 20})
	out := p.Parse(context.Background(), writeFile(t, "empty.pdf", nil))
	require.Equal(t, models.OutcomeFailed, out.Kind)
	require.ErrorIs(t, out.Err, util.ErrValidation)
}

func TestClassify(t *testing.T) {
	require.ErrorIs(t, classify(util.ErrNoExtractableText), util.ErrParse)

	var pf *util.ParseFailure
	require.ErrorAs(t, classify(errors.New("malformed PDF: cannot find xref")), &pf)
	require.Equal(t, util.CauseCorrupt, pf.Cause)

	require.ErrorAs(t, classify(errors.New("runtime: out of memory")), &pf)
	require.Equal(t, util.CauseResource, pf.Cause)

	require.ErrorAs(t, classify(errors.New("something odd")), &pf)
	require.Equal(t, util.CauseUnknown, pf.Cause)

	timeout := &util.ParseFailure{Cause: util.CauseTimeout, Err: context.DeadlineExceeded}
	require.Same(t, timeout, classify(timeout))
}

func TestBuildSectionsByFontSize(t *testing.T) {
	lines := []line{
		{text: "Attention Is Everything", fontSize: 18},
		{text: "Alice Example, Bob Example", fontSize: 10},
		{text: "1 Introduction", fontSize: 14, bold: true},
		{text: "Transformers changed how sequence models are built.", fontSize: 10},
		{text: "We study their scaling behaviour in detail.", fontSize: 10},
		{text: "Figure 1: Loss against compute.", fontSize: 9},
		{text: "2.1 Setup", fontSize: 10, bold: true},
		{text: "All runs use the same tokenizer and data order.", fontSize: 10},
		{text: "Table 2. Hyperparameters for every run.", fontSize: 9},
	}

	out := buildSections(lines)
	require.Len(t, out.Sections, 3)

	require.Equal(t, "Attention Is Everything", out.Sections[0].Title)
	require.Equal(t, 1, out.Sections[0].Level)
	require.Equal(t, "Alice Example, Bob Example", out.Sections[0].Content)

	require.Equal(t, "1 Introduction", out.Sections[1].Title)
	require.Equal(t, 2, out.Sections[1].Level)
	require.Contains(t, out.Sections[1].Content, "scaling behaviour")
	require.Contains(t, out.Sections[1].Content, "Figure 1")

	require.Equal(t, "2.1 Setup", out.Sections[2].Title)
	require.Equal(t, 2, out.Sections[2].Level)

	require.Equal(t, []models.Figure{{ID: "figure_1", Caption: "Figure 1: Loss against compute."}}, out.Figures)
	require.Equal(t, []models.Table{{ID: "table_2", Caption: "Table 2. Hyperparameters for every run."}}, out.Tables)
}

func TestBuildSectionsWithoutHeadings(t *testing.T) {
	lines := []line{
		{text: "plain text only", fontSize: 10},
		{text: "and a second line", fontSize: 10},
	}
	out := buildSections(lines)
	require.Len(t, out.Sections, 1)
	require.Equal(t, defaultSectionTitle, out.Sections[0].Title)
	require.Equal(t, "plain text only\nand a second line", out.Sections[0].Content)
}

func TestHeadingLevelRejectsSentences(t *testing.T) {
	body := 10.0
	require.Equal(t, 0, headingLevel(line{text: "This large line ends like a sentence.", fontSize: 16}, body))
	require.Equal(t, 1, headingLevel(line{text: "Results", fontSize: 16}, body))
	require.Equal(t, 3, headingLevel(line{text: "Ablations", fontSize: 12}, body))
	require.Equal(t, 0, headingLevel(line{text: "Ablations", fontSize: 10}, body))
}

func TestBodyFontSizeIsMostCommon(t *testing.T) {
	lines := []line{
		{text: "Title", fontSize: 20},
		{text: "a long paragraph of body text", fontSize: 10.1},
		{text: "another long paragraph of body text", fontSize: 9.9},
	}
	require.Equal(t, 10.0, bodyFontSize(lines))
}
