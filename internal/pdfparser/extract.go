package pdfparser

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strings"

	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/ledongthuc/pdf"
)

const defaultSectionTitle = "Content"

var (
	numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+[A-Z]`)
	figureCaption   = regexp.MustCompile(`^(?i)(fig(?:ure)?\.?)\s*(\d+)[.:]?\s*(.*)$`)
	tableCaption    = regexp.MustCompile(`^(?i)(table)\s*(\d+)[.:]?\s*(.*)$`)
)

// line is one row of a page with the typography needed for heading detection.
type line struct {
	text     string
	fontSize float64
	bold     bool
}

func extract(path string) (*models.ParsedContent, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, plain); err != nil {
		return nil, fmt.Errorf("read extracted text: %w", err)
	}
	raw := util.SanitizeText(buf.String())

	pages := r.NumPage()
	var lines []line
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		for _, row := range rows {
			if l, ok := rowLine(row); ok {
				lines = append(lines, l)
			}
		}
	}
	if raw == "" && len(lines) == 0 {
		return nil, util.ErrNoExtractableText
	}
	if raw == "" {
		texts := make([]string, 0, len(lines))
		for _, l := range lines {
			texts = append(texts, l.text)
		}
		raw = strings.Join(texts, "\n")
	}

	content := buildSections(lines)
	content.RawText = raw
	content.Pages = pages
	content.ParserUsed = parserName
	content.Metadata = map[string]any{"parser": parserName, "pages": pages}
	return content, nil
}

// rowLine joins the glyph runs of a row, inserting a space where the gap between
// runs is wider than a fraction of the font size.
func rowLine(row *pdf.Row) (line, bool) {
	if row == nil || len(row.Content) == 0 {
		return line{}, false
	}
	texts := make([]pdf.Text, len(row.Content))
	copy(texts, row.Content)
	sort.SliceStable(texts, func(i, j int) bool { return texts[i].X < texts[j].X })

	var b strings.Builder
	var sizeSum float64
	var glyphs, boldGlyphs int
	prevEnd := math.Inf(-1)
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		if b.Len() > 0 && t.X-prevEnd > t.FontSize*0.15 && !strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(t.S, " ") {
			b.WriteByte(' ')
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
		n := len([]rune(t.S))
		glyphs += n
		sizeSum += t.FontSize * float64(n)
		if isBoldFont(t.Font) {
			boldGlyphs += n
		}
	}
	text := util.CollapseWhitespace(util.SanitizeText(b.String()))
	if text == "" || glyphs == 0 {
		return line{}, false
	}
	return line{text: text, fontSize: sizeSum / float64(glyphs), bold: boldGlyphs*2 > glyphs}, true
}

func isBoldFont(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "bold") || strings.Contains(n, "black") || strings.Contains(n, "heavy") || strings.HasSuffix(n, ".b")
}

// bodyFontSize is the most common rounded font size, weighted by text length.
func bodyFontSize(lines []line) float64 {
	weights := map[float64]int{}
	for _, l := range lines {
		weights[math.Round(l.fontSize*2)/2] += len(l.text)
	}
	best, bestWeight := 0.0, -1
	for size, w := range weights {
		if w > bestWeight || (w == bestWeight && size < best) {
			best, bestWeight = size, w
		}
	}
	return best
}

// headingLevel returns 0 for body text.
func headingLevel(l line, body float64) int {
	words := len(strings.Fields(l.text))
	if words == 0 || words > 20 || strings.HasSuffix(l.text, ".") && !numberedHeading.MatchString(l.text) {
		return 0
	}
	if body > 0 {
		switch ratio := l.fontSize / body; {
		case ratio >= 1.6:
			return 1
		case ratio >= 1.3:
			return 2
		case ratio >= 1.15:
			return 3
		}
	}
	if m := numberedHeading.FindStringSubmatch(l.text); m != nil && l.bold {
		return strings.Count(m[1], ".") + 1
	}
	return 0
}

func buildSections(lines []line) *models.ParsedContent {
	out := &models.ParsedContent{}
	body := bodyFontSize(lines)

	title, level := defaultSectionTitle, 1
	var content []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(content, "\n"))
		if text != "" {
			out.Sections = append(out.Sections, models.Section{Title: title, Content: text, Level: level})
		}
		content = content[:0]
	}

	for _, l := range lines {
		if lvl := headingLevel(l, body); lvl > 0 {
			flush()
			title, level = l.text, lvl
			continue
		}
		if m := figureCaption.FindStringSubmatch(l.text); m != nil {
			out.Figures = append(out.Figures, models.Figure{ID: "figure_" + m[2], Caption: l.text})
		} else if m := tableCaption.FindStringSubmatch(l.text); m != nil {
			out.Tables = append(out.Tables, models.Table{ID: "table_" + m[2], Caption: l.text})
		}
		content = append(content, l.text)
	}
	flush()
	return out
}
