package arxiv

import (
	"bytes"
	"encoding/xml"
	"strings"
	"time"

	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/rs/zerolog"
)

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Type  string `xml:"type,attr"`
		Title string `xml:"title,attr"`
	} `xml:"link"`
}

// parseFeed fails on malformed XML. Entries without an id are dropped.
func parseFeed(body []byte, log zerolog.Logger) ([]models.Document, error) {
	var feed atomFeed
	dec := xml.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&feed); err != nil {
		return nil, &util.ParseFailure{Cause: util.CauseCorrupt, Err: err}
	}

	docs := make([]models.Document, 0, len(feed.Entries))
	for i, e := range feed.Entries {
		id := entryID(e.ID)
		if id == "" {
			log.Warn().Int("entry", i).Str("title", util.CollapseWhitespace(e.Title)).Msg("dropping arxiv entry without id")
			continue
		}
		doc := models.Document{
			ArxivID:  id,
			Title:    util.CollapseWhitespace(e.Title),
			Abstract: util.CollapseWhitespace(e.Summary),
			PDFURL:   pdfLink(e),
		}
		for _, a := range e.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				doc.Authors = append(doc.Authors, name)
			}
		}
		for _, c := range e.Categories {
			if term := strings.TrimSpace(c.Term); term != "" {
				doc.Categories = append(doc.Categories, term)
			}
		}
		if p := strings.TrimSpace(e.Published); p != "" {
			t, err := time.Parse(time.RFC3339, p)
			if err != nil {
				log.Warn().Str("arxiv_id", id).Str("published", p).Msg("unparseable published date")
			} else {
				doc.PublishedDate = t.UTC()
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// entryID turns "http://arxiv.org/abs/2401.12345v1" into "2401.12345v1" and keeps
// old-style ids such as "hep-th/9901001v1" intact.
func entryID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.Index(raw, "/abs/"); i >= 0 {
		return strings.Trim(raw[i+len("/abs/"):], "/")
	}
	raw = strings.TrimRight(raw, "/")
	return raw[strings.LastIndex(raw, "/")+1:]
}

func pdfLink(e atomEntry) string {
	href := ""
	for _, l := range e.Links {
		if l.Type == "application/pdf" || strings.EqualFold(l.Title, "pdf") {
			href = strings.TrimSpace(l.Href)
			break
		}
	}
	if strings.HasPrefix(href, "http://arxiv.org/") {
		href = "https://" + strings.TrimPrefix(href, "http://")
	}
	return href
}
