package chunker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"paperflow/internal/models"
	"paperflow/internal/util"
)

// ParseSections normalizes a section payload into typed sections. Accepted shapes:
// []models.Section, a list of objects with title/heading, content/text and level
// keys, an object mapping title to content, or any of those encoded as JSON.
// JSON objects keep their key order; Go maps are ordered by title.
func ParseSections(v any) ([]models.Section, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []models.Section:
		return append([]models.Section(nil), p...), nil
	case []map[string]any:
		out := make([]models.Section, 0, len(p))
		for i, m := range p {
			out = append(out, sectionFromObject(i, m))
		}
		return out, nil
	case []any:
		out := make([]models.Section, 0, len(p))
		for i, item := range p {
			out = append(out, sectionFromItem(i, item))
		}
		return out, nil
	case map[string]string:
		out := make([]models.Section, 0, len(p))
		for _, title := range sortedKeys(p) {
			out = append(out, models.Section{Title: title, Content: p[title], Level: 1})
		}
		return out, nil
	case map[string]any:
		out := make([]models.Section, 0, len(p))
		for _, title := range sortedKeys(p) {
			out = append(out, models.Section{Title: title, Content: stringify(p[title]), Level: 1})
		}
		return out, nil
	case json.RawMessage:
		return parseSectionJSON([]byte(p))
	case []byte:
		return parseSectionJSON(p)
	case string:
		return parseSectionJSON([]byte(p))
	default:
		return nil, &util.ParseFailure{Cause: util.CauseCorrupt, Err: fmt.Errorf("unsupported sections payload %T", v)}
	}
}

func parseSectionJSON(raw []byte) ([]models.Section, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var items []any
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, &util.ParseFailure{Cause: util.CauseCorrupt, Err: fmt.Errorf("decode sections list: %w", err)}
		}
		return ParseSections(items)
	case '{':
		out, err := orderedObjectSections(raw)
		if err != nil {
			return nil, &util.ParseFailure{Cause: util.CauseCorrupt, Err: fmt.Errorf("decode sections object: %w", err)}
		}
		return out, nil
	default:
		return nil, &util.ParseFailure{Cause: util.CauseCorrupt, Err: errors.New("sections json is neither a list nor an object")}
	}
}

// orderedObjectSections streams a JSON object so title order survives decoding.
func orderedObjectSections(raw []byte) ([]models.Section, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var out []models.Section
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		title, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		out = append(out, models.Section{Title: title, Content: stringify(value), Level: 1})
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return out, nil
}

func sectionFromItem(i int, item any) models.Section {
	if m, ok := item.(map[string]any); ok {
		return sectionFromObject(i, m)
	}
	return models.Section{Title: defaultTitle(i), Content: stringify(item), Level: 1}
}

func sectionFromObject(i int, m map[string]any) models.Section {
	s := models.Section{Title: defaultTitle(i), Level: 1}
	if t := firstString(m, "title", "heading"); t != "" {
		s.Title = t
	}
	s.Content = firstString(m, "content", "text")
	switch lvl := m["level"].(type) {
	case float64:
		s.Level = int(lvl)
	case int:
		s.Level = lvl
	}
	if s.Level <= 0 {
		s.Level = 1
	}
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return strings.TrimSpace(stringify(v))
		}
	}
	return ""
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func defaultTitle(i int) string { return fmt.Sprintf("Section %d", i+1) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
