package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteStreamAtomic copies r into path through a temp file in the same directory.
// On any failure the temp file is removed and path is left untouched.
func WriteStreamAtomic(path string, r io.Reader) (int64, error) {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-*"+filepath.Ext(path))
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("rename temp file: %w", err)
	}
	return n, nil
}

// WriteJSONAtomic writes v as indented JSON, replacing path only once the
// encoding succeeded.
func WriteJSONAtomic(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err := WriteStreamAtomic(path, &buf)
	return err
}
