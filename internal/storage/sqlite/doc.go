// Package sqlite is the embedded chunk index: records in a plain table, lexical
// scoring through an FTS5 external-content table and brute-force cosine
// similarity over float32 embedding blobs.
package sqlite
