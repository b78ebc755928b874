// Package vector builds, fingerprints, and manages the embedding documents
// stored alongside the regular search index.
package vector

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const (
	// maxChunkWords caps how many words go into one embedding chunk.
	maxChunkWords = 380
	// maxWordLength drops pathological tokens (base64 blobs, minified
	// payloads) that would blow the embedding context for no signal.
	maxWordLength = 600
)

// ChunkText splits text into chunks of at most maxChunkWords words.
// Oversized words are dropped entirely. Blank input yields a single empty
// chunk so callers always have at least one chunk to key documents off.
func ChunkText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{""}
	}

	words := strings.Fields(text)
	var chunks []string
	var current []string

	for _, word := range words {
		if len(word) >= maxWordLength {
			continue
		}
		current = append(current, word)
		if len(current) >= maxChunkWords {
			chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))
	}
	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}

// Fingerprint returns the hex MD5 digest of text, or "" for empty text.
// Digests are compared to skip re-embedding unchanged documents, so the
// exact algorithm must stay stable across releases.
func Fingerprint(text string) string {
	if text == "" {
		return ""
	}
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// BuildSearchableText joins the non-empty fields with single spaces.
func BuildSearchableText(fields ...string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}
