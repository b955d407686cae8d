package retrieval

import "strings"

// Chunk is one scored text fragment returned by a retrieval collection.
// Chunks live for a single dispatch and are never persisted.
type Chunk struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Bundle is the merged, score-ordered set of chunks assembled for one task.
type Bundle struct {
	Chunks []Chunk
}

// Empty reports whether the bundle carries no chunks.
func (b Bundle) Empty() bool {
	return len(b.Chunks) == 0
}

// Collections returns the distinct source collections in chunk order.
func (b Bundle) Collections() []string {
	seen := make(map[string]bool, len(b.Chunks))
	var out []string
	for _, c := range b.Chunks {
		if seen[c.Collection] {
			continue
		}
		seen[c.Collection] = true
		out = append(out, c.Collection)
	}
	return out
}

// Render formats the bundle for prompt inclusion: each chunk becomes a
// block labeled with its source collection, with the chunk text cut at
// maxChunkChars. Blocks are joined by a separator line so prompt size stays
// bounded no matter how much the collections returned.
func (b Bundle) Render(maxChunkChars int) string {
	if len(b.Chunks) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(b.Chunks))
	for _, c := range b.Chunks {
		text := c.Text
		if maxChunkChars > 0 && len(text) > maxChunkChars {
			text = text[:maxChunkChars]
		}
		blocks = append(blocks, "["+c.Collection+"]\n"+text)
	}
	return strings.Join(blocks, "\n---\n")
}
