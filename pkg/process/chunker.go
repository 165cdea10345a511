package process

import (
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk is one piece of page text sized for a single grammar request
type Chunk struct {
	Index            int      `json:"index"`
	Content          string   `json:"content"`
	HeadingHierarchy []string `json:"heading_hierarchy,omitempty"`
	TokenCount       int      `json:"token_count"`
}

// ChunkerConfig bounds chunk sizes in tokens
type ChunkerConfig struct {
	MaxChunkSize int
	ChunkOverlap int
}

// DefaultChunkerConfig returns the sizes used when none are configured
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{MaxChunkSize: 512, ChunkOverlap: 50}
}

var headingRegex = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// ChunkMarkdown splits markdown on headings, then recursively splits any section still larger
// than MaxChunkSize tokens. Sizes are measured with tok.
func ChunkMarkdown(markdown string, cfg ChunkerConfig, tok *Tokenizer) ([]Chunk, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultChunkerConfig().MaxChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkSize {
		cfg.ChunkOverlap = 0
	}

	lenFunc := func(s string) int {
		if n := tok.Count(s); n >= 0 {
			return n
		}
		return len(s)
	}

	recursive := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithLenFunc(lenFunc),
	)
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSecondSplitter(recursive),
		textsplitter.WithLenFunc(lenFunc),
	)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:            len(chunks),
			Content:          part,
			HeadingHierarchy: headingHierarchy(part),
			TokenCount:       lenFunc(part),
		})
	}
	return chunks, nil
}

func headingHierarchy(content string) []string {
	var out []string
	for _, m := range headingRegex.FindAllStringSubmatch(content, -1) {
		if h := strings.TrimSpace(m[2]); h != "" {
			out = append(out, h)
		}
	}
	return out
}
