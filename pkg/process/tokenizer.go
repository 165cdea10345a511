package process

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultEncoding approximates the token counts of the grammar model
const DefaultEncoding = "cl100k_base"

var (
	codecMu sync.Mutex
	codecs  = map[tokenizer.Encoding]tokenizer.Codec{}
)

// Tokenizer counts tokens with a tiktoken encoding
type Tokenizer struct {
	codec    tokenizer.Codec
	encoding string
}

// NewTokenizer loads the named encoding ("cl100k_base", "o200k_base", "p50k_base",
// "p50k_edit", "r50k_base"). Empty or unknown names fall back to DefaultEncoding.
// Codecs are loaded once per process and shared.
func NewTokenizer(encoding string) (*Tokenizer, error) {
	var enc tokenizer.Encoding
	switch encoding {
	case "o200k_base":
		enc = tokenizer.O200kBase
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "p50k_edit":
		enc = tokenizer.P50kEdit
	case "r50k_base":
		enc = tokenizer.R50kBase
	default:
		encoding = DefaultEncoding
		enc = tokenizer.Cl100kBase
	}

	codecMu.Lock()
	defer codecMu.Unlock()
	codec, ok := codecs[enc]
	if !ok {
		var err error
		codec, err = tokenizer.Get(enc)
		if err != nil {
			return nil, fmt.Errorf("loading tokenizer %s: %w", encoding, err)
		}
		codecs[enc] = codec
	}
	return &Tokenizer{codec: codec, encoding: encoding}, nil
}

// Encoding returns the encoding name in use
func (t *Tokenizer) Encoding() string { return t.encoding }

// Count returns the number of tokens in text, or -1 when encoding fails
// so callers can tell a failure from an empty string.
func (t *Tokenizer) Count(text string) int {
	if t == nil || t.codec == nil {
		return -1
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return -1
	}
	return len(ids)
}
