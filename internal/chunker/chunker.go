// Package chunker splits documents into overlapping token windows.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// ErrInvalidWindow is returned when the overlap does not fit inside the window.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

var loaderOnce sync.Once

// Tiktoken wraps a BPE encoding. Ranks are loaded from the embedded offline
// tables, so no network access is needed.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads an encoding by name ("cl100k_base") or by model name
// ("text-embedding-ada-002").
func NewTiktoken(name string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		var modelErr error
		enc, modelErr = tiktoken.EncodingForModel(name)
		if modelErr != nil {
			return nil, fmt.Errorf("unknown tokenizer %q: %w", name, err)
		}
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Chunker produces windows of Size tokens, each starting Size-Overlap tokens
// after the previous one.
type Chunker struct {
	tok     Tokenizer
	size    int
	overlap int
}

// New validates the window and returns a Chunker.
func New(tok Tokenizer, size, overlap int) (*Chunker, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: tokenizer required", ErrInvalidWindow)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidWindow, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidWindow, overlap, size)
	}
	return &Chunker{tok: tok, size: size, overlap: overlap}, nil
}

// Size returns the window length in tokens.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of tokens shared by neighbouring windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns one chunk per window start below the token count. Trailing
// windows may be shorter than Size. Empty text yields no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tokens := c.tok.Encode(text)
	if len(tokens) == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, (len(tokens)+step-1)/step)
	for start := 0; start < len(tokens); start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, c.tok.Decode(tokens[start:end]))
	}
	return chunks
}

// CountTokens returns the number of tokens in text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tok.Encode(text))
}
