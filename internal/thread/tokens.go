package thread

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many model tokens a text occupies.
type TokenCounter interface {
	Count(model string, text string) int
}

// TiktokenCounter counts with the BPE encoding of the model. It falls back to
// a character heuristic when the encoding cannot be loaded (e.g. offline).
type TiktokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	failed   map[string]bool
}

// NewTiktokenCounter returns an empty counter; encodings load lazily.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{
		encoders: map[string]*tiktoken.Tiktoken{},
		failed:   map[string]bool{},
	}
}

func (c *TiktokenCounter) encoder(encoding string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[encoding]; ok {
		return enc
	}
	if c.failed[encoding] {
		return nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		c.failed[encoding] = true
		return nil
	}
	c.encoders[encoding] = enc
	return enc
}

func (c *TiktokenCounter) Count(model string, text string) int {
	if text == "" {
		return 0
	}
	enc := c.encoder(modelToEncoding(model))
	if enc == nil {
		return heuristicTokenCount(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateCounter counts with the character heuristic only.
type EstimateCounter struct{}

func (EstimateCounter) Count(_ string, text string) int {
	if text == "" {
		return 0
	}
	return heuristicTokenCount(text)
}

// heuristicTokenCount assumes ~4 characters per token.
func heuristicTokenCount(text string) int {
	n := len([]rune(text))
	estimate := (n + 3) / 4
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "o200k_base"
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "chatgpt-4o"), strings.HasPrefix(m, "gpt-4.1"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}
