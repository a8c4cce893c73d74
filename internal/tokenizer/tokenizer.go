// Package tokenizer counts tokens the way the completion API does.
//
// The shipped scheme is tiktoken cl100k_base (gpt-3.5-turbo, gpt-4,
// text-embedding-ada-002). Every budget in the server is computed with it,
// so switching encodings changes all trimming and max-token decisions.
package tokenizer

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const Encoding = "cl100k_base"

type Counter interface {
	Count(text string) int
}

type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

var loaderOnce sync.Once

// New loads the BPE ranks bundled with the offline loader, so no network
// access is needed at startup.
func New() (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: get encoding: %w", err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func(string) int

func (f CounterFunc) Count(text string) int { return f(text) }
