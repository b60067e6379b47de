package orchestrator

import (
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokensPerMessage and TokensPerName are the flat per-message overhead the
// teacher's token estimator adds on top of content tokens (cl100k_base
// framing tokens), kept as named constants for parity with its
// tokens_test.go naming.
const (
	TokensPerMessage = 3
	TokensPerName    = 1
)

const defaultEncoding = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(defaultEncoding)
		if encErr != nil {
			log.Printf("[l0] tiktoken encoding unavailable, falling back to heuristic estimate: %v", encErr)
		}
	})
	return enc
}

// EstimateTokens counts tokens in s using the cl100k_base BPE vocabulary
// when available. It is a helper for callers: the orchestrator's zero-output
// detection and telemetry count token events and do not call it.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(s, nil, nil))
	}
	// Heuristic fallback: ~4 characters per token, matching the rough
	// ratio cl100k_base exhibits on English prose.
	return (len(s) + 3) / 4
}

// EstimateMessageTokens adds the teacher's per-message framing overhead on
// top of the content token count.
func EstimateMessageTokens(content string) int {
	return TokensPerMessage + TokensPerName + EstimateTokens(content)
}
