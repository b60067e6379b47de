package orchestrator

import "testing"

func TestEstimateTokens_Empty(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty string, got %d", got)
	}
}

func TestEstimateTokens_NonEmpty(t *testing.T) {
	got := EstimateTokens("The quick brown fox jumps over the lazy dog")
	if got <= 0 {
		t.Fatalf("expected a positive token estimate, got %d", got)
	}
}

func TestEstimateTokens_LongerTextEstimatesMore(t *testing.T) {
	short := EstimateTokens("hello")
	long := EstimateTokens("hello, this is a considerably longer piece of text than the first one")
	if long <= short {
		t.Fatalf("expected longer text to estimate more tokens: short=%d long=%d", short, long)
	}
}

func TestEstimateMessageTokens_AddsPerMessageOverhead(t *testing.T) {
	content := "hi"
	got := EstimateMessageTokens(content)
	want := TokensPerMessage + TokensPerName + EstimateTokens(content)
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}
