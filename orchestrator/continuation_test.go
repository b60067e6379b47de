package orchestrator

import (
	"strings"
	"testing"

	"github.com/l0run/l0/types"
)

func TestShouldCheckpoint(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{Checkpoint: 10}, false, types.DeduplicationOptions{}, nil)
	if cm.ShouldCheckpoint(5, 0) {
		t.Fatalf("5 tokens since last checkpoint should not cross a 10-token interval")
	}
	if !cm.ShouldCheckpoint(10, 0) {
		t.Fatalf("10 tokens since last checkpoint should cross a 10-token interval")
	}
	if !cm.ShouldCheckpoint(23, 10) {
		t.Fatalf("13 tokens since last checkpoint should cross a 10-token interval")
	}
}

func TestShouldCheckpoint_DisabledWhenIntervalZero(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, false, types.DeduplicationOptions{}, nil)
	if cm.ShouldCheckpoint(1000, 0) {
		t.Fatalf("checkpoint interval of 0 must disable checkpointing entirely")
	}
}

func TestBuildResumePrompt_DefaultInstruction(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, false, types.DeduplicationOptions{}, nil)
	prompt := cm.BuildResumePrompt("so far so good")
	if !strings.HasPrefix(prompt, "so far so good") {
		t.Fatalf("expected resume prompt to carry the checkpoint verbatim, got %q", prompt)
	}
	if !strings.Contains(prompt, "Continue exactly where") {
		t.Fatalf("expected default continuation instruction to be appended, got %q", prompt)
	}
}

func TestBuildResumePrompt_CustomBuilder(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, false, types.DeduplicationOptions{}, func(cp string) string {
		return "CUSTOM:" + cp
	})
	if got := cm.BuildResumePrompt("x"); got != "CUSTOM:x" {
		t.Fatalf("expected custom builder to take precedence, got %q", got)
	}
}

func TestDedupe_FindsOverlap(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, true, types.DeduplicationOptions{MinOverlap: 2, MaxOverlap: 50}, nil)
	result := cm.Dedupe("The quick brown", "brown fox jumps")
	if result.OverlapChars != len("brown") {
		t.Fatalf("expected overlap of %d chars, got %d", len("brown"), result.OverlapChars)
	}
	if result.NewContent != " fox jumps" {
		t.Fatalf("expected new content %q, got %q", " fox jumps", result.NewContent)
	}
}

func TestDedupe_BelowMinOverlapKeepsEverything(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, true, types.DeduplicationOptions{MinOverlap: 10, MaxOverlap: 50}, nil)
	result := cm.Dedupe("abc", "abcdef")
	if result.NewContent != "abcdef" || result.OverlapChars != 0 {
		t.Fatalf("expected no dedup below MinOverlap, got %+v", result)
	}
}

func TestDedupe_DisabledWhenMaxLessThanMin(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, true, types.DeduplicationOptions{MinOverlap: 20, MaxOverlap: 5}, nil)
	result := cm.Dedupe("hello world", "world peace")
	if result.NewContent != "world peace" || result.OverlapChars != 0 {
		t.Fatalf("expected dedup disabled when maxOverlap < minOverlap, got %+v", result)
	}
}

func TestDedupe_CaseInsensitiveByDefault(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, true, types.DeduplicationOptions{MinOverlap: 2, MaxOverlap: 50}, nil)
	result := cm.Dedupe("Hello THERE", "there friend")
	if result.OverlapChars != len("there") {
		t.Fatalf("expected case-insensitive overlap match, got %+v", result)
	}
}

func TestDedupe_CaseSensitiveWhenConfigured(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, true, types.DeduplicationOptions{MinOverlap: 2, MaxOverlap: 50, CaseSensitive: true}, nil)
	result := cm.Dedupe("Hello THERE", "there friend")
	if result.OverlapChars != 0 {
		t.Fatalf("expected no overlap under case-sensitive comparison, got %+v", result)
	}
}

func TestDedupe_NoOverlapReturnsIncomingUnchanged(t *testing.T) {
	cm := NewContinuationManager(types.CheckIntervals{}, true, types.DeduplicationOptions{MinOverlap: 2, MaxOverlap: 50}, nil)
	result := cm.Dedupe("abc", "xyz")
	if result.NewContent != "xyz" || result.OverlapChars != 0 {
		t.Fatalf("expected unrelated strings to have zero overlap, got %+v", result)
	}
}
