package orchestrator

import (
	"strings"

	"github.com/l0run/l0/types"
)

// defaultContinuationInstruction is appended to the checkpoint when the
// caller supplies no BuildContinuationPrompt, giving the model an explicit
// cue to resume rather than restart (§4.7).
const defaultContinuationInstruction = "\n\nContinue exactly where the previous response left off. Do not repeat any of the text above; do not restart or summarize it."

// ContinuationManager owns checkpointing, resume-prompt construction, and
// prefix-overlap dedup of a regenerated stream (§4.7). It holds no running
// totals of its own beyond what State already tracks — every method reads
// its inputs from the caller and returns a value, so it is safe to share
// across concurrent runs.
type ContinuationManager struct {
	intervalTokens int
	dedupe         bool
	dedupeOpts     types.DeduplicationOptions
	buildPrompt    func(checkpoint string) string
}

// NewContinuationManager builds a manager from the run's Options.
func NewContinuationManager(checkIntervals types.CheckIntervals, dedupe bool, dedupeOpts types.DeduplicationOptions, buildPrompt func(string) string) *ContinuationManager {
	return &ContinuationManager{
		intervalTokens: checkIntervals.Checkpoint,
		dedupe:         dedupe,
		dedupeOpts:     dedupeOpts,
		buildPrompt:    buildPrompt,
	}
}

// ShouldCheckpoint reports whether tokenCount has crossed another
// intervalTokens boundary since the last checkpoint was taken at
// lastCheckpointTokens.
func (m *ContinuationManager) ShouldCheckpoint(tokenCount, lastCheckpointTokens int) bool {
	if m.intervalTokens <= 0 {
		return false
	}
	return tokenCount-lastCheckpointTokens >= m.intervalTokens
}

// BuildResumePrompt constructs the prompt for a continuation retry, using
// the caller's builder when supplied and the fixed instruction otherwise.
func (m *ContinuationManager) BuildResumePrompt(checkpoint string) string {
	if m.buildPrompt != nil {
		return m.buildPrompt(checkpoint)
	}
	return checkpoint + defaultContinuationInstruction
}

// DedupResult is what Dedupe returns: the portion of incoming that is new
// content plus how many of its leading characters were discarded as
// regenerated overlap.
type DedupResult struct {
	NewContent     string
	OverlapChars   int
	ResumeFrom     int
}

// Dedupe finds the longest suffix of checkpoint that is also a prefix of
// incoming and strips it, bounded by {minOverlap, maxOverlap}. When
// disabled, or when maxOverlap < minOverlap (§9's Open Question resolution:
// "dedup disabled" in that case), it returns incoming unchanged.
func (m *ContinuationManager) Dedupe(checkpoint, incoming string) DedupResult {
	if !m.dedupe || m.dedupeOpts.MaxOverlap < m.dedupeOpts.MinOverlap {
		return DedupResult{NewContent: incoming}
	}

	cp, in := checkpoint, incoming
	if m.dedupeOpts.NormalizeWhitespace {
		cp = normalizeWhitespace(cp)
		in = normalizeWhitespace(in)
	}
	cmpCp, cmpIn := cp, in
	if !m.dedupeOpts.CaseSensitive {
		cmpCp = strings.ToLower(cp)
		cmpIn = strings.ToLower(in)
	}

	maxOverlap := m.dedupeOpts.MaxOverlap
	if maxOverlap <= 0 || maxOverlap > len(cmpIn) {
		maxOverlap = len(cmpIn)
	}
	if maxOverlap > len(cmpCp) {
		maxOverlap = len(cmpCp)
	}

	overlap := longestSuffixPrefixOverlap(cmpCp, cmpIn, maxOverlap)
	if overlap < m.dedupeOpts.MinOverlap {
		return DedupResult{NewContent: incoming}
	}

	return DedupResult{
		NewContent:   incoming[overlap:],
		OverlapChars: overlap,
		ResumeFrom:   overlap,
	}
}

// longestSuffixPrefixOverlap returns the length of the longest string that
// is simultaneously a suffix of a and a prefix of b, searching candidate
// lengths from longest to shortest down to 1, capped at limit characters of
// b so cost is bounded regardless of how long the checkpoint is.
func longestSuffixPrefixOverlap(a, b string, limit int) int {
	max := limit
	if max > len(a) {
		max = len(a)
	}
	if max > len(b) {
		max = len(b)
	}
	for n := max; n > 0; n-- {
		if a[len(a)-n:] == b[:n] {
			return n
		}
	}
	return 0
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
