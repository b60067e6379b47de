package orchestrator

import (
	"math"
	"regexp"
	"strings"

	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// DriftDetector inspects emitted text for tone/meta/repetition/entropy
// anomalies (§4.5). It runs every checkIntervals.drift tokens and operates
// only on the content accumulated since the previous drift check, since
// re-scanning the whole transcript on every check would grow quadratically.
type DriftDetector struct {
	lastScannedLen int
}

// NewDriftDetector creates a detector with no prior scan position.
func NewDriftDetector() *DriftDetector {
	return &DriftDetector{}
}

var metaCommentaryPhrases = []string{
	"as an ai", "i cannot", "i'm not able to", "i am not able to",
	"as a language model", "i don't have the ability", "let me think about this",
	"i apologize, but", "i should note that",
}

var toneShiftMarkers = regexp.MustCompile(`(?i)\b(sorry|unfortunately|however|in conclusion|to summarize)\b`)

// Check scans the delta since the last call and returns a DriftResult.
// confidence is advisory only, per the spec's Open Questions — gating
// happens on Detected alone.
func (d *DriftDetector) Check(content string) types.DriftResult {
	delta := ""
	if len(content) > d.lastScannedLen {
		delta = content[d.lastScannedLen:]
	}
	d.lastScannedLen = len(content)

	result := types.DriftResult{Types: map[types.DriftType]bool{}}
	lower := strings.ToLower(delta)

	for _, phrase := range metaCommentaryPhrases {
		if strings.Contains(lower, phrase) {
			result.Types[types.DriftMetaCommentary] = true
			break
		}
	}

	if n := toneShiftMarkers.FindAllString(delta, -1); len(n) >= 3 {
		result.Types[types.DriftToneShift] = true
	}

	if hasRepetition(delta) {
		result.Types[types.DriftRepetition] = true
	}

	if entropy := tokenEntropy(delta); entropy > 0 && entropy < 1.5 && len(delta) > 40 {
		result.Types[types.DriftEntropySpike] = true
	}

	result.Detected = len(result.Types) > 0
	if result.Detected {
		result.Confidence = driftConfidence(result.Types)
	}
	return result
}

// driftConfidence is a simple count-weighted advisory score, not a
// calibrated probability — the spec leaves its scale unpinned (§9 Open
// Questions).
func driftConfidence(detected map[types.DriftType]bool) float64 {
	n := len(detected)
	if n > 4 {
		n = 4
	}
	return float64(n) / 4.0
}

// hasRepetition flags a delta where the same 12-character substring recurs
// three or more times — a cheap proxy for looping/stuck generation.
func hasRepetition(delta string) bool {
	const windowSize = 12
	if len(delta) < windowSize*3 {
		return false
	}
	seen := make(map[string]int)
	for i := 0; i+windowSize <= len(delta); i++ {
		window := delta[i : i+windowSize]
		seen[window]++
		if seen[window] >= 3 {
			return true
		}
	}
	return false
}

// tokenEntropy computes a rough Shannon entropy over whitespace-split
// tokens in the delta — low entropy (few distinct tokens dominating) hints
// at degenerate repetitive output.
func tokenEntropy(delta string) float64 {
	fields := strings.Fields(delta)
	if len(fields) == 0 {
		return 0
	}
	counts := make(map[string]int, len(fields))
	for _, f := range fields {
		counts[f]++
	}
	total := float64(len(fields))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// DriftViolation builds, for a detected drift, the recoverable violation that
// participates in retry planning identically to a content-class
// recoverable violation (§4.5).
func DriftViolation() shared.Violation {
	return shared.Violation{
		Rule:        string(shared.ReasonDrift),
		Message:     "semantic drift detected in generated content",
		Severity:    shared.SeverityError,
		Recoverable: true,
	}
}
