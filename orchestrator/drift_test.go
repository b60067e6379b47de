package orchestrator

import (
	"strings"
	"testing"

	"github.com/l0run/l0/types"
)

func TestDriftDetector_MetaCommentary(t *testing.T) {
	d := NewDriftDetector()
	result := d.Check("As an AI language model, I cannot provide that information.")
	if !result.Detected {
		t.Fatalf("expected meta-commentary phrasing to be detected as drift")
	}
	if !result.Types[types.DriftMetaCommentary] {
		t.Fatalf("expected DriftMetaCommentary to be flagged, got %+v", result.Types)
	}
}

func TestDriftDetector_CleanContentNotFlagged(t *testing.T) {
	d := NewDriftDetector()
	result := d.Check("Here is a straightforward answer to your question about Go channels.")
	if result.Detected {
		t.Fatalf("expected clean content to not trigger drift, got %+v", result.Types)
	}
}

func TestDriftDetector_OnlyScansDeltaSinceLastCall(t *testing.T) {
	d := NewDriftDetector()
	first := d.Check("As an AI language model, I cannot help with that.")
	if !first.Detected {
		t.Fatalf("expected first check to flag the meta-commentary phrase")
	}
	second := d.Check("As an AI language model, I cannot help with that. And here is more clean text.")
	if second.Detected {
		t.Fatalf("expected second check to only scan the new delta, not re-flag already-scanned text: %+v", second.Types)
	}
}

func TestDriftDetector_Repetition(t *testing.T) {
	d := NewDriftDetector()
	repeated := strings.Repeat("all work no play ", 10)
	result := d.Check(repeated)
	if !result.Types[types.DriftRepetition] {
		t.Fatalf("expected heavily repeated text to flag DriftRepetition, got %+v", result.Types)
	}
}

func TestDriftViolation_IsRecoverable(t *testing.T) {
	v := DriftViolation()
	if !v.Recoverable {
		t.Fatalf("expected drift violation to be marked recoverable")
	}
}
