// Package orchestrator implements the L0 streaming orchestrator: the
// attempt loop, event normalization helpers, the stream wrapper, the
// guardrail engine, the drift detector, the error classifier + retry
// planner, the continuation manager, and the observability hub. It plays
// the role the teacher's plandex-server/model package plays for the
// provider-stream reliability layer.
package orchestrator

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/l0run/l0/shared"
)

// ToolCallBuffer accumulates a streamed tool-call argument string until it
// first parses as balanced JSON, mirroring how the teacher's
// processChatCompletionStream accumulates `choice.Delta.ToolCalls[0]`
// fragments before treating them as usable content (§4.2: "tolerate
// streaming partial JSON by buffering until balanced").
type ToolCallBuffer struct {
	Name string
	ID   string
	args strings.Builder
}

// NewToolCallBuffer starts a buffer for one tool call.
func NewToolCallBuffer(name, id string) *ToolCallBuffer {
	return &ToolCallBuffer{Name: name, ID: id}
}

// Append adds an argument fragment and reports whether the buffered text now
// parses as a complete JSON value — the boundary at which onToolCall fires.
func (b *ToolCallBuffer) Append(fragment string) (shared.ToolCall, bool) {
	b.args.WriteString(fragment)
	raw := b.args.String()
	if !isBalancedJSON(raw) {
		return shared.ToolCall{}, false
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return shared.ToolCall{}, false
	}
	return shared.ToolCall{Name: b.Name, ID: b.ID, ArgsParsed: parsed}, true
}

// isBalancedJSON is a cheap brace/bracket-depth check, not a full parse —
// good enough to avoid calling json.Unmarshal on every partial fragment.
func isBalancedJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	depth := 0
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && !inString
}

// NewTokenEvent builds a canonical token event. Empty deltas are the
// caller's responsibility to filter before counting toward tokenCount (§4.2)
// — the normalizer itself never decides whether an empty token is
// content-bearing; State.AppendToken already no-ops on "".
func NewTokenEvent(value string) shared.Event {
	return shared.Event{Kind: shared.EventToken, Token: value, EmittedAt: time.Now()}
}

// NewMessageEvent builds a canonical message event from a role and a value
// (tool call or structured assistant output). A string is taken as
// already-serialized JSON and stored as is; any other value is
// JSON-marshaled, and left empty if marshaling fails.
func NewMessageEvent(role string, value any) shared.Event {
	var serialized string
	if s, ok := value.(string); ok {
		serialized = s
	} else if b, err := json.Marshal(value); err == nil {
		serialized = string(b)
	}
	return shared.Event{Kind: shared.EventMessage, Role: role, MessageJSON: serialized, EmittedAt: time.Now()}
}

// NewDataEvent builds a canonical data (multimodal) event.
func NewDataEvent(payload shared.DataPayload) shared.Event {
	return shared.Event{Kind: shared.EventData, Data: &payload, EmittedAt: time.Now()}
}

// NewProgressEvent builds a canonical progress event.
func NewProgressEvent(p shared.Progress) shared.Event {
	return shared.Event{Kind: shared.EventProgress, Progress: &p, EmittedAt: time.Now()}
}

// NewErrorEvent builds a stream-level error event. Per §3 this does not by
// itself terminate the orchestrator; the orchestrator decides.
func NewErrorEvent(err error, reason string) shared.Event {
	return shared.Event{Kind: shared.EventError, Err: err, Reason: reason, EmittedAt: time.Now()}
}

// NewCompleteEvent builds the terminal success marker, optionally carrying
// usage accounting the provider reported on its final frame.
func NewCompleteEvent(usage *shared.Usage) shared.Event {
	return shared.Event{Kind: shared.EventComplete, Usage: usage, EmittedAt: time.Now()}
}
