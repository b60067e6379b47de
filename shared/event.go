// Package shared holds the types that cross every L0 package boundary: the
// canonical event stream, the running-state snapshot, violations, and the
// error taxonomy. It plays the role plandex-shared plays for the teacher's
// model package — a dependency-free leaf every other package imports.
package shared

import "time"

// EventKind discriminates the canonical event union described in the data
// model. Consumers should switch on Kind rather than doing type assertions
// on whichever optional field happens to be set.
type EventKind string

const (
	EventToken    EventKind = "token"
	EventMessage  EventKind = "message"
	EventData     EventKind = "data"
	EventProgress EventKind = "progress"
	EventError    EventKind = "error"
	EventComplete EventKind = "complete"
)

// ContentType enumerates the payload kinds a Data event may carry.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentImage  ContentType = "image"
	ContentAudio  ContentType = "audio"
	ContentVideo  ContentType = "video"
	ContentFile   ContentType = "file"
	ContentJSON   ContentType = "json"
	ContentBinary ContentType = "binary"
)

// Usage mirrors the token accounting a provider attaches to its terminal
// frame. Fields are optional because not every provider reports all three.
type Usage struct {
	PromptTokens     int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`
	TotalTokens      int `json:"totalTokens,omitempty"`
}

// DataPayload is the body of an EventData event.
type DataPayload struct {
	ContentType ContentType       `json:"contentType"`
	MIME        string            `json:"mime,omitempty"`
	Base64      string            `json:"base64,omitempty"`
	URL         string            `json:"url,omitempty"`
	Bytes       []byte            `json:"bytes,omitempty"`
	JSON        any               `json:"json,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Progress is the body of an EventProgress event. Every field is advisory.
type Progress struct {
	Percent    *float64 `json:"percent,omitempty"`
	Step       string   `json:"step,omitempty"`
	TotalSteps int      `json:"totalSteps,omitempty"`
	Message    string   `json:"message,omitempty"`
	ETA        *time.Duration `json:"eta,omitempty"`
}

// Event is the canonical, normalized unit flowing out of the Event
// Normalizer and into the orchestrator's consumers. Exactly one of the
// payload fields is meaningful for a given Kind; the others are zero.
type Event struct {
	Kind EventKind `json:"kind"`

	// EventToken
	Token string `json:"token,omitempty"`

	// EventMessage
	Role        string `json:"role,omitempty"`
	MessageJSON string `json:"messageJson,omitempty"`

	// EventData
	Data *DataPayload `json:"data,omitempty"`

	// EventProgress
	Progress *Progress `json:"progress,omitempty"`

	// EventError (stream-level, does not by itself terminate the orchestrator)
	Err    error  `json:"-"`
	Reason string `json:"reason,omitempty"`

	// EventComplete
	Usage *Usage `json:"usage,omitempty"`

	// EmittedAt is set by the normalizer at creation time, before any
	// timeout/cancellation bookkeeping touches the event.
	EmittedAt time.Time `json:"emittedAt"`
}

// IsContentBearing reports whether this event grows State.Content when
// applied (tokens, messages, and data payloads all do; progress/error/
// complete do not).
func (e Event) IsContentBearing() bool {
	switch e.Kind {
	case EventToken, EventMessage, EventData:
		return true
	default:
		return false
	}
}

// ToolCall is produced by the normalizer once a tool-call argument buffer
// first parses as balanced JSON.
type ToolCall struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	ArgsParsed any    `json:"argsParsed"`
}
