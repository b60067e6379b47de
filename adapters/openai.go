// Package adapters holds concrete types.Adapter implementations mapping a
// specific provider SDK's stream onto the canonical event sequence the
// orchestrator consumes (§6). This package plays the role the teacher's
// model package plays for provider-specific streaming glue
// (processChatCompletionStream), generalized to the Adapter contract
// instead of being wired directly into one retry loop.
package adapters

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/l0run/l0/orchestrator"
	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// OpenAIAdapter wraps an *openai.ChatCompletionStream as a
// types.CanonicalStream. Detect always returns true for this raw type since
// no other adapter in this module claims it.
type OpenAIAdapter struct{}

// NewOpenAIAdapter constructs the adapter. It carries no state: every
// per-call option arrives through AdapterOptions/Wrap's raw stream.
func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Detect(raw types.RawStream) bool {
	_, ok := raw.(*openai.ChatCompletionStream)
	return ok
}

// Wrap adapts the raw stream. opts["toolCall"]==true switches delta
// extraction to tool-call argument fragments instead of message content,
// mirroring the teacher's req.Tools != nil branch in
// processChatCompletionStream.
func (a *OpenAIAdapter) Wrap(ctx context.Context, raw types.RawStream, opts types.AdapterOptions) (types.CanonicalStream, error) {
	stream, ok := raw.(*openai.ChatCompletionStream)
	if !ok {
		return nil, errors.New("openai adapter: raw stream is not *openai.ChatCompletionStream")
	}
	wantsToolCalls, _ := opts["toolCall"].(bool)
	return &openaiCanonicalStream{stream: stream, toolCall: wantsToolCalls}, nil
}

type openaiCanonicalStream struct {
	stream   *openai.ChatCompletionStream
	toolCall bool
	buf      *orchestrator.ToolCallBuffer
	done     bool
}

// Next pulls one frame from the underlying SDK stream and normalizes it
// into zero-or-one canonical events, following the required mappings of
// §4.2. A frame that yields nothing observable (e.g. an empty delta) is
// skipped by looping internally rather than returning a vacuous event.
func (s *openaiCanonicalStream) Next(ctx context.Context) (shared.Event, bool) {
	for {
		if s.done {
			return shared.Event{}, false
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return shared.Event{}, false
		}
		if err != nil {
			s.done = true
			return orchestrator.NewErrorEvent(err, "transport"), true
		}

		if resp.Usage != nil {
			usage := &shared.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			s.done = true
			return orchestrator.NewCompleteEvent(usage), true
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.FinishReason != "" {
			if choice.FinishReason == openai.FinishReasonNull {
				continue
			}
			// Surface completion now, without usage. A Usage-bearing
			// frame the provider sends after this one is never read,
			// because done is set.
			s.done = true
			return orchestrator.NewCompleteEvent(nil), true
		}

		if s.toolCall && len(choice.Delta.ToolCalls) > 0 {
			tc := choice.Delta.ToolCalls[0]
			if s.buf == nil {
				name := ""
				id := ""
				if tc.Function.Name != "" {
					name = tc.Function.Name
				}
				if tc.ID != "" {
					id = tc.ID
				}
				s.buf = orchestrator.NewToolCallBuffer(name, id)
			}
			if call, complete := s.buf.Append(tc.Function.Arguments); complete {
				s.buf = nil
				return orchestrator.NewMessageEvent(orchestrator.RoleToolCall, call.ArgsParsed), true
			}
			continue
		}

		if choice.Delta.Content == "" {
			continue
		}
		return orchestrator.NewTokenEvent(choice.Delta.Content), true
	}
}

func (s *openaiCanonicalStream) Close() error {
	s.stream.Close()
	return nil
}
