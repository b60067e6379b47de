// Command l0demo drives one streaming run against OpenAI's chat completion
// API and prints a telemetry summary, a minimal stand-in for the teacher
// server's main.go wiring of its model-layer error-handling components at
// startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/sashabaranov/go-openai"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0run/l0"
	"github.com/l0run/l0/adapters"
	"github.com/l0run/l0/ops"
	"github.com/l0run/l0/orchestrator"
	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	model := flag.String("model", openai.GPT4oMini, "chat completion model")
	prompt := flag.String("prompt", "Write a haiku about distributed systems.", "user prompt")
	flag.Parse()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY must be set")
	}
	client := openai.NewClient(apiKey)
	adapter := adapters.NewOpenAIAdapter()

	promReg := prometheus.NewRegistry()
	promObserver := orchestrator.NewPrometheusObserver(promReg)

	circuitBreaker := ops.NewCircuitBreaker(nil)
	healthChecks := ops.NewHealthCheckManager(nil)
	degradation := ops.NewDegradationManager(nil)
	deadLetters := ops.NewDeadLetterQueue(nil)
	streamRecovery := ops.NewStreamRecoveryManager(nil)
	resilience := ops.Bind(circuitBreaker, healthChecks, degradation, deadLetters, streamRecovery, *model)

	factory := func(m string) types.StreamFactory {
		return func(ctx context.Context, continuationPrompt string) (types.StreamResult, error) {
			messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: *prompt}}
			if continuationPrompt != "" {
				messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: continuationPrompt})
			}
			stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
				Model:    m,
				Messages: messages,
				Stream:   true,
			})
			if err != nil {
				return types.StreamResult{}, fmt.Errorf("creating chat completion stream: %w", err)
			}
			return types.StreamResult{Raw: stream, Adapter: adapter}, nil
		}
	}

	opts := types.Options{
		Stream:            factory(*model),
		FallbackStreams:   []types.StreamFactory{factory(openai.GPT3Dot5Turbo)},
		Provider:          *model,
		FallbackProviders: []string{openai.GPT3Dot5Turbo},
		Retry: types.RetryConfig{
			Attempts:  3,
			MaxRetries: 8,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  10 * time.Second,
			Backoff:   types.BackoffFixedJitter,
		},
		Timeout: types.TimeoutConfig{
			InitialToken: 20 * time.Second,
			InterToken:   10 * time.Second,
		},
		CheckIntervals: types.CheckIntervals{
			Guardrails: 20,
			Drift:      40,
			Checkpoint: 50,
		},
		DetectDrift:                    true,
		DetectZeroTokens:               true,
		ContinueFromLastKnownGoodToken: true,
		DeduplicateContinuation:        true,
		DeduplicationOptions:           types.DefaultDeduplicationOptions,
		Observer:                       l0.CombineObservers(promObserver),
		Resilience:                     resilience,
	}

	result := l0.Run(context.Background(), opts)

	for evt := range result.Stream {
		switch evt.Kind {
		case shared.EventToken:
			fmt.Print(evt.Token)
		case shared.EventComplete:
			fmt.Println()
		case shared.EventError:
			log.Printf("[l0demo] stream error: %v", evt.Err)
		}
	}

	printSummary(result)
	printDeadLetters(deadLetters)
}

func printSummary(result *l0.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Metric", "Value"})

	t := result.Telemetry
	rows := [][]string{
		{"session id", t.SessionId},
		{"attempts", strconv.Itoa(t.Attempts)},
		{"model retries", strconv.Itoa(t.Metrics.ModelRetryCount)},
		{"network retries", strconv.Itoa(t.Metrics.NetworkRetryCount)},
		{"fallbacks used", strconv.Itoa(t.FallbacksUsed)},
		{"total tokens", strconv.Itoa(t.Metrics.TotalTokens)},
		{"duration (ms)", strconv.FormatInt(t.Duration.Milliseconds(), 10)},
		{"drift detected", strconv.FormatBool(t.Drift.Detected)},
		{"resumed", strconv.FormatBool(t.Resumed)},
		{"network errors", strconv.Itoa(t.Network.ErrorCount)},
		{"guardrail violations", strconv.Itoa(t.Guardrails.ViolationCount)},
		{"continuation used", strconv.FormatBool(t.Continuation.Used)},
		{"deduplicated chars", strconv.Itoa(t.Continuation.DeduplicatedChars)},
	}
	if t.Metrics.TokensPerSecond != nil {
		rows = append(rows, []string{"tokens/sec", strconv.FormatFloat(*t.Metrics.TokensPerSecond, 'f', 2, 64)})
	}
	if t.TerminalCategory != "" {
		rows = append(rows, []string{"terminal category", string(t.TerminalCategory)})
	}
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()

	for _, e := range result.Errors {
		fmt.Println(e.ToDetailedString())
	}
}

// printDeadLetters reports any terminal failure filed against the dead
// letter queue during the run, so an operator can see what ultimately
// exhausted retry without re-running with verbose logging.
func printDeadLetters(dlq *ops.DeadLetterQueue) {
	items := dlq.List(ops.DLQFilter{})
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%d item(s) in dead letter queue:\n", len(items))
	for _, item := range items {
		fmt.Printf("  [%s] provider=%s checkpoint_len=%d attempts=%d: %s\n",
			item.Id, item.Provider, len(item.Checkpoint), item.TotalAttempts, item.LastError)
	}
}
