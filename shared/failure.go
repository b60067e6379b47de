package shared

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Category is the Error Classifier's seven-way split (§4.6). It is coarser
// than FailureType: several FailureTypes fold into the same Category for
// retry-planning purposes.
type Category string

const (
	CategoryNetwork   Category = "network"
	CategoryTransient Category = "transient"
	CategoryModel     Category = "model"
	CategoryContent   Category = "content"
	CategoryProvider  Category = "provider"
	CategoryFatal     Category = "fatal"
	CategoryInternal  Category = "internal"
)

// FailureType is the fine-grained classification, mirroring the teacher's
// shared.FailureType in plandex's provider_failures.go but extended with the
// network-transport subtypes this spec calls out explicitly (dropped
// connections, DNS failures, aborted SSE, …).
type FailureType string

const (
	FailureConnectionReset   FailureType = "connection_reset"
	FailureConnectionRefused FailureType = "connection_refused"
	FailureDNS               FailureType = "dns_failure"
	FailureSSEAborted        FailureType = "sse_aborted"
	FailureNoBytes           FailureType = "no_bytes"
	FailurePartialChunk      FailureType = "partial_chunk"
	FailureBackgroundThrottle FailureType = "background_throttle"
	FailureRateLimit         FailureType = "rate_limit"
	FailureOverloaded        FailureType = "overloaded"
	FailureServerError       FailureType = "server_error"
	FailureTimeout           FailureType = "timeout"
	FailureGuardrailRecoverable FailureType = "guardrail_recoverable"
	FailureGuardrailFatal    FailureType = "guardrail_fatal"
	FailureZeroOutput        FailureType = "zero_output"
	FailureDrift             FailureType = "drift"
	FailureMalformedOutput   FailureType = "malformed_output"
	FailureAuthInvalid       FailureType = "auth_invalid"
	FailureContextTooLong    FailureType = "context_too_long"
	FailureSSLFailure        FailureType = "ssl_failure"
	FailureInvariantViolated FailureType = "invariant_violated"
	FailureAdapterMissing    FailureType = "adapter_missing"
	FailureOther             FailureType = "other"
)

// ProviderFailure is the fully-classified shape the Retry Planner consumes,
// grounded in the teacher's shared.ProviderFailure (provider_failures.go):
// an HTTP code, a message, a provider hint, and a retryability verdict, plus
// the server-suggested retry-after.
type ProviderFailure struct {
	Type              FailureType `json:"type"`
	Category          Category    `json:"category"`
	HTTPCode          int         `json:"httpCode"`
	Message           string      `json:"message"`
	Provider          string      `json:"provider"`
	Retryable         bool        `json:"retryable"`
	RetryAfterSeconds int         `json:"retryAfterSeconds,omitempty"`
}

// MaxRetryDelaySeconds caps how long a server-suggested Retry-After may be
// before L0 gives up treating the error as retryable — a provider asking for
// a 20 minute backoff is, in practice, telling the caller to stop.
const MaxRetryDelaySeconds = 120

var (
	reRetryAfterJSON = regexp.MustCompile(`"retry_after_ms"\s*:\s*(\d+)`)
	reRetryAfterText = regexp.MustCompile(`retry[_\-\s]?after[_\-\s]?(?:[:\s]+)?(\d+)(ms|seconds?|secs?|s)?`)
	reTryAgain       = regexp.MustCompile(`(?:re)?try[_\-\s]+(?:again[_\-\s]+)?in[_\-\s]+(\d+)(ms|seconds?|secs?|s)?`)
)

// ClassifyProviderFailure is the single entry point the Error Classifier
// uses to turn an HTTP status + body + transport provider name into a
// ProviderFailure. It follows the teacher's ClassifyModelError /
// classifyHTTPError message-sniffing approach: message content is checked
// before falling back to the bare status code, since providers frequently
// reuse 400/429 for semantically different failures.
func ClassifyProviderFailure(httpCode int, message string, headers http.Header, provider string) ProviderFailure {
	msg := strings.ToLower(message)

	if pf, ok := classifyByMessage(msg, provider); ok {
		pf.HTTPCode = httpCode
		return pf
	}

	pf := classifyByStatus(httpCode, msg, provider)
	if pf.Retryable {
		if ra := extractRetryAfter(headers, msg); ra > 0 {
			if ra > MaxRetryDelaySeconds {
				pf.Retryable = false
			} else {
				pf.RetryAfterSeconds = ra
			}
		}
	}
	return pf
}

func classifyByMessage(msg, provider string) (ProviderFailure, bool) {
	switch {
	case containsAny(msg, "maximum context length", "context length exceeded", "exceed context limit",
		"decrease input length", "too many tokens", "payload too large", "input is too large",
		"input too large", "input is too long", "input too long"):
		return ProviderFailure{Type: FailureContextTooLong, Category: CategoryFatal, Provider: provider, Retryable: false}, true

	case containsAny(msg, "model_overloaded", "model overloaded", "server is overloaded",
		"model is currently overloaded", "overloaded_error", "resource has been exhausted"):
		return ProviderFailure{Type: FailureOverloaded, Category: CategoryTransient, Provider: provider, Retryable: true}, true

	case containsAny(msg, "invalid api key", "incorrect api key", "unauthorized"):
		return ProviderFailure{Type: FailureAuthInvalid, Category: CategoryFatal, Provider: provider, Retryable: false}, true

	case containsAny(msg, "ssl", "certificate verify failed", "tls handshake"):
		return ProviderFailure{Type: FailureSSLFailure, Category: CategoryFatal, Provider: provider, Retryable: false}, true

	case containsAny(msg, "econnreset", "connection reset"):
		return ProviderFailure{Type: FailureConnectionReset, Category: CategoryNetwork, Provider: provider, Retryable: true}, true

	case containsAny(msg, "econnrefused", "connection refused"):
		return ProviderFailure{Type: FailureConnectionRefused, Category: CategoryNetwork, Provider: provider, Retryable: true}, true

	case containsAny(msg, "no such host", "dns", "name resolution"):
		return ProviderFailure{Type: FailureDNS, Category: CategoryNetwork, Provider: provider, Retryable: true}, true

	case containsAny(msg, "unexpected eof", "stream aborted", "sse aborted", "connection closed before"):
		return ProviderFailure{Type: FailureSSEAborted, Category: CategoryNetwork, Provider: provider, Retryable: true}, true

	case containsAny(msg, "context deadline exceeded", "context canceled"):
		return ProviderFailure{Type: FailureTimeout, Category: CategoryNetwork, Provider: provider, Retryable: true}, true
	}
	return ProviderFailure{}, false
}

func classifyByStatus(code int, msg, provider string) ProviderFailure {
	switch code {
	case 0:
		return ProviderFailure{Type: FailureOther, Category: CategoryNetwork, Provider: provider, Retryable: true}
	case 401:
		return ProviderFailure{Type: FailureAuthInvalid, Category: CategoryFatal, Provider: provider, Retryable: false}
	case 403:
		return ProviderFailure{Type: FailureAuthInvalid, Category: CategoryFatal, Provider: provider, Retryable: false}
	case 413:
		return ProviderFailure{Type: FailureContextTooLong, Category: CategoryFatal, Provider: provider, Retryable: false}
	case 408:
		return ProviderFailure{Type: FailureTimeout, Category: CategoryNetwork, Provider: provider, Retryable: true}
	case 429:
		return ProviderFailure{Type: FailureRateLimit, Category: CategoryTransient, Provider: provider, Retryable: true}
	case 500, 502, 504:
		return ProviderFailure{Type: FailureServerError, Category: CategoryTransient, Provider: provider, Retryable: true}
	case 503, 529:
		return ProviderFailure{Type: FailureOverloaded, Category: CategoryTransient, Provider: provider, Retryable: true}
	case 501, 505:
		return ProviderFailure{Type: FailureOther, Category: CategoryFatal, Provider: provider, Retryable: false}
	default:
		retryable := code >= 500 || strings.Contains(msg, "provider returned error")
		category := CategoryProvider
		if retryable {
			category = CategoryTransient
		} else {
			category = CategoryFatal
		}
		return ProviderFailure{Type: FailureOther, Category: category, Provider: provider, Retryable: retryable, HTTPCode: code}
	}
}

func containsAny(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

func extractRetryAfter(h http.Header, body string) int {
	now := time.Now()
	if h != nil {
		if v := h.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
			if t, err := http.ParseTime(v); err == nil {
				if d := int(t.Sub(now).Seconds()); d > 0 {
					return d
				}
			}
		}
	}
	lower := strings.ToLower(strings.TrimSpace(body))
	if m := reRetryAfterJSON.FindStringSubmatch(lower); len(m) == 2 {
		n, _ := strconv.Atoi(m[1])
		return n / 1000
	}
	if m := reRetryAfterText.FindStringSubmatch(lower); len(m) >= 2 {
		return normalizeUnit(m[1], m[len(m)-1])
	}
	if m := reTryAgain.FindStringSubmatch(lower); len(m) >= 2 {
		return normalizeUnit(m[1], m[len(m)-1])
	}
	return 0
}

func normalizeUnit(numStr, unit string) int {
	n, _ := strconv.Atoi(numStr)
	if unit == "ms" {
		return n / 1000
	}
	return n
}
