package ops

import (
	"testing"
	"time"

	"github.com/l0run/l0/shared"
)

func TestDeadLetterQueue_Add(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit, HTTPCode: 429, Message: "rate limited"}

	item := q.Add("openai", "gpt-4", "sess-1", "partial content so far", nil, failure, 3)

	if item == nil {
		t.Fatal("should return item")
	}
	if item.Id == "" {
		t.Error("should have ID")
	}
	if item.Provider != "openai" {
		t.Errorf("Provider = %s, want openai", item.Provider)
	}
	if item.FailureType != shared.FailureRateLimit {
		t.Errorf("FailureType = %s, want rate_limit", item.FailureType)
	}
	if item.Status != DLQStatusScheduled {
		t.Errorf("Status = %s, want scheduled (auto-retry enabled by default)", item.Status)
	}
}

func TestDeadLetterQueue_Get(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	added := q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	retrieved := q.Get(added.Id)
	if retrieved == nil {
		t.Fatal("should find item")
	}
	if retrieved.Id != added.Id {
		t.Errorf("Id = %s, want %s", retrieved.Id, added.Id)
	}

	if q.Get("nonexistent") != nil {
		t.Error("should not find non-existent item")
	}
}

func TestDeadLetterQueue_List(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure1 := &shared.ProviderFailure{Type: shared.FailureRateLimit, Provider: "openai"}
	failure2 := &shared.ProviderFailure{Type: shared.FailureOverloaded, Provider: "anthropic"}

	q.Add("openai", "gpt-4", "sess-1", "", nil, failure1, 3)
	q.Add("anthropic", "claude-3", "sess-2", "", nil, failure2, 2)
	q.Add("openai", "gpt-3.5", "sess-3", "", nil, failure1, 1)

	openaiItems := q.List(DLQFilter{Provider: "openai"})
	if len(openaiItems) != 2 {
		t.Errorf("openai items = %d, want 2", len(openaiItems))
	}

	rateLimitItems := q.GetByFailureType(shared.FailureRateLimit)
	if len(rateLimitItems) != 2 {
		t.Errorf("rate limit items = %d, want 2", len(rateLimitItems))
	}

	bySession := q.List(DLQFilter{SessionId: "sess-2"})
	if len(bySession) != 1 {
		t.Errorf("sess-2 items = %d, want 1", len(bySession))
	}
}

func TestDeadLetterQueue_MarkForRetry(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	item := q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	if err := q.MarkForRetry(item.Id, 1*time.Hour); err != nil {
		t.Fatalf("MarkForRetry error: %v", err)
	}

	updated := q.Get(item.Id)
	if updated.Status != DLQStatusScheduled {
		t.Errorf("Status = %s, want scheduled", updated.Status)
	}
	if updated.NextRetryAt == nil {
		t.Error("NextRetryAt should be set")
	}
}

func TestDeadLetterQueue_StartAndCompleteRetry(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	item := q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	started, err := q.StartRetry(item.Id)
	if err != nil {
		t.Fatalf("StartRetry error: %v", err)
	}
	if started.Status != DLQStatusProcessing {
		t.Errorf("Status = %s, want processing", started.Status)
	}

	q.CompleteRetry(item.Id, true, "")

	updated := q.Get(item.Id)
	if updated.Status != DLQStatusResolved {
		t.Errorf("Status = %s, want resolved", updated.Status)
	}
	if updated.Resolution != "retried_success" {
		t.Errorf("Resolution = %s, want retried_success", updated.Resolution)
	}
}

func TestDeadLetterQueue_RetryWithFailure(t *testing.T) {
	config := &DLQConfig{
		MaxItems: 100, DefaultTTL: time.Hour,
		AutoRetryEnabled: true, AutoRetryDelay: time.Minute, AutoRetryMaxCount: 3,
		CleanupInterval: time.Hour, KeepResolved: time.Hour,
	}
	q := NewDeadLetterQueue(config)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	item := q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	q.StartRetry(item.Id)
	q.CompleteRetry(item.Id, false, "still failing")

	updated := q.Get(item.Id)
	if updated.Status != DLQStatusScheduled {
		t.Errorf("Status = %s, want scheduled (for next retry)", updated.Status)
	}
	if len(updated.FailureHistory) != 2 {
		t.Errorf("FailureHistory length = %d, want 2", len(updated.FailureHistory))
	}
}

func TestDeadLetterQueue_MaxRetries(t *testing.T) {
	config := &DLQConfig{
		MaxItems: 100, DefaultTTL: time.Hour,
		AutoRetryEnabled: true, AutoRetryDelay: time.Minute, AutoRetryMaxCount: 2,
		CleanupInterval: time.Hour, KeepResolved: time.Hour,
	}
	q := NewDeadLetterQueue(config)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	item := q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	for i := 0; i < 3; i++ {
		q.StartRetry(item.Id)
		q.CompleteRetry(item.Id, false, "failed")
	}

	updated := q.Get(item.Id)
	if updated.Status != DLQStatusPending {
		t.Errorf("Status = %s, want pending (max retries exceeded)", updated.Status)
	}
	if updated.NextRetryAt != nil {
		t.Error("NextRetryAt should be nil after max retries")
	}
}

func TestDeadLetterQueue_Resolve(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	item := q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	if err := q.Resolve(item.Id, "manual fix", "admin"); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	updated := q.Get(item.Id)
	if updated.Status != DLQStatusResolved {
		t.Errorf("Status = %s, want resolved", updated.Status)
	}
	if updated.Resolution != "manual fix" {
		t.Errorf("Resolution = %s, want manual fix", updated.Resolution)
	}
	if updated.ResolvedBy != "admin" {
		t.Errorf("ResolvedBy = %s, want admin", updated.ResolvedBy)
	}
}

func TestDeadLetterQueue_Discard(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	item := q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	if err := q.Discard(item.Id, "not needed"); err != nil {
		t.Fatalf("Discard error: %v", err)
	}

	if updated := q.Get(item.Id); updated.Status != DLQStatusDiscarded {
		t.Errorf("Status = %s, want discarded", updated.Status)
	}
}

func TestDeadLetterQueue_GetPendingItems(t *testing.T) {
	config := &DLQConfig{
		MaxItems: 100, DefaultTTL: time.Hour, AutoRetryEnabled: false,
		CleanupInterval: time.Hour, KeepResolved: time.Hour,
	}
	q := NewDeadLetterQueue(config)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)
	item2 := q.Add("openai", "gpt-4", "sess-2", "", nil, failure, 3)
	q.Add("openai", "gpt-4", "sess-3", "", nil, failure, 3)

	q.Resolve(item2.Id, "fixed", "admin")

	pending := q.GetPendingItems()
	if len(pending) != 2 {
		t.Errorf("pending items = %d, want 2", len(pending))
	}
}

func TestDeadLetterQueue_GetItemsDueForRetry(t *testing.T) {
	config := &DLQConfig{
		MaxItems: 100, DefaultTTL: time.Hour,
		AutoRetryEnabled: true, AutoRetryDelay: time.Millisecond, AutoRetryMaxCount: 3,
		CleanupInterval: time.Hour, KeepResolved: time.Hour,
	}
	q := NewDeadLetterQueue(config)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	time.Sleep(10 * time.Millisecond)

	due := q.GetItemsDueForRetry()
	if len(due) != 1 {
		t.Errorf("items due = %d, want 1", len(due))
	}
}

func TestDeadLetterQueue_MaxItems(t *testing.T) {
	config := &DLQConfig{MaxItems: 3, DefaultTTL: time.Hour, CleanupInterval: time.Hour, KeepResolved: time.Hour}
	q := NewDeadLetterQueue(config)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 1)
	q.Add("openai", "gpt-4", "sess-2", "", nil, failure, 1)
	q.Add("openai", "gpt-4", "sess-3", "", nil, failure, 1)
	q.Add("openai", "gpt-4", "sess-4", "", nil, failure, 1)

	stats := q.GetStats()
	if stats.CurrentSize != 3 {
		t.Errorf("CurrentSize = %d, want 3 (max)", stats.CurrentSize)
	}
}

func TestDeadLetterQueue_Stats(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 1)
	item2 := q.Add("openai", "gpt-4", "sess-2", "", nil, failure, 1)
	item3 := q.Add("openai", "gpt-4", "sess-3", "", nil, failure, 1)

	q.Resolve(item2.Id, "fixed", "admin")
	q.Discard(item3.Id, "not needed")

	stats := q.GetStats()
	if stats.TotalAdded != 3 {
		t.Errorf("TotalAdded = %d, want 3", stats.TotalAdded)
	}
	if stats.TotalResolved != 1 {
		t.Errorf("TotalResolved = %d, want 1", stats.TotalResolved)
	}
	if stats.TotalDiscarded != 1 {
		t.Errorf("TotalDiscarded = %d, want 1", stats.TotalDiscarded)
	}
	if stats.CurrentSize != 3 {
		t.Errorf("CurrentSize = %d, want 3", stats.CurrentSize)
	}
}

func TestDeadLetterQueue_Metrics(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	failure1 := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	failure2 := &shared.ProviderFailure{Type: shared.FailureOverloaded}

	q.Add("openai", "gpt-4", "sess-1", "", nil, failure1, 1)
	q.Add("anthropic", "claude-3", "sess-2", "", nil, failure2, 1)
	q.Add("openai", "gpt-3.5", "sess-3", "", nil, failure1, 1)

	metrics := q.GetMetrics()
	if metrics.ByProvider["openai"] != 2 {
		t.Errorf("ByProvider[openai] = %d, want 2", metrics.ByProvider["openai"])
	}
	if metrics.ByProvider["anthropic"] != 1 {
		t.Errorf("ByProvider[anthropic] = %d, want 1", metrics.ByProvider["anthropic"])
	}
	if metrics.ByFailureType[shared.FailureRateLimit] != 2 {
		t.Errorf("ByFailureType[rate_limit] = %d, want 2", metrics.ByFailureType[shared.FailureRateLimit])
	}
}

func TestDeadLetterQueue_Callbacks(t *testing.T) {
	q := NewDeadLetterQueue(nil)
	defer q.Close()

	addedCalled := false
	retriedCalled := false
	var retriedSuccess bool

	q.SetItemAddedCallback(func(item *DeadLetterItem) { addedCalled = true })
	q.SetItemRetriedCallback(func(item *DeadLetterItem, success bool) {
		retriedCalled = true
		retriedSuccess = success
	})

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	item := q.Add("openai", "gpt-4", "sess-1", "", nil, failure, 3)

	time.Sleep(10 * time.Millisecond)
	if !addedCalled {
		t.Error("add callback should have been called")
	}

	q.StartRetry(item.Id)
	q.CompleteRetry(item.Id, true, "")

	time.Sleep(10 * time.Millisecond)
	if !retriedCalled {
		t.Error("retry callback should have been called")
	}
	if !retriedSuccess {
		t.Error("retry should have been successful")
	}
}
