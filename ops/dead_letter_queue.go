package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/redis/go-redis/v9"

	"github.com/l0run/l0/shared"
)

// =============================================================================
// DEAD LETTER QUEUE
// =============================================================================
//
// The Dead Letter Queue stores terminal failure records — attempts that
// exhausted retries, fallbacks, and the circuit breaker with no further
// recourse (§4.8, "optionally surface a terminal failure record with full
// context for later inspection"). A record can be manually retried,
// inspected, or discarded; it is never retried automatically by the queue
// itself (the orchestrator owns retry decisions).
//
// Storage is in-memory by default. Setting RedisClient makes every item
// durable across process restarts, mirroring the teacher's existing
// preference for Redis-backed stores over bespoke persistence.
//
// =============================================================================

// DeadLetterItem is a terminal failure record.
type DeadLetterItem struct {
	Id        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	SessionId string `json:"sessionId,omitempty"`

	Checkpoint string          `json:"checkpoint,omitempty"`
	RequestData json.RawMessage `json:"requestData,omitempty"`

	FailureType    shared.FailureType `json:"failureType"`
	LastError      string             `json:"lastError"`
	HTTPCode       int                `json:"httpCode,omitempty"`
	TotalAttempts  int                `json:"totalAttempts"`
	FailureHistory []FailureRecord    `json:"failureHistory"`

	Status      DLQItemStatus `json:"status"`
	RetryCount  int           `json:"retryCount"`
	NextRetryAt *time.Time    `json:"nextRetryAt,omitempty"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`

	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`

	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FailureRecord tracks a single failure occurrence within an item's history.
type FailureRecord struct {
	Timestamp   time.Time          `json:"timestamp"`
	FailureType shared.FailureType `json:"failureType"`
	Error       string             `json:"error"`
	HTTPCode    int                `json:"httpCode,omitempty"`
	AttemptNum  int                `json:"attemptNum"`
}

// DLQItemStatus is the lifecycle state of a DLQ item.
type DLQItemStatus string

const (
	DLQStatusPending    DLQItemStatus = "pending"
	DLQStatusScheduled  DLQItemStatus = "scheduled"
	DLQStatusProcessing DLQItemStatus = "processing"
	DLQStatusResolved   DLQItemStatus = "resolved"
	DLQStatusDiscarded  DLQItemStatus = "discarded"
	DLQStatusExpired    DLQItemStatus = "expired"
)

// DLQConfig configures the dead letter queue.
type DLQConfig struct {
	MaxItems   int
	DefaultTTL time.Duration

	AutoRetryEnabled  bool
	AutoRetryDelay    time.Duration
	AutoRetryMaxCount int

	CleanupInterval time.Duration
	KeepResolved    time.Duration

	NotifyOnThreshold int

	// RedisClient, when set, makes the queue durable: every mutation is
	// mirrored to Redis as the item's JSON string under the key
	// RedisKeyPrefix:id, with TTL matching DefaultTTL.
	RedisClient    *redis.Client
	RedisKeyPrefix string
}

// DefaultDLQConfig mirrors the teacher's Default*Config convention.
var DefaultDLQConfig = DLQConfig{
	MaxItems:          1000,
	DefaultTTL:        7 * 24 * time.Hour,
	AutoRetryEnabled:  true,
	AutoRetryDelay:    1 * time.Hour,
	AutoRetryMaxCount: 3,
	CleanupInterval:   1 * time.Hour,
	KeepResolved:      24 * time.Hour,
	NotifyOnThreshold: 100,
	RedisKeyPrefix:    "l0:dlq",
}

// DLQStats tracks queue statistics.
type DLQStats struct {
	TotalAdded       int64
	TotalResolved    int64
	TotalDiscarded   int64
	TotalExpired     int64
	TotalAutoRetried int64
	CurrentSize      int
	OldestItem       time.Time
}

// DeadLetterQueue stores terminal failure records for later inspection.
type DeadLetterQueue struct {
	mu sync.RWMutex

	items  map[string]*DeadLetterItem
	config DLQConfig
	stats  DLQStats

	onItemAdded   func(item *DeadLetterItem)
	onItemRetried func(item *DeadLetterItem, success bool)

	stopCleanup chan struct{}
}

// NewDeadLetterQueue creates a new dead letter queue and starts its
// background cleanup loop.
func NewDeadLetterQueue(config *DLQConfig) *DeadLetterQueue {
	if config == nil {
		config = &DefaultDLQConfig
	}
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = DefaultDLQConfig.RedisKeyPrefix
	}

	q := &DeadLetterQueue{
		items:       make(map[string]*DeadLetterItem),
		config:      *config,
		stopCleanup: make(chan struct{}),
	}

	go q.cleanupLoop()

	return q
}

// Close stops the background cleanup loop.
func (q *DeadLetterQueue) Close() {
	close(q.stopCleanup)
}

// SetItemAddedCallback sets a callback invoked (in its own goroutine) on Add.
func (q *DeadLetterQueue) SetItemAddedCallback(callback func(item *DeadLetterItem)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onItemAdded = callback
}

// SetItemRetriedCallback sets a callback invoked after CompleteRetry.
func (q *DeadLetterQueue) SetItemRetriedCallback(callback func(item *DeadLetterItem, success bool)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onItemRetried = callback
}

// =============================================================================
// QUEUE OPERATIONS
// =============================================================================

// Add records a terminal failure.
func (q *DeadLetterQueue) Add(provider, model, sessionId, checkpoint string, requestData any, failure *shared.ProviderFailure, totalAttempts int) *DeadLetterItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.config.MaxItems {
		q.evictOldestLocked()
	}

	var requestBytes json.RawMessage
	if requestData != nil {
		if b, err := json.Marshal(requestData); err == nil {
			requestBytes = b
		}
	}

	now := time.Now()
	expiresAt := now.Add(q.config.DefaultTTL)

	var nextRetryAt *time.Time
	status := DLQStatusPending
	if q.config.AutoRetryEnabled {
		retry := now.Add(scaledRetryDelay(q.config.AutoRetryDelay, len(checkpoint)))
		nextRetryAt = &retry
		status = DLQStatusScheduled
	}

	item := &DeadLetterItem{
		Id:            "dlq_" + uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Provider:      provider,
		Model:         model,
		SessionId:     sessionId,
		Checkpoint:    checkpoint,
		RequestData:   requestBytes,
		TotalAttempts: totalAttempts,
		Status:        status,
		NextRetryAt:   nextRetryAt,
		ExpiresAt:     &expiresAt,
		Metadata:      make(map[string]string),
	}

	if failure != nil {
		item.FailureType = failure.Type
		item.LastError = failure.Message
		item.HTTPCode = failure.HTTPCode
		item.FailureHistory = []FailureRecord{{
			Timestamp:   now,
			FailureType: failure.Type,
			Error:       failure.Message,
			HTTPCode:    failure.HTTPCode,
			AttemptNum:  totalAttempts,
		}}
	}

	q.items[item.Id] = item
	q.stats.TotalAdded++
	q.stats.CurrentSize = len(q.items)
	q.persistLocked(item)

	log.Printf("[dlq] added id=%s provider=%s failure=%s", item.Id, provider, item.FailureType)

	if q.onItemAdded != nil {
		go q.onItemAdded(item)
	}
	if q.config.NotifyOnThreshold > 0 && len(q.items) >= q.config.NotifyOnThreshold {
		log.Printf("[dlq] queue size (%d) exceeds threshold (%d)", len(q.items), q.config.NotifyOnThreshold)
	}

	return item
}

// Get retrieves an item by ID. The returned item is a deep copy — its slice
// and map fields (FailureHistory, Tags, Metadata) share no memory with the
// live item, so a caller mutating it cannot corrupt queue state.
func (q *DeadLetterQueue) Get(id string) *DeadLetterItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	if !ok {
		return nil
	}
	return deepCopyItem(item)
}

// List returns deep-copied items matching the given filter (see Get).
func (q *DeadLetterQueue) List(filter DLQFilter) []*DeadLetterItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var results []*DeadLetterItem
	for _, item := range q.items {
		if filter.matches(item) {
			results = append(results, deepCopyItem(item))
		}
	}
	return results
}

// deepCopyItem copies item field-by-field via copier with DeepCopy set, so
// the slice/map fields backing FailureHistory/Tags/Metadata get fresh
// backing arrays instead of aliasing the live item's.
func deepCopyItem(item *DeadLetterItem) *DeadLetterItem {
	cp := &DeadLetterItem{}
	if err := copier.CopyWithOption(cp, item, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on type mismatches, which can't happen between
		// two *DeadLetterItem; fall back to the shallow copy rather than
		// return nil for an item we know exists.
		shallow := *item
		return &shallow
	}
	return cp
}

// scaledRetryDelay shortens the auto-retry wait for items that already carry
// substantial checkpoint content. Resuming from a long checkpoint only needs
// the continuation to regenerate a short remainder, so it's cheap to retry
// soon; a failure with no accepted content at all has nothing to resume from
// and gets the full configured backoff.
func scaledRetryDelay(base time.Duration, checkpointLen int) time.Duration {
	switch {
	case checkpointLen >= 500:
		return base / 4
	case checkpointLen >= 100:
		return base / 2
	default:
		return base
	}
}

// DLQFilter defines criteria for filtering DLQ items.
type DLQFilter struct {
	Status      *DLQItemStatus
	Provider    string
	FailureType *shared.FailureType
	SessionId   string
	MinAge      time.Duration
	MaxAge      time.Duration
}

func (f DLQFilter) matches(item *DeadLetterItem) bool {
	if f.Status != nil && item.Status != *f.Status {
		return false
	}
	if f.Provider != "" && item.Provider != f.Provider {
		return false
	}
	if f.FailureType != nil && item.FailureType != *f.FailureType {
		return false
	}
	if f.SessionId != "" && item.SessionId != f.SessionId {
		return false
	}
	if f.MinAge > 0 && time.Since(item.CreatedAt) < f.MinAge {
		return false
	}
	if f.MaxAge > 0 && time.Since(item.CreatedAt) > f.MaxAge {
		return false
	}
	return true
}

// =============================================================================
// RETRY OPERATIONS
// =============================================================================

// MarkForRetry schedules an item for retry after delay.
func (q *DeadLetterQueue) MarkForRetry(id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("dlq item not found: %s", id)
	}
	if item.Status == DLQStatusResolved || item.Status == DLQStatusDiscarded {
		return fmt.Errorf("cannot retry resolved/discarded item")
	}

	now := time.Now()
	retryAt := now.Add(delay)
	item.NextRetryAt = &retryAt
	item.Status = DLQStatusScheduled
	item.UpdatedAt = now
	q.persistLocked(item)

	return nil
}

// StartRetry marks an item as being retried. Call before attempting retry.
func (q *DeadLetterQueue) StartRetry(id string) (*DeadLetterItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, fmt.Errorf("dlq item not found: %s", id)
	}
	if item.Status == DLQStatusProcessing {
		return nil, fmt.Errorf("item is already being processed")
	}

	now := time.Now()
	item.Status = DLQStatusProcessing
	item.RetryCount++
	item.UpdatedAt = now
	q.stats.TotalAutoRetried++
	q.persistLocked(item)

	cp := *item
	return &cp, nil
}

// CompleteRetry marks a retry attempt complete. Call after the retry runs.
func (q *DeadLetterQueue) CompleteRetry(id string, success bool, newError string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return
	}

	now := time.Now()
	item.UpdatedAt = now

	if success {
		item.Status = DLQStatusResolved
		item.ResolvedAt = &now
		item.Resolution = "retried_success"
		item.ResolvedBy = "auto"
		q.stats.TotalResolved++
	} else {
		item.FailureHistory = append(item.FailureHistory, FailureRecord{
			Timestamp:  now,
			Error:      newError,
			AttemptNum: item.TotalAttempts + item.RetryCount,
		})
		item.LastError = newError

		if item.RetryCount >= q.config.AutoRetryMaxCount {
			item.Status = DLQStatusPending
			item.NextRetryAt = nil
		} else {
			backoff := q.config.AutoRetryDelay * time.Duration(item.RetryCount+1)
			retryAt := now.Add(scaledRetryDelay(backoff, len(item.Checkpoint)))
			item.NextRetryAt = &retryAt
			item.Status = DLQStatusScheduled
		}
	}
	q.persistLocked(item)

	if q.onItemRetried != nil {
		cp := *item
		go q.onItemRetried(&cp, success)
	}
}

// =============================================================================
// RESOLUTION OPERATIONS
// =============================================================================

// Resolve manually resolves an item.
func (q *DeadLetterQueue) Resolve(id, resolution, resolvedBy string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("dlq item not found: %s", id)
	}

	now := time.Now()
	item.Status = DLQStatusResolved
	item.ResolvedAt = &now
	item.Resolution = resolution
	item.ResolvedBy = resolvedBy
	item.UpdatedAt = now
	q.stats.TotalResolved++
	q.persistLocked(item)

	return nil
}

// Discard marks an item as discarded — it will not be retried again.
func (q *DeadLetterQueue) Discard(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("dlq item not found: %s", id)
	}

	now := time.Now()
	item.Status = DLQStatusDiscarded
	item.ResolvedAt = &now
	item.Resolution = "discarded: " + reason
	item.ResolvedBy = "manual"
	item.UpdatedAt = now
	q.stats.TotalDiscarded++
	q.persistLocked(item)

	return nil
}

// =============================================================================
// QUERY OPERATIONS
// =============================================================================

func (q *DeadLetterQueue) GetPendingItems() []*DeadLetterItem {
	status := DLQStatusPending
	return q.List(DLQFilter{Status: &status})
}

func (q *DeadLetterQueue) GetScheduledItems() []*DeadLetterItem {
	status := DLQStatusScheduled
	return q.List(DLQFilter{Status: &status})
}

func (q *DeadLetterQueue) GetItemsDueForRetry() []*DeadLetterItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := time.Now()
	var results []*DeadLetterItem
	for _, item := range q.items {
		if item.Status == DLQStatusScheduled && item.NextRetryAt != nil && now.After(*item.NextRetryAt) {
			cp := *item
			results = append(results, &cp)
		}
	}
	return results
}

func (q *DeadLetterQueue) GetByProvider(provider string) []*DeadLetterItem {
	return q.List(DLQFilter{Provider: provider})
}

func (q *DeadLetterQueue) GetByFailureType(failureType shared.FailureType) []*DeadLetterItem {
	return q.List(DLQFilter{FailureType: &failureType})
}

// =============================================================================
// CLEANUP
// =============================================================================

func (q *DeadLetterQueue) cleanupLoop() {
	ticker := time.NewTicker(q.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.cleanup()
		case <-q.stopCleanup:
			return
		}
	}
}

func (q *DeadLetterQueue) cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	resolvedCutoff := now.Add(-q.config.KeepResolved)

	var toDelete []string
	for id, item := range q.items {
		if item.ExpiresAt != nil && now.After(*item.ExpiresAt) && item.Status == DLQStatusPending {
			item.Status = DLQStatusExpired
			item.ResolvedAt = &now
			item.Resolution = "expired"
			q.stats.TotalExpired++
		}

		if (item.Status == DLQStatusResolved || item.Status == DLQStatusDiscarded || item.Status == DLQStatusExpired) &&
			item.ResolvedAt != nil && item.ResolvedAt.Before(resolvedCutoff) {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		delete(q.items, id)
		q.deleteRedisLocked(id)
	}
	q.stats.CurrentSize = len(q.items)
}

func (q *DeadLetterQueue) evictOldestLocked() {
	var oldestId string
	var oldestTime time.Time
	for id, item := range q.items {
		if item.Status == DLQStatusProcessing {
			continue
		}
		if oldestId == "" || item.CreatedAt.Before(oldestTime) {
			oldestId = id
			oldestTime = item.CreatedAt
		}
	}
	if oldestId != "" {
		delete(q.items, oldestId)
		q.deleteRedisLocked(oldestId)
	}
}

// =============================================================================
// REDIS PERSISTENCE (optional)
// =============================================================================

func (q *DeadLetterQueue) redisKey(id string) string {
	return fmt.Sprintf("%s:%s", q.config.RedisKeyPrefix, id)
}

func (q *DeadLetterQueue) persistLocked(item *DeadLetterItem) {
	if q.config.RedisClient == nil {
		return
	}
	data, err := json.Marshal(item)
	if err != nil {
		log.Printf("[dlq] marshal failed for %s: %v", item.Id, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.config.RedisClient.Set(ctx, q.redisKey(item.Id), data, q.config.DefaultTTL).Err(); err != nil {
		log.Printf("[dlq] redis persist failed for %s: %v", item.Id, err)
	}
}

func (q *DeadLetterQueue) deleteRedisLocked(id string) {
	if q.config.RedisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.config.RedisClient.Del(ctx, q.redisKey(id)).Err(); err != nil {
		log.Printf("[dlq] redis delete failed for %s: %v", id, err)
	}
}

// LoadFromRedis repopulates the queue from any items persisted by a prior
// process, scanning keys under RedisKeyPrefix.
func (q *DeadLetterQueue) LoadFromRedis(ctx context.Context) error {
	if q.config.RedisClient == nil {
		return nil
	}
	var cursor uint64
	loaded := 0
	for {
		keys, next, err := q.config.RedisClient.Scan(ctx, cursor, q.config.RedisKeyPrefix+":*", 100).Result()
		if err != nil {
			return fmt.Errorf("dlq: redis scan failed: %w", err)
		}
		for _, key := range keys {
			data, err := q.config.RedisClient.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				continue
			}
			var item DeadLetterItem
			if err := json.Unmarshal(data, &item); err != nil {
				continue
			}
			q.mu.Lock()
			q.items[item.Id] = &item
			q.mu.Unlock()
			loaded++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if loaded > 0 {
		log.Printf("[dlq] loaded %d items from redis", loaded)
	}
	return nil
}

// =============================================================================
// STATISTICS AND METRICS
// =============================================================================

func (q *DeadLetterQueue) GetStats() DLQStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := q.stats
	stats.CurrentSize = len(q.items)
	for _, item := range q.items {
		if stats.OldestItem.IsZero() || item.CreatedAt.Before(stats.OldestItem) {
			stats.OldestItem = item.CreatedAt
		}
	}
	return stats
}

// DLQMetrics provides a detailed breakdown of queue contents.
type DLQMetrics struct {
	Stats            DLQStats
	ByStatus         map[DLQItemStatus]int
	ByProvider       map[string]int
	ByFailureType    map[shared.FailureType]int
	PendingRetries   int
	ScheduledRetries int
}

func (q *DeadLetterQueue) GetMetrics() DLQMetrics {
	q.mu.RLock()
	defer q.mu.RUnlock()

	metrics := DLQMetrics{
		Stats:         q.stats,
		ByStatus:      make(map[DLQItemStatus]int),
		ByProvider:    make(map[string]int),
		ByFailureType: make(map[shared.FailureType]int),
	}
	metrics.Stats.CurrentSize = len(q.items)

	for _, item := range q.items {
		metrics.ByStatus[item.Status]++
		metrics.ByProvider[item.Provider]++
		metrics.ByFailureType[item.FailureType]++
		if item.Status == DLQStatusPending {
			metrics.PendingRetries++
		}
		if item.Status == DLQStatusScheduled {
			metrics.ScheduledRetries++
		}
	}
	return metrics
}
