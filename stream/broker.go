package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victorbash400/rainmaker/hook"
	"github.com/victorbash400/rainmaker/pipeline"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*Broker)(nil)
	_ hook.WorkflowCreated   = (*Broker)(nil)
	_ hook.StageStarted      = (*Broker)(nil)
	_ hook.StageCompleted    = (*Broker)(nil)
	_ hook.StageFailed       = (*Broker)(nil)
	_ hook.StageRetrying     = (*Broker)(nil)
	_ hook.WorkflowPaused    = (*Broker)(nil)
	_ hook.WorkflowResumed   = (*Broker)(nil)
	_ hook.WorkflowRerouted  = (*Broker)(nil)
	_ hook.WorkflowAwaiting  = (*Broker)(nil)
	_ hook.WorkflowCancelled = (*Broker)(nil)
	_ hook.WorkflowCompleted = (*Broker)(nil)
	_ hook.WorkflowFailed    = (*Broker)(nil)
	_ hook.Shutdown          = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the hook.Extension
// interface to receive lifecycle events and fans them out to subscribers
// via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use (e.g., the api feed).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event to all matching topics.
func (b *Broker) publish(evt *Event) {
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

// event builds the envelope for a workflow lifecycle event.
func (b *Broker) event(t EventType, st *pipeline.State, stage pipeline.Stage, data WorkflowEventData) *Event {
	data.WorkflowID = st.ID.String()
	return &Event{
		Type:       t,
		WorkflowID: st.ID.String(),
		Stage:      string(stage),
		Timestamp:  time.Now().UTC(),
		Topic:      WorkflowTopic(st.ID.String()),
		Data:       mustMarshal(data),
	}
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Lifecycle hooks ─────────────────────────────────

func (b *Broker) OnWorkflowCreated(_ context.Context, st *pipeline.State) error {
	b.publish(b.event(EventWorkflowCreated, st, st.CurrentStage, WorkflowEventData{
		ProspectRef: st.ProspectRef,
		Stage:       string(st.CurrentStage),
	}))
	return nil
}

func (b *Broker) OnStageStarted(_ context.Context, st *pipeline.State, stage pipeline.Stage) error {
	b.publish(b.event(EventStageStarted, st, stage, WorkflowEventData{
		Stage: string(stage),
	}))
	return nil
}

func (b *Broker) OnStageCompleted(_ context.Context, st *pipeline.State, stage pipeline.Stage, result json.RawMessage, elapsed time.Duration) error {
	evt := b.event(EventStageCompleted, st, stage, WorkflowEventData{
		Stage:     string(stage),
		ElapsedMs: elapsed.Milliseconds(),
	})
	// The opaque stage result rides along for observers that render it.
	evt.Data = mustMarshal(struct {
		WorkflowEventData
		Result json.RawMessage `json:"result,omitempty"`
	}{
		WorkflowEventData: WorkflowEventData{
			WorkflowID: st.ID.String(),
			Stage:      string(stage),
			ElapsedMs:  elapsed.Milliseconds(),
		},
		Result: result,
	})
	b.publish(evt)
	return nil
}

func (b *Broker) OnStageFailed(_ context.Context, st *pipeline.State, stage pipeline.Stage, stageErr error) error {
	b.publish(b.event(EventStageFailed, st, stage, WorkflowEventData{
		Stage: string(stage),
		Error: stageErr.Error(),
	}))
	return nil
}

func (b *Broker) OnStageRetrying(_ context.Context, st *pipeline.State, stage pipeline.Stage, attempt int, delay time.Duration) error {
	b.publish(b.event(EventStageRetrying, st, stage, WorkflowEventData{
		Stage:   string(stage),
		Attempt: attempt,
		DelayMs: delay.Milliseconds(),
	}))
	return nil
}

func (b *Broker) OnWorkflowPaused(_ context.Context, st *pipeline.State, pause *pipeline.PauseContext) error {
	b.publish(b.event(EventWorkflowPaused, st, st.CurrentStage, WorkflowEventData{
		Stage:  string(st.CurrentStage),
		Status: string(st.Status()),
		Reason: pause.Reason,
	}))
	return nil
}

func (b *Broker) OnWorkflowResumed(_ context.Context, st *pipeline.State) error {
	b.publish(b.event(EventWorkflowResumed, st, st.CurrentStage, WorkflowEventData{
		Stage: string(st.CurrentStage),
	}))
	return nil
}

func (b *Broker) OnWorkflowRerouted(_ context.Context, st *pipeline.State, from, to pipeline.Stage) error {
	b.publish(b.event(EventWorkflowRerouted, st, to, WorkflowEventData{
		From: string(from),
		To:   string(to),
	}))
	return nil
}

func (b *Broker) OnWorkflowAwaiting(_ context.Context, st *pipeline.State, stage pipeline.Stage) error {
	b.publish(b.event(EventWorkflowAwaiting, st, stage, WorkflowEventData{
		Stage: string(stage),
	}))
	return nil
}

func (b *Broker) OnWorkflowCancelled(_ context.Context, st *pipeline.State) error {
	b.publish(b.event(EventWorkflowCancelled, st, st.CurrentStage, WorkflowEventData{
		Status: string(pipeline.StatusCancelled),
	}))
	return nil
}

func (b *Broker) OnWorkflowCompleted(_ context.Context, st *pipeline.State) error {
	b.publish(b.event(EventWorkflowCompleted, st, st.CurrentStage, WorkflowEventData{
		Status: string(pipeline.StatusCompleted),
	}))
	return nil
}

func (b *Broker) OnWorkflowFailed(_ context.Context, st *pipeline.State, reason string) error {
	b.publish(b.event(EventWorkflowFailed, st, st.CurrentStage, WorkflowEventData{
		Status: string(pipeline.StatusFailed),
		Reason: reason,
	}))
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
