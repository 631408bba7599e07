// Package bus implements Arbiter's synchronous, typed, in-process
// publish/subscribe dispatcher (spec.md §4.1). Grounded on the
// topic -> subscription-list shape of other_examples's
// GoCodeAlone-modular eventbus/memory.go, simplified to the spec's
// single-threaded synchronous delivery model: no worker pool, no
// channels — Emit calls every subscriber inline, in subscription
// order, and subscriber errors never reach the publisher.
package bus

import "fmt"

// Topic is the closed set of event names the bus carries.
type Topic string

const (
	RunStarted          Topic = "run.started"
	TrialPlanned        Topic = "trial.planned"
	TrialCompleted      Topic = "trial.completed"
	ParsedOutput        Topic = "parsed.output"
	EmbeddingRecorded   Topic = "embedding.recorded"
	BatchStarted        Topic = "batch.started"
	BatchCompleted      Topic = "batch.completed"
	ConvergenceRecord   Topic = "convergence.record" // alias: monitoring.record
	ClusterAssigned     Topic = "cluster.assigned"
	ClustersState       Topic = "clusters.state"
	AggregatesComputed  Topic = "aggregates.computed"
	EmbeddingsFinalized Topic = "embeddings.finalized"
	ArtifactWritten     Topic = "artifact.written"
	WarningRaised       Topic = "warning.raised"
	RunCompleted        Topic = "run.completed"
	RunFailed           Topic = "run.failed"
)

// Handler receives one event payload. The concrete payload type is
// whatever the emitter passed to Emit for that topic; subscribers type-
// assert to the payload type they expect.
type Handler func(payload any)

// Unsubscribe detaches a subscription. Calling it more than once is a
// no-op (idempotent per spec.md §4.1).
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
	live    bool
}

// Bus dispatches events to subscribers in subscription order, on the
// caller's goroutine, synchronously. It carries no internal locking:
// spec.md §5 requires all bus delivery to happen on one cooperative
// context, so the Orchestrator is the only caller.
type Bus struct {
	subs   map[Topic][]*subscription
	nextID uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]*subscription)}
}

// Subscribe registers handler for topic, returning an idempotent
// Unsubscribe. A handler that panics will crash the run; use
// SubscribeSafe for subscribers that should never abort anything.
func (b *Bus) Subscribe(topic Topic, handler Handler) Unsubscribe {
	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler, live: true}
	b.subs[topic] = append(b.subs[topic], sub)
	return func() { sub.live = false }
}

// SubscribeSafe wraps handler so a panic or a returned error is
// reported to onError instead of propagating to Emit's
// caller. This is the mechanism behind spec.md's SubscriberFailure
// error kind: subscriber failures are always recoverable and never
// abort the run.
func (b *Bus) SubscribeSafe(topic Topic, handler func(payload any) error, onError func(error)) Unsubscribe {
	wrapped := func(payload any) {
		defer func() {
			if r := recover(); r != nil {
				if onError != nil {
					onError(fmt.Errorf("subscriber panic on %s: %v", topic, r))
				}
			}
		}()
		if err := handler(payload); err != nil && onError != nil {
			onError(err)
		}
	}
	return b.Subscribe(topic, wrapped)
}

// Emit delivers payload to every live subscriber of topic, in
// subscription order. Emit order per topic is the order Emit was
// called; this function does not itself enforce cross-topic ordering
// — that is the Orchestrator's responsibility (spec.md §4.1).
func (b *Bus) Emit(topic Topic, payload any) {
	// Snapshot so a handler that subscribes/unsubscribes mid-delivery
	// doesn't mutate the slice we're ranging over.
	subs := append([]*subscription(nil), b.subs[topic]...)
	for _, s := range subs {
		if s.live {
			s.handler(payload)
		}
	}
}

// Flush is a no-op in this synchronous dispatcher: every Emit call has
// already delivered to all subscribers by the time it returns.
func (b *Bus) Flush() {}
