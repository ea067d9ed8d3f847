// Package bus is the in-process typed pub/sub backbone. Every cross-component
// signal (order status, executions, market data, diagnostics, alerts) travels
// through it; components never call each other's handlers directly.
package bus

import "sync"

// Topic names an event channel.
type Topic string

const (
	TopicOrderStatus Topic = "order_status"
	TopicExecution   Topic = "execution"
	TopicMarketData  Topic = "market_data"
	TopicAccount     Topic = "account"
	TopicDiagnostic  Topic = "diagnostic"
	TopicAlert       Topic = "alert"
)

// Bus fans payloads out to per-subscriber queues. Registration and publishing
// share one lock so a publish never iterates a mutating subscriber list.
type Bus struct {
	mu     sync.Mutex
	topics map[Topic][]*Subscription
}

func New() *Bus {
	return &Bus{topics: make(map[Topic][]*Subscription)}
}

// Subscribe registers a new subscriber on topic. The returned subscription
// buffers without bound, so publishers are never blocked by a slow consumer.
func (b *Bus) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{bus: b, topic: topic}
	sub.cond = sync.NewCond(&sub.mu)
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers payload to every subscriber currently registered on topic,
// in registration order. Publishing to a topic with no subscribers is a no-op.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.topics[topic] {
		sub.push(payload)
	}
}

func (b *Bus) unregister(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[target.topic]
	for i, sub := range subs {
		if sub == target {
			b.topics[target.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[target.topic]) == 0 {
		delete(b.topics, target.topic)
	}
}

// Subscription is an ordered, unbounded queue of payloads for one subscriber.
type Subscription struct {
	bus   *Bus
	topic Topic

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []any
	closed bool
}

func (s *Subscription) push(payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, payload)
	s.cond.Signal()
}

// Next blocks until a payload is available or the subscription is closed.
// Payloads already queued at close time are still drained before ok=false.
func (s *Subscription) Next() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return nil, false
	}
	payload := s.queue[0]
	s.queue = s.queue[1:]
	return payload, true
}

// Close unregisters the subscription and wakes any blocked Next caller.
// Closing twice is harmless.
func (s *Subscription) Close() {
	s.bus.unregister(s)
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
