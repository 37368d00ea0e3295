package eventsub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	// StatusPending means the subscription exists locally but the provider
	// has not confirmed it yet.
	StatusPending Status = "pending"
	// StatusVerified means the provider accepted the subscription (webhook
	// challenge answered, or websocket session registration acknowledged).
	StatusVerified Status = "verified"
	// StatusActive means the subscription is enabled and delivering events.
	StatusActive Status = "active"
	// StatusSuspended means the delivery transport dropped; the subscription
	// is expected to resume once the transport reconnects.
	StatusSuspended Status = "suspended"
	// StatusRevoked is terminal: the provider reported the subscription no
	// longer exists.
	StatusRevoked Status = "revoked"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusVerified:  1,
	StatusActive:    2,
	StatusSuspended: 2,
}

// validTransition enforces the forward-only lifecycle. The only cycle
// permitted is active⇄suspended (transport flapping); revoked is a terminal
// sink reachable from every non-terminal state.
func validTransition(from, to Status) bool {
	if from == StatusRevoked {
		return false
	}
	if to == StatusRevoked {
		return true
	}
	if from == StatusActive && to == StatusSuspended {
		return true
	}
	if from == StatusSuspended && to == StatusActive {
		return true
	}
	return statusRank[to] == statusRank[from]+1
}

// Notification is one decoded event delivered to a consumer handler.
type Notification struct {
	SubscriptionID string
	Topic          Topic
	Event          json.RawMessage
}

// Handler receives decoded notifications for one subscription. Handlers for
// the same subscription are invoked sequentially in arrival order; handlers
// of different subscriptions may run concurrently.
type Handler func(Notification)

// handlerQueueSize bounds the per-subscription dispatch queue. A full queue
// means the consumer handler cannot keep up; newer events are dropped rather
// than letting a slow handler stall the transport read loop.
const handlerQueueSize = 256

// Subscription is one logical topic registration.
type Subscription struct {
	logicalID  string
	topic      Topic
	authUserID string
	handler    Handler

	mu         sync.Mutex
	providerID string
	status     Status

	queue chan Notification
	done  chan struct{}
	once  sync.Once
}

func newSubscription(topic Topic, authUserID string, handler Handler) *Subscription {
	s := &Subscription{
		logicalID:  topic.LogicalID(),
		topic:      topic,
		authUserID: authUserID,
		handler:    handler,
		status:     StatusPending,
		queue:      make(chan Notification, handlerQueueSize),
		done:       make(chan struct{}),
	}
	go s.pump()
	return s
}

// pump drains the dispatch queue, invoking the consumer handler sequentially.
// This keeps per-subscription ordering while decoupling handler latency from
// the transport read loop.
func (s *Subscription) pump() {
	for {
		select {
		case n := <-s.queue:
			if s.handler != nil {
				s.handler(n)
			}
		case <-s.done:
			return
		}
	}
}

// enqueue hands a notification to the pump without blocking.
func (s *Subscription) enqueue(n Notification) {
	select {
	case s.queue <- n:
	default:
		slog.Warn("Dropping notification: handler queue full",
			"logical_id", s.logicalID, "subscription_id", n.SubscriptionID)
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// LogicalID returns the deterministic identifier derived from the topic.
func (s *Subscription) LogicalID() string { return s.logicalID }

// Topic returns the topic this subscription was created for.
func (s *Subscription) Topic() Topic { return s.topic }

// AuthUserID returns the user identity the subscription was created under.
// Empty for webhook subscriptions created with app credentials.
func (s *Subscription) AuthUserID() string { return s.authUserID }

// ProviderID returns the provider-assigned subscription ID, or empty if the
// provider has not acknowledged the subscription yet.
func (s *Subscription) ProviderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerID
}

// Status returns the current lifecycle state.
func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Subscription) setProviderID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerID = id
}

// advance transitions the subscription to the given state, rejecting
// transitions that would move the lifecycle backwards or out of a terminal
// state.
func (s *Subscription) advance(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validTransition(s.status, to) {
		return fmt.Errorf("invalid transition %s -> %s", s.status, to)
	}
	s.status = to
	return nil
}

// dispatchable reports whether notifications may be delivered in the current
// state.
func (s *Subscription) dispatchable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusVerified || s.status == StatusActive
}
