package eventsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Events are the consumer-visible lifecycle callbacks. All fields are
// optional; nil callbacks are skipped.
type Events struct {
	OnVerify           func(ok bool, sub *Subscription)
	OnRevoke           func(sub *Subscription, reason string)
	OnSocketConnect    func(userID string)
	OnSocketDisconnect func(userID string, err error)
}

// Registry owns every subscription and drives its state transitions. It is
// the single shared structure between concurrent transport handlers; all map
// mutations happen under r.mu, and no lock is held across provider I/O.
type Registry struct {
	api    ProviderClient
	store  IntentStore // optional; nil disables restart resumption
	events Events

	mu         sync.RWMutex
	transport  Transport
	byLogical  map[string]*Subscription
	byProvider map[string]*Subscription
	pending    map[string][]*Subscription    // queued per auth user until transport readiness
	resumable  map[string]RemoteSubscription // adopted provider subscriptions, keyed by logical ID
}

// NewRegistry creates a registry. The transport is attached separately with
// SetTransport because transports need the registry at construction time.
func NewRegistry(api ProviderClient, store IntentStore, events Events) *Registry {
	return &Registry{
		api:        api,
		store:      store,
		events:     events,
		byLogical:  make(map[string]*Subscription),
		byProvider: make(map[string]*Subscription),
		pending:    make(map[string][]*Subscription),
		resumable:  make(map[string]RemoteSubscription),
	}
}

// SetTransport attaches the active delivery transport.
func (r *Registry) SetTransport(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = t
}

// Subscribe registers interest in a topic. Calling it twice with the same
// topic returns the existing subscription unchanged and issues no second
// provider-side registration. If the transport is not ready for the given
// user yet, the subscription is queued and registered once the transport
// signals readiness.
func (r *Registry) Subscribe(ctx context.Context, topic Topic, authUserID string, handler Handler) (*Subscription, error) {
	logicalID := topic.LogicalID()

	r.mu.Lock()
	if existing, ok := r.byLogical[logicalID]; ok {
		r.mu.Unlock()
		return existing, nil
	}

	sub := newSubscription(topic, authUserID, handler)
	r.byLogical[logicalID] = sub

	remote, adoptable := r.resumable[logicalID]
	if adoptable {
		delete(r.resumable, logicalID)
		r.byProvider[remote.ID] = sub
	}

	transport := r.transport
	queued := !adoptable && (transport == nil || !transport.Ready(authUserID))
	if queued {
		r.pending[authUserID] = append(r.pending[authUserID], sub)
	}
	r.mu.Unlock()

	r.saveIntent(ctx, topic, authUserID)

	if adoptable {
		r.adopt(sub, remote)
		return sub, nil
	}
	if queued {
		return sub, nil
	}

	if err := r.register(ctx, sub); err != nil {
		r.rollback(ctx, sub)
		return nil, err
	}
	return sub, nil
}

// Unsubscribe deletes the subscription on the provider side best-effort and
// removes it locally regardless of the remote outcome, so local state cannot
// leak forever.
func (r *Registry) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}

	r.mu.Lock()
	if current, ok := r.byLogical[sub.logicalID]; !ok || current != sub {
		r.mu.Unlock()
		return nil
	}
	delete(r.byLogical, sub.logicalID)
	r.removePendingLocked(sub)
	providerID := sub.ProviderID()
	if providerID != "" {
		delete(r.byProvider, providerID)
	}
	r.mu.Unlock()

	sub.stop()

	if providerID != "" {
		if err := r.api.DeleteSubscription(ctx, providerID); err != nil {
			slog.Warn("Failed to delete provider subscription, removing locally anyway",
				"subscription_id", providerID, "error", err)
		}
	}
	r.deleteIntent(ctx, sub.logicalID)
	return nil
}

// ResumeExisting lists the provider's current subscriptions and remembers
// those that match our webhook callback and a declared topic, so subsequent
// Subscribe calls adopt them instead of re-registering. Call once at startup
// on the webhook transport; websocket sessions are always fresh.
func (r *Registry) ResumeExisting(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.mu.RLock()
	transport := r.transport
	r.mu.RUnlock()
	if transport == nil {
		return fmt.Errorf("no transport attached")
	}

	params, err := transport.Parameters(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to get transport parameters: %w", err)
	}
	if params.Method != "webhook" {
		return nil
	}

	declared, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list declared topics: %w", err)
	}
	declaredSet := make(map[string]bool, len(declared))
	for _, d := range declared {
		declaredSet[d.Topic.LogicalID()] = true
	}

	remotes, err := r.api.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list provider subscriptions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, remote := range remotes {
		if remote.Transport.Method != "webhook" || remote.Transport.Callback != params.Callback {
			continue
		}
		logicalID := remote.Topic().LogicalID()
		if !declaredSet[logicalID] {
			slog.Info("Ignoring provider subscription with no declared intent",
				"subscription_id", remote.ID, "type", remote.Type)
			continue
		}
		r.resumable[logicalID] = remote
		slog.Info("Adoptable subscription found", "subscription_id", remote.ID, "logical_id", logicalID)
	}
	return nil
}

// Dispatch routes one decoded event to the owning subscription's handler.
// Unknown correlation IDs are logged and dropped: the provider may still
// reference subscriptions this process no longer tracks.
func (r *Registry) Dispatch(n Notification) {
	r.mu.RLock()
	sub := r.byProvider[n.SubscriptionID]
	r.mu.RUnlock()

	if sub == nil {
		slog.Info("Dropping notification for unknown subscription", "subscription_id", n.SubscriptionID)
		return
	}
	if !sub.dispatchable() {
		slog.Info("Dropping notification for subscription in non-deliverable state",
			"subscription_id", n.SubscriptionID, "status", sub.Status())
		return
	}

	// First delivery after verification confirms the provider enabled the
	// subscription.
	if sub.Status() == StatusVerified {
		_ = sub.advance(StatusActive)
	}

	n.Topic = sub.topic
	sub.enqueue(n)
}

// HandleVerification marks the subscription behind a successful webhook
// challenge as verified. Returns false when the correlation ID is unknown.
func (r *Registry) HandleVerification(providerID string) bool {
	r.mu.RLock()
	sub := r.byProvider[providerID]
	r.mu.RUnlock()
	if sub == nil {
		return false
	}

	if err := sub.advance(StatusVerified); err != nil {
		// Provider retried a verification we already answered.
		slog.Info("Ignoring repeated verification", "subscription_id", providerID)
		return true
	}
	if r.events.OnVerify != nil {
		r.events.OnVerify(true, sub)
	}
	return true
}

// HandleRevocation transitions the subscription to its terminal state,
// removes it and fires OnRevoke exactly once with the reported reason.
func (r *Registry) HandleRevocation(providerID, reason string) {
	r.mu.Lock()
	sub := r.byProvider[providerID]
	if sub == nil {
		r.mu.Unlock()
		slog.Info("Dropping revocation for unknown subscription", "subscription_id", providerID)
		return
	}
	delete(r.byProvider, providerID)
	delete(r.byLogical, sub.logicalID)
	r.removePendingLocked(sub)
	r.mu.Unlock()

	_ = sub.advance(StatusRevoked)
	sub.stop()
	r.deleteIntent(context.Background(), sub.logicalID)

	slog.Info("Subscription revoked", "subscription_id", providerID, "reason", reason)
	if r.events.OnRevoke != nil {
		r.events.OnRevoke(sub, reason)
	}
}

// FlushPending registers every queued subscription for the given user and
// re-registers suspended ones. The websocket transport calls this after a
// session welcome, once a session ID exists.
func (r *Registry) FlushPending(ctx context.Context, userID string) {
	r.mu.Lock()
	queued := r.pending[userID]
	delete(r.pending, userID)
	var suspended []*Subscription
	for _, sub := range r.byLogical {
		if sub.authUserID == userID && sub.Status() == StatusSuspended {
			suspended = append(suspended, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range queued {
		if err := r.register(ctx, sub); err != nil {
			slog.Error("Failed to register queued subscription", "logical_id", sub.logicalID, "error", err)
			r.rollback(ctx, sub)
			if r.events.OnVerify != nil {
				r.events.OnVerify(false, sub)
			}
		}
	}

	for _, sub := range suspended {
		if err := r.reregister(ctx, sub); err != nil {
			slog.Error("Failed to re-register suspended subscription, leaving suspended",
				"logical_id", sub.logicalID, "error", err)
		}
	}
}

// SocketConnected is called by the websocket transport when a session
// completes its handshake.
func (r *Registry) SocketConnected(userID string) {
	if r.events.OnSocketConnect != nil {
		r.events.OnSocketConnect(userID)
	}
}

// SuspendUser suspends every live subscription bound to the user's
// connection. Suspension is transport-level: the subscriptions are expected
// to resume once reconnected, so no OnRevoke fires.
func (r *Registry) SuspendUser(userID string) {
	r.mu.RLock()
	var affected []*Subscription
	for _, sub := range r.byLogical {
		if sub.authUserID == userID {
			affected = append(affected, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range affected {
		switch sub.Status() {
		case StatusVerified, StatusActive:
			_ = sub.advance(StatusSuspended)
		}
	}
}

// SocketDisconnected is called by the websocket transport once a user's
// connection is gone for good, after reconnect attempts are exhausted.
func (r *Registry) SocketDisconnected(userID string, err error) {
	r.SuspendUser(userID)
	if r.events.OnSocketDisconnect != nil {
		r.events.OnSocketDisconnect(userID, err)
	}
}

// ActiveCount returns the number of live subscriptions for a user. The
// websocket transport uses it to close connections that no longer carry any
// subscriptions.
func (r *Registry) ActiveCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, sub := range r.byLogical {
		if sub.authUserID == userID {
			count++
		}
	}
	return count
}

// Get returns the live subscription for a logical ID, if any.
func (r *Registry) Get(logicalID string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byLogical[logicalID]
	return sub, ok
}

// DropLegacy handles traffic arriving at a pre-migration callback path: the
// referenced registration is deleted provider-side so stale clients are
// forced off it instead of being silently accepted forever.
func (r *Registry) DropLegacy(ctx context.Context, providerID string) {
	r.mu.RLock()
	sub := r.byProvider[providerID]
	r.mu.RUnlock()

	if sub != nil {
		if err := r.Unsubscribe(ctx, sub); err != nil {
			slog.Warn("Failed to drop legacy subscription", "subscription_id", providerID, "error", err)
		}
		return
	}
	if err := r.api.DeleteSubscription(ctx, providerID); err != nil {
		slog.Info("Legacy subscription not deletable on provider", "subscription_id", providerID, "error", err)
	}
}

// register performs the provider-side registration for a pending
// subscription. Callers must not hold r.mu.
func (r *Registry) register(ctx context.Context, sub *Subscription) error {
	r.mu.RLock()
	transport := r.transport
	r.mu.RUnlock()
	if transport == nil {
		return fmt.Errorf("no transport attached")
	}

	params, err := transport.Parameters(ctx, sub.authUserID)
	if err != nil {
		return fmt.Errorf("failed to get transport parameters: %w", err)
	}

	remote, err := r.api.CreateSubscription(ctx, CreateSubscriptionRequest{
		Topic:     sub.topic,
		Transport: params,
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	r.mu.Lock()
	if current, ok := r.byLogical[sub.logicalID]; !ok || current != sub {
		// Unsubscribed while the provider call was in flight.
		r.mu.Unlock()
		if delErr := r.api.DeleteSubscription(ctx, remote.ID); delErr != nil {
			slog.Warn("Failed to clean up subscription registered during unsubscribe",
				"subscription_id", remote.ID, "error", delErr)
		}
		return nil
	}
	r.byProvider[remote.ID] = sub
	r.mu.Unlock()
	sub.setProviderID(remote.ID)

	// Websocket registrations are acknowledged as enabled immediately: the
	// session handshake already proved reachability. Webhook registrations
	// stay pending until the challenge round-trip completes.
	if params.Method == "websocket" && remote.Status == "enabled" {
		_ = sub.advance(StatusVerified)
		if r.events.OnVerify != nil {
			r.events.OnVerify(true, sub)
		}
		_ = sub.advance(StatusActive)
	}
	return nil
}

// reregister creates a fresh provider-side registration for a suspended
// subscription after its websocket session was replaced.
func (r *Registry) reregister(ctx context.Context, sub *Subscription) error {
	r.mu.Lock()
	if old := sub.ProviderID(); old != "" {
		delete(r.byProvider, old)
	}
	r.mu.Unlock()

	r.mu.RLock()
	transport := r.transport
	r.mu.RUnlock()
	if transport == nil {
		return fmt.Errorf("no transport attached")
	}

	params, err := transport.Parameters(ctx, sub.authUserID)
	if err != nil {
		return fmt.Errorf("failed to get transport parameters: %w", err)
	}
	remote, err := r.api.CreateSubscription(ctx, CreateSubscriptionRequest{
		Topic:     sub.topic,
		Transport: params,
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	r.mu.Lock()
	r.byProvider[remote.ID] = sub
	r.mu.Unlock()
	sub.setProviderID(remote.ID)
	_ = sub.advance(StatusActive)
	return nil
}

// adopt binds a subscription to an existing provider-side registration
// discovered by ResumeExisting.
func (r *Registry) adopt(sub *Subscription, remote RemoteSubscription) {
	sub.setProviderID(remote.ID)
	if remote.Status == "enabled" {
		_ = sub.advance(StatusVerified)
		if r.events.OnVerify != nil {
			r.events.OnVerify(true, sub)
		}
		_ = sub.advance(StatusActive)
	}
	slog.Info("Adopted existing provider subscription",
		"subscription_id", remote.ID, "logical_id", sub.logicalID)
}

// rollback removes a subscription whose provider-side registration failed,
// so it is not left dangling in pending.
func (r *Registry) rollback(ctx context.Context, sub *Subscription) {
	r.mu.Lock()
	if current, ok := r.byLogical[sub.logicalID]; ok && current == sub {
		delete(r.byLogical, sub.logicalID)
	}
	r.removePendingLocked(sub)
	r.mu.Unlock()
	sub.stop()
	r.deleteIntent(ctx, sub.logicalID)
}

func (r *Registry) removePendingLocked(sub *Subscription) {
	queue := r.pending[sub.authUserID]
	for i, queued := range queue {
		if queued == sub {
			r.pending[sub.authUserID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(r.pending[sub.authUserID]) == 0 {
		delete(r.pending, sub.authUserID)
	}
}

func (r *Registry) saveIntent(ctx context.Context, topic Topic, authUserID string) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, DeclaredTopic{Topic: topic, AuthUserID: authUserID}); err != nil {
		slog.Warn("Failed to persist declared topic", "logical_id", topic.LogicalID(), "error", err)
	}
}

func (r *Registry) deleteIntent(ctx context.Context, logicalID string) {
	if r.store == nil {
		return
	}
	if err := r.store.Delete(ctx, logicalID); err != nil {
		slog.Warn("Failed to delete declared topic", "logical_id", logicalID, "error", err)
	}
}
