package eventsub

import "context"

// TransportParams are the transport-specific options a transport supplies
// for registering a subscription with the provider.
type TransportParams struct {
	Method    string
	Callback  string
	Secret    string
	SessionID string
}

// CreateSubscriptionRequest is passed to the provider REST collaborator.
type CreateSubscriptionRequest struct {
	Topic     Topic
	Transport TransportParams
}

// ProviderClient is the narrow interface to the provider's REST API. The
// registry never talks HTTP itself; creating, listing and deleting
// subscriptions is delegated here.
type ProviderClient interface {
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*RemoteSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	ListSubscriptions(ctx context.Context) ([]RemoteSubscription, error)
}

// Transport answers whether subscriptions can currently be registered and
// supplies the provider-side transport parameters for doing so.
type Transport interface {
	// Ready reports whether a subscription for the given user can be
	// registered with the provider right now. Webhook transports are ready
	// once listening; websocket transports only once a session ID exists.
	Ready(authUserID string) bool
	// Parameters returns the transport options for a create-subscription
	// call on behalf of the given user.
	Parameters(ctx context.Context, authUserID string) (TransportParams, error)
}

// DeclaredTopic is a persisted statement of subscriber intent, used to
// re-adopt provider-side subscriptions after a restart.
type DeclaredTopic struct {
	Topic      Topic
	AuthUserID string
}

// IntentStore persists declared topics across process restarts.
type IntentStore interface {
	Save(ctx context.Context, declared DeclaredTopic) error
	Delete(ctx context.Context, logicalID string) error
	List(ctx context.Context) ([]DeclaredTopic, error)
}
