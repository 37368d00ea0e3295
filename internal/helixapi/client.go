// Package helixapi implements the provider REST collaborator on top of the
// Helix API: creating, listing and deleting EventSub subscriptions with an
// app access token.
package helixapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"

	"github.com/pscheid92/subpulse/internal/eventsub"
)

// refresh the app token a bit before it actually expires
const tokenExpiryMargin = 60 * time.Second

// Config carries the Helix API credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	// APIBaseURL overrides the Helix endpoint, for the twitch-cli mock and
	// test servers. Empty means production.
	APIBaseURL string
	// AppAccessToken is a static token. When empty, tokens are requested and
	// refreshed automatically from the client credentials.
	AppAccessToken string
}

// Client talks to the Helix EventSub endpoints. It implements
// eventsub.ProviderClient.
type Client struct {
	clock clockwork.Clock

	// The underlying helix client stores the token as mutable state, so all
	// calls serialize through mu.
	mu          sync.Mutex
	client      *helix.Client
	staticToken bool
	tokenExpiry time.Time
}

// NewClient creates a Helix-backed provider client.
func NewClient(cfg Config, clock clockwork.Clock) (*Client, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		APIBaseURL:     cfg.APIBaseURL,
		AppAccessToken: cfg.AppAccessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}

	return &Client{
		clock:       clock,
		client:      client,
		staticToken: cfg.AppAccessToken != "",
	}, nil
}

// CreateSubscription implements eventsub.ProviderClient.
func (c *Client) CreateSubscription(ctx context.Context, req eventsub.CreateSubscriptionRequest) (*eventsub.RemoteSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureAppToken(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:      req.Topic.Type,
		Version:   req.Topic.Version,
		Condition: conditionFromMap(req.Topic.Condition),
		Transport: helix.EventSubTransport{
			Method:    req.Transport.Method,
			Callback:  req.Transport.Callback,
			Secret:    req.Transport.Secret,
			SessionID: req.Transport.SessionID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eventsub subscription: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code %d creating subscription: %s, %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.EventSubSubscriptions) == 0 {
		return nil, fmt.Errorf("no subscription returned")
	}

	remote := toRemote(resp.Data.EventSubSubscriptions[0])
	return &remote, nil
}

// DeleteSubscription implements eventsub.ProviderClient. A subscription that
// is already gone counts as deleted.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureAppToken(ctx); err != nil {
		return err
	}

	resp, err := c.client.RemoveEventSubSubscription(id)
	if err != nil {
		return fmt.Errorf("failed to delete eventsub subscription: %w", err)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status code %d deleting subscription %s", resp.StatusCode, id)
	}
	return nil
}

// ListSubscriptions implements eventsub.ProviderClient, following the
// pagination cursor until exhausted.
func (c *Client) ListSubscriptions(ctx context.Context) ([]eventsub.RemoteSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureAppToken(ctx); err != nil {
		return nil, err
	}

	var out []eventsub.RemoteSubscription
	cursor := ""
	for {
		resp, err := c.client.GetEventSubSubscriptions(&helix.EventSubSubscriptionsParams{After: cursor})
		if err != nil {
			return nil, fmt.Errorf("failed to list eventsub subscriptions: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code %d listing subscriptions: %s, %s",
				resp.StatusCode, resp.Error, resp.ErrorMessage)
		}

		for _, sub := range resp.Data.EventSubSubscriptions {
			out = append(out, toRemote(sub))
		}

		cursor = resp.Data.Pagination.Cursor
		if cursor == "" {
			return out, nil
		}
	}
}

// ensureAppToken fetches or refreshes the app access token. Callers hold mu.
func (c *Client) ensureAppToken(_ context.Context) error {
	if c.staticToken {
		return nil
	}
	if c.tokenExpiry.After(c.clock.Now().Add(tokenExpiryMargin)) {
		return nil
	}

	resp, err := c.client.RequestAppAccessToken(nil)
	if err != nil {
		return fmt.Errorf("failed to request app access token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d requesting app access token: %s, %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}

	c.client.SetAppAccessToken(resp.Data.AccessToken)
	c.tokenExpiry = c.clock.Now().Add(time.Duration(resp.Data.ExpiresIn) * time.Second)
	return nil
}

func toRemote(sub helix.EventSubSubscription) eventsub.RemoteSubscription {
	return eventsub.RemoteSubscription{
		ID:        sub.ID,
		Status:    sub.Status,
		Type:      sub.Type,
		Version:   sub.Version,
		Cost:      sub.Cost,
		Condition: conditionToMap(sub.Condition),
		Transport: eventsub.TransportInfo{
			Method:    sub.Transport.Method,
			Callback:  sub.Transport.Callback,
			SessionID: sub.Transport.SessionID,
		},
		CreatedAt: sub.CreatedAt.Time,
	}
}

// conditionFromMap maps the generic condition parameters onto the fixed
// Helix condition struct. Unknown keys are dropped, matching what the API
// would do with them.
func conditionFromMap(condition map[string]string) helix.EventSubCondition {
	return helix.EventSubCondition{
		BroadcasterUserID:     condition["broadcaster_user_id"],
		FromBroadcasterUserID: condition["from_broadcaster_user_id"],
		ToBroadcasterUserID:   condition["to_broadcaster_user_id"],
		ModeratorUserID:       condition["moderator_user_id"],
		RewardID:              condition["reward_id"],
		ClientID:              condition["client_id"],
		ExtensionClientID:     condition["extension_client_id"],
		UserID:                condition["user_id"],
	}
}

func conditionToMap(condition helix.EventSubCondition) map[string]string {
	out := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("broadcaster_user_id", condition.BroadcasterUserID)
	set("from_broadcaster_user_id", condition.FromBroadcasterUserID)
	set("to_broadcaster_user_id", condition.ToBroadcasterUserID)
	set("moderator_user_id", condition.ModeratorUserID)
	set("reward_id", condition.RewardID)
	set("client_id", condition.ClientID)
	set("extension_client_id", condition.ExtensionClientID)
	set("user_id", condition.UserID)
	return out
}
