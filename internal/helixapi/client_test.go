package helixapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/subpulse/internal/eventsub"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		ClientID:       "test-client-id",
		ClientSecret:   "test-client-secret",
		APIBaseURL:     server.URL,
		AppAccessToken: "test-token",
	}, clockwork.NewRealClock())
	require.NoError(t, err)
	return client
}

func TestCreateSubscription(t *testing.T) {
	var gotBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/eventsub/subscriptions", r.URL.Path)
		assert.Equal(t, "test-client-id", r.Header.Get("Client-Id"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"data":[{
			"id": "sub-1",
			"status": "webhook_callback_verification_pending",
			"type": "stream.online",
			"version": "1",
			"cost": 1,
			"condition": {"broadcaster_user_id": "44322889"},
			"transport": {"method": "webhook", "callback": "https://example.com/event"},
			"created_at": "2024-01-01T00:00:00Z"
		}],"total":1,"total_cost":1,"max_total_cost":10000}`)
	})

	remote, err := client.CreateSubscription(context.Background(), eventsub.CreateSubscriptionRequest{
		Topic: eventsub.Topic{
			Type:      "stream.online",
			Version:   "1",
			Condition: map[string]string{"broadcaster_user_id": "44322889"},
		},
		Transport: eventsub.TransportParams{
			Method:   "webhook",
			Callback: "https://example.com/event",
			Secret:   "test-webhook-secret-1234567890",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "sub-1", remote.ID)
	assert.Equal(t, "webhook_callback_verification_pending", remote.Status)
	assert.Equal(t, "44322889", remote.Condition["broadcaster_user_id"])
	assert.Equal(t, "webhook", remote.Transport.Method)

	condition, ok := gotBody["condition"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "44322889", condition["broadcaster_user_id"])
	transport, ok := gotBody["transport"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test-webhook-secret-1234567890", transport["secret"])
}

func TestCreateSubscription_ProviderRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"Conflict","status":409,"message":"subscription already exists"}`)
	})

	_, err := client.CreateSubscription(context.Background(), eventsub.CreateSubscriptionRequest{
		Topic: eventsub.Topic{Type: "stream.online", Version: "1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestListSubscriptions_Paginates(t *testing.T) {
	pages := 0

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")

		pages++
		switch r.URL.Query().Get("after") {
		case "":
			fmt.Fprint(w, `{"data":[{
				"id": "sub-1", "status": "enabled", "type": "stream.online", "version": "1",
				"condition": {"broadcaster_user_id": "1"},
				"transport": {"method": "webhook", "callback": "https://example.com/event"}
			}],"total":2,"pagination":{"cursor":"page2"}}`)
		case "page2":
			fmt.Fprint(w, `{"data":[{
				"id": "sub-2", "status": "enabled", "type": "stream.offline", "version": "1",
				"condition": {"broadcaster_user_id": "2"},
				"transport": {"method": "websocket", "session_id": "AQoQ"}
			}],"total":2,"pagination":{}}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	subs, err := client.ListSubscriptions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, pages)
	require.Len(t, subs, 2)
	assert.Equal(t, "sub-1", subs[0].ID)
	assert.Equal(t, "sub-2", subs[1].ID)
	assert.Equal(t, "AQoQ", subs[1].Transport.SessionID)
}

func TestDeleteSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "sub-1", r.URL.Query().Get("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, client.DeleteSubscription(context.Background(), "sub-1"))
}

func TestDeleteSubscription_AlreadyGone(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"Not Found","status":404,"message":"subscription not found"}`)
	})

	assert.NoError(t, client.DeleteSubscription(context.Background(), "sub-1"))
}
