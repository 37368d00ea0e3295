package eventsub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Welcome(t *testing.T) {
	data := []byte(`{
		"metadata": {"message_id": "m1", "message_type": "session_welcome", "message_timestamp": "2024-01-01T00:00:00Z"},
		"payload": {"session": {"id": "AQoQexAmpLEId", "status": "connected", "keepalive_timeout_seconds": 10, "connected_at": "2024-01-01T00:00:00Z"}}
	}`)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	welcome, ok := frame.(WelcomeFrame)
	require.True(t, ok, "expected WelcomeFrame, got %T", frame)
	assert.Equal(t, "AQoQexAmpLEId", welcome.Session.ID)
	assert.Equal(t, 10, welcome.Session.KeepaliveTimeoutSeconds)
	assert.Equal(t, "m1", welcome.Metadata.MessageID)
}

func TestDecodeFrame_Keepalive(t *testing.T) {
	data := []byte(`{"metadata": {"message_id": "m2", "message_type": "session_keepalive"}, "payload": {}}`)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)
	_, ok := frame.(KeepaliveFrame)
	assert.True(t, ok)
}

func TestDecodeFrame_Reconnect(t *testing.T) {
	data := []byte(`{
		"metadata": {"message_id": "m3", "message_type": "session_reconnect"},
		"payload": {"session": {"id": "AQoQexAmpLEId", "status": "reconnecting", "reconnect_url": "wss://new.example.com/ws"}}
	}`)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	reconnect, ok := frame.(ReconnectFrame)
	require.True(t, ok)
	assert.Equal(t, "wss://new.example.com/ws", reconnect.Session.ReconnectURL)
}

func TestDecodeFrame_Notification(t *testing.T) {
	data := []byte(`{
		"metadata": {"message_id": "m4", "message_type": "notification", "subscription_type": "stream.online", "subscription_version": "1"},
		"payload": {
			"subscription": {"id": "sub-1", "status": "enabled", "type": "stream.online", "version": "1", "condition": {"broadcaster_user_id": "44322889"}, "transport": {"method": "websocket", "session_id": "AQoQ"}},
			"event": {"broadcaster_user_id": "44322889", "type": "live"}
		}
	}`)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	notification, ok := frame.(NotificationFrame)
	require.True(t, ok)
	assert.Equal(t, "sub-1", notification.Subscription.ID)
	assert.Equal(t, "44322889", notification.Subscription.Condition["broadcaster_user_id"])

	var event struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(notification.Event, &event))
	assert.Equal(t, "live", event.Type)
}

func TestDecodeFrame_Revocation(t *testing.T) {
	data := []byte(`{
		"metadata": {"message_id": "m5", "message_type": "revocation"},
		"payload": {"subscription": {"id": "sub-1", "status": "authorization_revoked", "type": "stream.online", "version": "1"}}
	}`)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	revocation, ok := frame.(RevocationFrame)
	require.True(t, ok)
	assert.Equal(t, "authorization_revoked", revocation.Subscription.Status)
}

func TestDecodeFrame_UnknownType(t *testing.T) {
	data := []byte(`{"metadata": {"message_id": "m6", "message_type": "session_party"}, "payload": {}}`)

	_, err := DecodeFrame(data)
	var unknownErr *UnknownFrameError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "session_party", unknownErr.MessageType)
}

func TestDecodeFrame_MalformedJSON(t *testing.T) {
	_, err := DecodeFrame([]byte(`{not json`))
	assert.Error(t, err)
}

func TestWebhookPayload_FlattenEvents(t *testing.T) {
	single := WebhookPayload{Event: json.RawMessage(`{"a":1}`)}
	assert.Len(t, single.FlattenEvents(), 1)

	batch := WebhookPayload{Events: []json.RawMessage{
		json.RawMessage(`{"a":1}`),
		json.RawMessage(`{"a":2}`),
	}}
	assert.Len(t, batch.FlattenEvents(), 2)

	var verification WebhookPayload
	assert.Nil(t, verification.FlattenEvents())
}

func TestRemoteSubscription_Topic(t *testing.T) {
	remote := RemoteSubscription{
		Type:      "stream.online",
		Version:   "1",
		Condition: map[string]string{"broadcaster_user_id": "44322889"},
	}

	topic := Topic{Type: "stream.online", Version: "1", Condition: map[string]string{"broadcaster_user_id": "44322889"}}
	assert.Equal(t, topic.LogicalID(), remote.Topic().LogicalID())
}
