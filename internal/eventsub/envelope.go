package eventsub

import (
	"encoding/json"
	"fmt"
	"time"
)

// Webhook message types, carried in the Twitch-Eventsub-Message-Type header.
const (
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"
)

// WebSocket frame types, carried in metadata.message_type.
const (
	FrameTypeWelcome      = "session_welcome"
	FrameTypeKeepalive    = "session_keepalive"
	FrameTypeReconnect    = "session_reconnect"
	FrameTypeNotification = "notification"
	FrameTypeRevocation   = "revocation"
)

// Revocation reasons reported by the provider.
const (
	ReasonAuthorizationRevoked = "authorization_revoked"
	ReasonUserRemoved          = "user_removed"
	ReasonVersionRemoved       = "version_removed"
	ReasonNotificationsFailed  = "notification_failures_exceeded"
)

// TransportInfo describes how the provider delivers a subscription's events.
type TransportInfo struct {
	Method    string `json:"method"`
	Callback  string `json:"callback,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// RemoteSubscription is the provider's view of a subscription, as embedded
// in webhook payloads, websocket frames and REST list responses.
type RemoteSubscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	Transport TransportInfo     `json:"transport"`
	CreatedAt time.Time         `json:"created_at"`
}

// Topic reconstructs the logical topic from the provider's subscription
// record, used to match remote subscriptions against declared intent.
func (r RemoteSubscription) Topic() Topic {
	return Topic{Type: r.Type, Version: r.Version, Condition: r.Condition}
}

// WebhookPayload is the JSON body of a webhook callback. Exactly one of
// Challenge, Event or Events is populated depending on the message type.
type WebhookPayload struct {
	Subscription RemoteSubscription `json:"subscription"`
	Challenge    string             `json:"challenge,omitempty"`
	Event        json.RawMessage    `json:"event,omitempty"`
	Events       []json.RawMessage  `json:"events,omitempty"`
}

// FlattenEvents returns the payload's events as a flat slice so single and
// batched envelopes share one dispatch path.
func (p *WebhookPayload) FlattenEvents() []json.RawMessage {
	if len(p.Events) > 0 {
		return p.Events
	}
	if len(p.Event) > 0 {
		return []json.RawMessage{p.Event}
	}
	return nil
}

// FrameMetadata is the metadata block common to every websocket frame.
type FrameMetadata struct {
	MessageID           string `json:"message_id"`
	MessageType         string `json:"message_type"`
	MessageTimestamp    string `json:"message_timestamp"`
	SubscriptionType    string `json:"subscription_type,omitempty"`
	SubscriptionVersion string `json:"subscription_version,omitempty"`
}

// SessionInfo is the provider-assigned websocket session state, delivered in
// welcome and reconnect frames.
type SessionInfo struct {
	ID                      string `json:"id"`
	Status                  string `json:"status"`
	KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
	ReconnectURL            string `json:"reconnect_url"`
	ConnectedAt             string `json:"connected_at"`
}

// Frame is the decoded form of one websocket message. The concrete type is
// determined by metadata.message_type; switch over it exhaustively.
type Frame interface{ frameMetadata() FrameMetadata }

// WelcomeFrame confirms the session handshake and carries the session ID
// required to register subscriptions.
type WelcomeFrame struct {
	Metadata FrameMetadata
	Session  SessionInfo
}

// KeepaliveFrame signals the connection is alive during idle periods.
type KeepaliveFrame struct {
	Metadata FrameMetadata
}

// ReconnectFrame instructs the client to migrate to a new URL.
type ReconnectFrame struct {
	Metadata FrameMetadata
	Session  SessionInfo
}

// NotificationFrame carries one event for a subscription.
type NotificationFrame struct {
	Metadata     FrameMetadata
	Subscription RemoteSubscription
	Event        json.RawMessage
}

// RevocationFrame reports that the provider terminated a subscription.
type RevocationFrame struct {
	Metadata     FrameMetadata
	Subscription RemoteSubscription
}

func (f WelcomeFrame) frameMetadata() FrameMetadata      { return f.Metadata }
func (f KeepaliveFrame) frameMetadata() FrameMetadata    { return f.Metadata }
func (f ReconnectFrame) frameMetadata() FrameMetadata    { return f.Metadata }
func (f NotificationFrame) frameMetadata() FrameMetadata { return f.Metadata }
func (f RevocationFrame) frameMetadata() FrameMetadata   { return f.Metadata }

// UnknownFrameError is returned by DecodeFrame for message types this client
// does not understand, so new provider frame types surface explicitly
// instead of falling through silently.
type UnknownFrameError struct {
	MessageType string
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown websocket message type %q", e.MessageType)
}

type framePayload struct {
	Session      SessionInfo        `json:"session"`
	Subscription RemoteSubscription `json:"subscription"`
	Event        json.RawMessage    `json:"event"`
}

// DecodeFrame parses a raw websocket message into its typed variant.
func DecodeFrame(data []byte) (Frame, error) {
	var raw struct {
		Metadata FrameMetadata `json:"metadata"`
		Payload  framePayload  `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	switch raw.Metadata.MessageType {
	case FrameTypeWelcome:
		return WelcomeFrame{Metadata: raw.Metadata, Session: raw.Payload.Session}, nil
	case FrameTypeKeepalive:
		return KeepaliveFrame{Metadata: raw.Metadata}, nil
	case FrameTypeReconnect:
		return ReconnectFrame{Metadata: raw.Metadata, Session: raw.Payload.Session}, nil
	case FrameTypeNotification:
		return NotificationFrame{
			Metadata:     raw.Metadata,
			Subscription: raw.Payload.Subscription,
			Event:        raw.Payload.Event,
		}, nil
	case FrameTypeRevocation:
		return RevocationFrame{Metadata: raw.Metadata, Subscription: raw.Payload.Subscription}, nil
	default:
		return nil, &UnknownFrameError{MessageType: raw.Metadata.MessageType}
	}
}
