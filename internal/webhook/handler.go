// Package webhook implements the HTTP delivery transport: a public echo
// endpoint receiving challenge, notification and revocation callbacks from
// the provider, authenticated by HMAC signature and a replay window.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	apperrors "github.com/pscheid92/subpulse/internal/errors"
	"github.com/pscheid92/subpulse/internal/eventsub"
	"github.com/pscheid92/subpulse/internal/metrics"
	"github.com/pscheid92/subpulse/internal/signature"
)

// EventSub webhook headers.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

// Registry is the subset of the subscription registry the webhook transport
// drives.
type Registry interface {
	Dispatch(n eventsub.Notification)
	HandleVerification(providerID string) bool
	HandleRevocation(providerID, reason string)
	DropLegacy(ctx context.Context, providerID string)
}

// ReplayGuard remembers recently seen message IDs so a captured request
// cannot be replayed inside the freshness window.
type ReplayGuard interface {
	// Seen records the message ID and reports whether it was already known.
	Seen(ctx context.Context, messageID string) (bool, error)
}

// Config carries the webhook transport settings.
type Config struct {
	// CallbackURL is the public URL the provider delivers to. Its host is
	// used for the strict host check, its path for route registration.
	CallbackURL string
	// Secret is the shared HMAC key registered with the provider.
	Secret string
	// StrictHostCheck rejects requests whose Host header does not match the
	// callback host. Localhost is always allowed for local testing.
	StrictHostCheck bool
	// MaxAge is the replay window; zero means signature.DefaultMaxAge.
	MaxAge time.Duration
}

// Handler terminates provider callbacks and feeds them into the registry.
// It also implements eventsub.Transport: a listening webhook endpoint is
// always ready to accept registrations.
type Handler struct {
	callbackURL string
	host        string
	secret      string
	strictHost  bool
	maxAge      time.Duration
	clock       clockwork.Clock
	registry    Registry
	replay      ReplayGuard
}

// NewHandler creates the webhook transport. The callback URL must be
// well-formed; this is validated again here because a bad host silently
// disables the host check.
func NewHandler(cfg Config, registry Registry, replay ReplayGuard, clock clockwork.Clock) (*Handler, error) {
	parsed, err := url.Parse(cfg.CallbackURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid callback URL %q", cfg.CallbackURL)
	}

	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = signature.DefaultMaxAge
	}

	return &Handler{
		callbackURL: cfg.CallbackURL,
		host:        parsed.Host,
		secret:      cfg.Secret,
		strictHost:  cfg.StrictHostCheck,
		maxAge:      maxAge,
		clock:       clock,
		registry:    registry,
		replay:      replay,
	}, nil
}

// Ready implements eventsub.Transport.
func (h *Handler) Ready(string) bool { return true }

// Parameters implements eventsub.Transport.
func (h *Handler) Parameters(context.Context, string) (eventsub.TransportParams, error) {
	return eventsub.TransportParams{
		Method:   "webhook",
		Callback: h.callbackURL,
		Secret:   h.secret,
	}, nil
}

// Register attaches the webhook routes to the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.handleIndex)
	e.POST("/event/:id", h.handleEvent)
	// Pre-migration callback path: always gone, with provider-side cleanup.
	e.POST("/:id", h.handleLegacy)
}

func (h *Handler) handleIndex(c echo.Context) error {
	return c.String(http.StatusOK, "subpulse webhook endpoint")
}

func (h *Handler) handleEvent(c echo.Context) error {
	if !h.hostAllowed(c.Request().Host) {
		metrics.WebhookMessagesTotal.WithLabelValues("bad_host").Inc()
		return apperrors.NotFoundError("unknown host").WithContext("host", c.Request().Host)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		metrics.WebhookMessagesTotal.WithLabelValues("bad_request").Inc()
		return apperrors.ValidationError("unreadable request body")
	}

	messageID := c.Request().Header.Get(HeaderMessageID)
	timestamp := c.Request().Header.Get(HeaderMessageTimestamp)
	presented := c.Request().Header.Get(HeaderMessageSignature)
	messageType := c.Request().Header.Get(HeaderMessageType)

	if err := signature.Verify(h.secret, messageID, timestamp, body, presented); err != nil {
		// Expected background noise on a public endpoint.
		metrics.WebhookMessagesTotal.WithLabelValues("bad_signature").Inc()
		return apperrors.ForbiddenError("signature mismatch").WithContext("message_id", messageID)
	}

	sentAt, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		metrics.WebhookMessagesTotal.WithLabelValues("bad_request").Inc()
		return apperrors.ValidationError("malformed message timestamp").WithContext("message_id", messageID)
	}
	if !signature.Fresh(sentAt, h.clock.Now(), h.maxAge) {
		metrics.WebhookMessagesTotal.WithLabelValues("stale").Inc()
		return apperrors.ValidationError("message outside the replay window").
			WithContext("message_id", messageID).
			WithContext("timestamp", timestamp)
	}

	if h.replay != nil {
		seen, guardErr := h.replay.Seen(c.Request().Context(), messageID)
		if guardErr != nil {
			slog.Warn("Replay guard unavailable, accepting message", "message_id", messageID, "error", guardErr)
		} else if seen {
			metrics.WebhookMessagesTotal.WithLabelValues("replayed").Inc()
			return apperrors.ForbiddenError("replayed message ID").WithContext("message_id", messageID)
		}
	}

	var payload eventsub.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookMessagesTotal.WithLabelValues("bad_request").Inc()
		return apperrors.ValidationError("malformed message body").WithContext("message_id", messageID)
	}

	switch messageType {
	case eventsub.MessageTypeVerification:
		if !h.registry.HandleVerification(payload.Subscription.ID) {
			metrics.WebhookMessagesTotal.WithLabelValues("unknown_subscription").Inc()
			return apperrors.NotFoundError("unknown subscription").
				WithContext("subscription_id", payload.Subscription.ID)
		}
		// The challenge echo is the one delivery allowed outside the
		// verified/active states.
		metrics.WebhookMessagesTotal.WithLabelValues("verification").Inc()
		return c.String(http.StatusOK, payload.Challenge)

	case eventsub.MessageTypeNotification:
		// Dispatch enqueues onto per-subscription queues; the 202 is sent
		// without waiting on handler completion so provider timeouts cannot
		// trigger duplicate retries.
		for _, event := range payload.FlattenEvents() {
			h.registry.Dispatch(eventsub.Notification{
				SubscriptionID: payload.Subscription.ID,
				Event:          event,
			})
			metrics.NotificationsDispatchedTotal.Inc()
		}
		metrics.WebhookMessagesTotal.WithLabelValues("notification").Inc()
		return c.NoContent(http.StatusAccepted)

	case eventsub.MessageTypeRevocation:
		h.registry.HandleRevocation(payload.Subscription.ID, payload.Subscription.Status)
		metrics.WebhookMessagesTotal.WithLabelValues("revocation").Inc()
		metrics.RevocationsTotal.WithLabelValues(payload.Subscription.Status).Inc()
		return c.NoContent(http.StatusAccepted)

	default:
		metrics.WebhookMessagesTotal.WithLabelValues("unknown_type").Inc()
		return apperrors.ValidationError("unknown message type").WithContext("message_type", messageType)
	}
}

func (h *Handler) handleLegacy(c echo.Context) error {
	h.registry.DropLegacy(c.Request().Context(), c.Param("id"))
	metrics.WebhookLegacyDropsTotal.Inc()
	return apperrors.GoneError("callback path retired").WithContext("subscription_id", c.Param("id"))
}

// hostAllowed implements the cheap probe filter ahead of signature checks.
func (h *Handler) hostAllowed(host string) bool {
	if !h.strictHost {
		return true
	}
	if host == h.host {
		return true
	}
	bare := host
	if splitHost, _, err := net.SplitHostPort(host); err == nil {
		bare = splitHost
	}
	return bare == "localhost" || bare == "127.0.0.1" || bare == "::1" || strings.EqualFold(bare, h.hostWithoutPort())
}

func (h *Handler) hostWithoutPort() string {
	if splitHost, _, err := net.SplitHostPort(h.host); err == nil {
		return splitHost
	}
	return h.host
}
