// Package eventsub implements the subscription registry and lifecycle state
// machine for provider-pushed event subscriptions. It is transport-agnostic:
// the webhook and wsclient packages feed decoded envelopes into the registry,
// which correlates them with subscriptions and dispatches typed notifications
// to consumer handlers.
package eventsub
