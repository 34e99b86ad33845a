// Package events publishes user lifecycle notifications to downstream consumers.
package events

import (
	"context"
	"time"
)

const (
	// RoutingKeyUserLogin is published after a successful login, refresh, or verification.
	RoutingKeyUserLogin = "user.login"
	// RoutingKeyUserLinked is published after a fitness account is linked.
	RoutingKeyUserLinked = "user.linked"
)

// Publisher delivers events under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// UserLoggedIn describes a successful identity verification.
type UserLoggedIn struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UserLinked describes a completed fitness account link.
type UserLinked struct {
	UserID            string    `json:"user_id"`
	ExternalAccountID string    `json:"external_account_id"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

// NewNoop returns a publisher that discards events.
func NewNoop() Publisher { return NoopPublisher{} }

func (NoopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
