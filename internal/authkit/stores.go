package authkit

import (
	"context"
	"time"
)

// IdentityClaims is the canonical claim set extracted from a verified identity token.
type IdentityClaims struct {
	Subject    string    `json:"sub"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	PictureURL string    `json:"picture"`
	Expiry     time.Time `json:"expires_at"`
}

// CredentialBundle is the transient result of a code or refresh exchange.
type CredentialBundle struct {
	IdentityToken string
	AccessToken   string
	RefreshToken  string
	Expiry        time.Time
}

// SecondaryLink holds the credentials of a linked fitness account.
type SecondaryLink struct {
	AccessToken       string    `json:"-"`
	RefreshToken      string    `json:"-"`
	ExternalAccountID string    `json:"external_account_id"`
	LinkedAt          time.Time `json:"linked_at"`
}

// UserProfile represents one authenticated individual.
type UserProfile struct {
	UserID        string         `json:"user_id"`
	Email         string         `json:"email"`
	DisplayName   string         `json:"display_name"`
	AvatarURL     string         `json:"avatar_url"`
	LastLoginAt   time.Time      `json:"last_login_at"`
	Badges        []string       `json:"badges"`
	SecondaryLink *SecondaryLink `json:"secondary_link,omitempty"`
}

// ProfileStore persists user profiles keyed by the identity provider subject.
type ProfileStore interface {
	// UpsertLoginProfile overwrites the login fields and applies insert-only defaults on creation.
	UpsertLoginProfile(ctx context.Context, claims IdentityClaims) error
	// LinkSecondaryProvider replaces the secondary link of the referenced profile, creating it when absent.
	LinkSecondaryProvider(ctx context.Context, localUserRef string, link SecondaryLink) error
	// FindProfile returns ErrProfileNotFound when no profile matches.
	FindProfile(ctx context.Context, userID string) (UserProfile, error)
	CountProfiles(ctx context.Context) (int64, error)
}
