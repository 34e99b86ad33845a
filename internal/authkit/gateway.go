package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/fitauth/internal/events"
	"go.uber.org/zap"
)

// ErrLinkingDisabled indicates the fitness provider is not configured.
var ErrLinkingDisabled = errors.New("link.disabled")

var (
	errMissingExchanger = errors.New("gateway.missing_exchanger")
	errMissingVerifier  = errors.New("gateway.missing_verifier")
	errMissingStore     = errors.New("gateway.missing_profile_store")
	errMissingAudience  = errors.New("gateway.missing_audience")
)

// CodeExchanger redeems identity-provider codes and refresh tokens.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (CredentialBundle, error)
	Refresh(ctx context.Context, refreshToken string) (CredentialBundle, error)
	AuthCodeURL(state string) string
}

// LinkExchanger redeems fitness-provider codes.
type LinkExchanger interface {
	ExchangeCode(ctx context.Context, code string) (SecondaryLink, error)
	AuthCodeURL(localUserRef string) string
}

// TokenVerifier validates identity tokens for an audience.
type TokenVerifier interface {
	Verify(ctx context.Context, identityToken string, audience string) (IdentityClaims, error)
}

// GatewayDependencies lists the collaborators injected into a Gateway.
type GatewayDependencies struct {
	Exchanger CodeExchanger
	Verifier  TokenVerifier
	Profiles  ProfileStore
	// Fitness is optional; linking reports ErrLinkingDisabled without it.
	Fitness   LinkExchanger
	Audience  string
	Metrics   MetricsRecorder
	Publisher events.Publisher
	Logger    *zap.Logger
}

// LoginResult carries the verified claims and the credentials they came from.
type LoginResult struct {
	Claims IdentityClaims
	Bundle CredentialBundle
}

// Gateway coordinates credential exchange, identity verification, and profile persistence.
type Gateway struct {
	exchanger CodeExchanger
	verifier  TokenVerifier
	profiles  ProfileStore
	fitness   LinkExchanger
	audience  string
	metrics   MetricsRecorder
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// NewGateway validates the dependencies; a missing collaborator is a startup error.
func NewGateway(dependencies GatewayDependencies) (*Gateway, error) {
	switch {
	case dependencies.Exchanger == nil:
		return nil, fmt.Errorf("gateway.new: %w", errMissingExchanger)
	case dependencies.Verifier == nil:
		return nil, fmt.Errorf("gateway.new: %w", errMissingVerifier)
	case dependencies.Profiles == nil:
		return nil, fmt.Errorf("gateway.new: %w", errMissingStore)
	case strings.TrimSpace(dependencies.Audience) == "":
		return nil, fmt.Errorf("gateway.new: %w", errMissingAudience)
	}
	gateway := &Gateway{
		exchanger: dependencies.Exchanger,
		verifier:  dependencies.Verifier,
		profiles:  dependencies.Profiles,
		fitness:   dependencies.Fitness,
		audience:  dependencies.Audience,
		metrics:   dependencies.Metrics,
		publisher: dependencies.Publisher,
		logger:    dependencies.Logger,
		now:       time.Now,
	}
	if gateway.metrics == nil {
		gateway.metrics = noopMetrics{}
	}
	if gateway.publisher == nil {
		gateway.publisher = events.NewNoop()
	}
	if gateway.logger == nil {
		gateway.logger = zap.NewNop()
	}
	return gateway, nil
}

// GoogleAuthURL returns the identity-provider consent URL.
func (gateway *Gateway) GoogleAuthURL(state string) string {
	return gateway.exchanger.AuthCodeURL(state)
}

// FitnessAuthURL returns the fitness consent URL carrying the local user reference.
func (gateway *Gateway) FitnessAuthURL(localUserRef string) (string, error) {
	if gateway.fitness == nil {
		return "", ErrLinkingDisabled
	}
	if strings.TrimSpace(localUserRef) == "" {
		return "", fmt.Errorf("gateway.fitness_auth_url: %w", ErrMissingInput)
	}
	return gateway.fitness.AuthCodeURL(localUserRef), nil
}

// LoginWithCode exchanges the authorization code, verifies the identity token, and records the login.
func (gateway *Gateway) LoginWithCode(ctx context.Context, code string) (LoginResult, error) {
	bundle, err := gateway.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		gateway.recordFailure(metricAuthLoginFailure, "auth.login.exchange", err)
		return LoginResult{}, err
	}
	claims, err := gateway.completeLogin(ctx, bundle.IdentityToken, "login")
	if err != nil {
		gateway.recordFailure(metricAuthLoginFailure, "auth.login.complete", err)
		return LoginResult{}, err
	}
	gateway.metrics.Increment(metricAuthLoginSuccess)
	return LoginResult{Claims: claims, Bundle: bundle}, nil
}

// RefreshLogin renews the credential bundle and re-verifies the identity it carries.
func (gateway *Gateway) RefreshLogin(ctx context.Context, refreshToken string) (LoginResult, error) {
	bundle, err := gateway.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		gateway.recordFailure(metricAuthRefreshFailure, "auth.refresh.exchange", err)
		return LoginResult{}, err
	}
	claims, err := gateway.completeLogin(ctx, bundle.IdentityToken, "refresh")
	if err != nil {
		gateway.recordFailure(metricAuthRefreshFailure, "auth.refresh.complete", err)
		return LoginResult{}, err
	}
	gateway.metrics.Increment(metricAuthRefreshSuccess)
	return LoginResult{Claims: claims, Bundle: bundle}, nil
}

// VerifyIdentity validates a caller-held identity token and records the login.
func (gateway *Gateway) VerifyIdentity(ctx context.Context, identityToken string) (IdentityClaims, error) {
	claims, err := gateway.completeLogin(ctx, identityToken, "verify")
	if err != nil {
		gateway.recordFailure(metricAuthVerifyFailure, "auth.verify", err)
		return IdentityClaims{}, err
	}
	gateway.metrics.Increment(metricAuthVerifySuccess)
	return claims, nil
}

// LinkFitnessAccount exchanges the fitness code and attaches the credentials to localUserRef.
// localUserRef arrives through the OAuth state parameter and is not proven to belong to the caller.
func (gateway *Gateway) LinkFitnessAccount(ctx context.Context, code string, localUserRef string) (SecondaryLink, error) {
	if gateway.fitness == nil {
		return SecondaryLink{}, ErrLinkingDisabled
	}
	if strings.TrimSpace(code) == "" || strings.TrimSpace(localUserRef) == "" {
		gateway.recordFailure(metricLinkFailure, "link.fitness.input", ErrMissingInput)
		return SecondaryLink{}, fmt.Errorf("gateway.link_fitness: %w", ErrMissingInput)
	}
	gateway.logger.Info("linking fitness account",
		zap.String("code", "link.unverified_state"),
		zap.String("user_ref", localUserRef))

	link, err := gateway.fitness.ExchangeCode(ctx, code)
	if err != nil {
		gateway.recordFailure(metricLinkFailure, "link.fitness.exchange", err)
		return SecondaryLink{}, err
	}
	if err := gateway.profiles.LinkSecondaryProvider(ctx, localUserRef, link); err != nil {
		gateway.recordFailure(metricLinkFailure, "link.fitness.store", err)
		return SecondaryLink{}, err
	}
	gateway.metrics.Increment(metricLinkSuccess)
	gateway.publish(ctx, events.RoutingKeyUserLinked, events.UserLinked{
		UserID:            localUserRef,
		ExternalAccountID: link.ExternalAccountID,
		OccurredAt:        gateway.now().UTC(),
	})
	return link, nil
}

// SyncProfile applies caller-supplied profile fields through the login upsert.
func (gateway *Gateway) SyncProfile(ctx context.Context, claims IdentityClaims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		gateway.recordFailure(metricProfileSyncFailure, "profile.sync.input", ErrMissingInput)
		return fmt.Errorf("gateway.sync_profile: %w", ErrMissingInput)
	}
	if err := gateway.profiles.UpsertLoginProfile(ctx, claims); err != nil {
		gateway.recordFailure(metricProfileSyncFailure, "profile.sync.store", err)
		return err
	}
	gateway.metrics.Increment(metricProfileSyncSuccess)
	return nil
}

// FindProfile returns the stored profile for userID.
func (gateway *Gateway) FindProfile(ctx context.Context, userID string) (UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return UserProfile{}, fmt.Errorf("gateway.find_profile: %w", ErrMissingInput)
	}
	return gateway.profiles.FindProfile(ctx, userID)
}

// CountProfiles reports how many profiles are stored.
func (gateway *Gateway) CountProfiles(ctx context.Context) (int64, error) {
	return gateway.profiles.CountProfiles(ctx)
}

func (gateway *Gateway) completeLogin(ctx context.Context, identityToken string, source string) (IdentityClaims, error) {
	claims, err := gateway.verifier.Verify(ctx, identityToken, gateway.audience)
	if err != nil {
		return IdentityClaims{}, err
	}
	if err := gateway.profiles.UpsertLoginProfile(ctx, claims); err != nil {
		return IdentityClaims{}, err
	}
	gateway.publish(ctx, events.RoutingKeyUserLogin, events.UserLoggedIn{
		UserID:     claims.Subject,
		Email:      claims.Email,
		Source:     source,
		OccurredAt: gateway.now().UTC(),
	})
	return claims, nil
}

func (gateway *Gateway) publish(ctx context.Context, routingKey string, event any) {
	if err := gateway.publisher.Publish(ctx, routingKey, event); err != nil {
		gateway.logger.Warn("event publish failed",
			zap.String("code", "events.publish"),
			zap.String("routing_key", routingKey),
			zap.Error(err))
	}
}

func (gateway *Gateway) recordFailure(metric string, code string, err error) {
	gateway.metrics.Increment(metric)
	switch {
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrProviderUnavailable):
		gateway.logger.Error("auth operation failed", zap.String("code", code), zap.Error(err))
	default:
		gateway.logger.Warn("auth operation rejected", zap.String("code", code), zap.Error(err))
	}
}
