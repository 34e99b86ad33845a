package authkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tyemirov/fitauth/internal/events"
	"go.uber.org/zap/zaptest"
)

type stubCodeExchanger struct {
	bundles map[string]CredentialBundle
	calls   int
}

func (exchanger *stubCodeExchanger) ExchangeCode(ctx context.Context, code string) (CredentialBundle, error) {
	exchanger.calls++
	if code == "" {
		return CredentialBundle{}, fmt.Errorf("stub: %w", ErrMissingInput)
	}
	bundle, ok := exchanger.bundles[code]
	if !ok {
		return CredentialBundle{}, fmt.Errorf("stub: %w", ErrExchangeRejected)
	}
	return bundle, nil
}

func (exchanger *stubCodeExchanger) Refresh(ctx context.Context, refreshToken string) (CredentialBundle, error) {
	return exchanger.ExchangeCode(ctx, refreshToken)
}

func (exchanger *stubCodeExchanger) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

type stubLinkExchanger struct {
	links map[string]SecondaryLink
	calls int
}

func (exchanger *stubLinkExchanger) ExchangeCode(ctx context.Context, code string) (SecondaryLink, error) {
	exchanger.calls++
	link, ok := exchanger.links[code]
	if !ok {
		return SecondaryLink{}, fmt.Errorf("stub: %w", ErrExchangeRejected)
	}
	return link, nil
}

func (exchanger *stubLinkExchanger) AuthCodeURL(localUserRef string) string {
	return "https://fitness.example.com/authorize?state=" + localUserRef
}

type stubTokenVerifier struct {
	claims map[string]IdentityClaims
}

func (verifier stubTokenVerifier) Verify(ctx context.Context, identityToken string, audience string) (IdentityClaims, error) {
	if identityToken == "" {
		return IdentityClaims{}, fmt.Errorf("stub: %w", ErrMissingInput)
	}
	if audience != "client" {
		return IdentityClaims{}, fmt.Errorf("stub: %w", ErrTokenInvalid)
	}
	claims, ok := verifier.claims[identityToken]
	if !ok {
		return IdentityClaims{}, fmt.Errorf("stub: %w", ErrTokenInvalid)
	}
	return claims, nil
}

type publishedEvent struct {
	routingKey string
	event      any
}

type recordingPublisher struct {
	mutex     sync.Mutex
	published []publishedEvent
	err       error
}

func (publisher *recordingPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	publisher.published = append(publisher.published, publishedEvent{routingKey: routingKey, event: event})
	return publisher.err
}

func (publisher *recordingPublisher) Close() error { return nil }

type failingProfileStore struct {
	*MemoryProfileStore
}

func (failingProfileStore) UpsertLoginProfile(ctx context.Context, claims IdentityClaims) error {
	return fmt.Errorf("stub: %w: connection refused", ErrStoreUnavailable)
}

type gatewayFixture struct {
	gateway   *Gateway
	exchanger *stubCodeExchanger
	fitness   *stubLinkExchanger
	store     *MemoryProfileStore
	metrics   *recordingMetrics
	publisher *recordingPublisher
}

func newGatewayFixture(t *testing.T) gatewayFixture {
	t.Helper()
	fixture := gatewayFixture{
		exchanger: &stubCodeExchanger{bundles: map[string]CredentialBundle{
			"c1":        {IdentityToken: "idt-u1", AccessToken: "at1", RefreshToken: "rt1"},
			"c-bad-idt": {IdentityToken: "forged", AccessToken: "at2"},
			"rt1":       {IdentityToken: "idt-u1-renamed", AccessToken: "at3", RefreshToken: "rt1"},
		}},
		fitness: &stubLinkExchanger{links: map[string]SecondaryLink{
			"s1": {AccessToken: "sa", RefreshToken: "sr", ExternalAccountID: "123", LinkedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		}},
		store:     NewMemoryProfileStore(),
		metrics:   newRecordingMetrics(),
		publisher: &recordingPublisher{},
	}
	gateway, err := NewGateway(GatewayDependencies{
		Exchanger: fixture.exchanger,
		Verifier: stubTokenVerifier{claims: map[string]IdentityClaims{
			"idt-u1":         {Subject: "u1", Email: "a@x.com", Name: "A", PictureURL: "p1"},
			"idt-u1-renamed": {Subject: "u1", Email: "b@x.com", Name: "B", PictureURL: "p2"},
		}},
		Profiles:  fixture.store,
		Fitness:   fixture.fitness,
		Audience:  "client",
		Metrics:   fixture.metrics,
		Publisher: fixture.publisher,
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("unexpected gateway error: %v", err)
	}
	fixture.gateway = gateway
	return fixture
}

func TestGatewayLoginLinkRefreshScenario(t *testing.T) {
	fixture := newGatewayFixture(t)
	ctx := context.Background()

	result, err := fixture.gateway.LoginWithCode(ctx, "c1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Claims.Subject != "u1" || result.Bundle.RefreshToken != "rt1" {
		t.Fatalf("unexpected login result %+v", result)
	}

	link, err := fixture.gateway.LinkFitnessAccount(ctx, "s1", "u1")
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if link.ExternalAccountID != "123" {
		t.Fatalf("unexpected link %+v", link)
	}

	if _, err := fixture.gateway.RefreshLogin(ctx, "rt1"); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	profile, err := fixture.gateway.FindProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if profile.Email != "b@x.com" || profile.DisplayName != "B" {
		t.Fatalf("expected refreshed login fields, got %+v", profile)
	}
	if profile.SecondaryLink == nil || profile.SecondaryLink.ExternalAccountID != "123" {
		t.Fatalf("expected link to survive refresh, got %+v", profile.SecondaryLink)
	}
	count, err := fixture.gateway.CountProfiles(ctx)
	if err != nil || count != 1 {
		t.Fatalf("expected one profile, got %d (%v)", count, err)
	}

	if fixture.metrics.Count(metricAuthLoginSuccess) != 1 || fixture.metrics.Count(metricLinkSuccess) != 1 || fixture.metrics.Count(metricAuthRefreshSuccess) != 1 {
		t.Fatalf("unexpected metrics %v", fixture.metrics.Snapshot())
	}
	routingKeys := make([]string, 0, len(fixture.publisher.published))
	for _, published := range fixture.publisher.published {
		routingKeys = append(routingKeys, published.routingKey)
	}
	expectedKeys := []string{events.RoutingKeyUserLogin, events.RoutingKeyUserLinked, events.RoutingKeyUserLogin}
	if fmt.Sprint(routingKeys) != fmt.Sprint(expectedKeys) {
		t.Fatalf("expected events %v, got %v", expectedKeys, routingKeys)
	}
	linked, ok := fixture.publisher.published[1].event.(events.UserLinked)
	if !ok || linked.UserID != "u1" || linked.ExternalAccountID != "123" {
		t.Fatalf("unexpected linked event %+v", fixture.publisher.published[1].event)
	}
}

func TestGatewayLoginFailuresLeaveStoreUntouched(t *testing.T) {
	testCases := []struct {
		name     string
		code     string
		expected error
	}{
		{name: "empty code", code: "", expected: ErrMissingInput},
		{name: "rejected code", code: "unknown", expected: ErrExchangeRejected},
		{name: "forged identity token", code: "c-bad-idt", expected: ErrTokenInvalid},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fixture := newGatewayFixture(t)
			_, err := fixture.gateway.LoginWithCode(context.Background(), testCase.code)
			if !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			count, _ := fixture.store.CountProfiles(context.Background())
			if count != 0 {
				t.Fatalf("failed login must not write profiles, got %d", count)
			}
			if fixture.metrics.Count(metricAuthLoginFailure) != 1 {
				t.Fatalf("expected failure metric, got %v", fixture.metrics.Snapshot())
			}
			if len(fixture.publisher.published) != 0 {
				t.Fatalf("failed login must not publish events")
			}
		})
	}
}

func TestGatewayLinkGuardsInputsBeforeExchange(t *testing.T) {
	fixture := newGatewayFixture(t)
	ctx := context.Background()

	for _, inputs := range [][2]string{{"", "u1"}, {"s1", ""}, {"  ", "  "}} {
		if _, err := fixture.gateway.LinkFitnessAccount(ctx, inputs[0], inputs[1]); !errors.Is(err, ErrMissingInput) {
			t.Fatalf("expected missing input for %q, got %v", inputs, err)
		}
	}
	if fixture.fitness.calls != 0 {
		t.Fatalf("expected no fitness provider calls, got %d", fixture.fitness.calls)
	}

	if _, err := fixture.gateway.LinkFitnessAccount(ctx, "expired-code", "u1"); !errors.Is(err, ErrExchangeRejected) {
		t.Fatalf("expected exchange rejected, got %v", err)
	}
	if _, err := fixture.gateway.FindProfile(ctx, "u1"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("rejected link must not create a profile, got %v", err)
	}
}

func TestGatewayLinkingDisabled(t *testing.T) {
	gateway, err := NewGateway(GatewayDependencies{
		Exchanger: &stubCodeExchanger{},
		Verifier:  stubTokenVerifier{},
		Profiles:  NewMemoryProfileStore(),
		Audience:  "client",
	})
	if err != nil {
		t.Fatalf("unexpected gateway error: %v", err)
	}
	if _, err := gateway.LinkFitnessAccount(context.Background(), "s1", "u1"); !errors.Is(err, ErrLinkingDisabled) {
		t.Fatalf("expected linking disabled, got %v", err)
	}
	if _, err := gateway.FitnessAuthURL("u1"); !errors.Is(err, ErrLinkingDisabled) {
		t.Fatalf("expected linking disabled for auth url, got %v", err)
	}
}

func TestGatewayVerifyIdentityRecordsLogin(t *testing.T) {
	fixture := newGatewayFixture(t)
	ctx := context.Background()

	claims, err := fixture.gateway.VerifyIdentity(ctx, "idt-u1")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := fixture.gateway.FindProfile(ctx, "u1"); err != nil {
		t.Fatalf("expected profile after verification: %v", err)
	}
	if _, err := fixture.gateway.VerifyIdentity(ctx, ""); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected missing input, got %v", err)
	}
	if fixture.exchanger.calls != 0 {
		t.Fatalf("verification must not call the exchanger")
	}
}

func TestGatewayStoreFailureSurfaces(t *testing.T) {
	gateway, err := NewGateway(GatewayDependencies{
		Exchanger: &stubCodeExchanger{bundles: map[string]CredentialBundle{"c1": {IdentityToken: "idt-u1"}}},
		Verifier:  stubTokenVerifier{claims: map[string]IdentityClaims{"idt-u1": {Subject: "u1"}}},
		Profiles:  failingProfileStore{NewMemoryProfileStore()},
		Audience:  "client",
	})
	if err != nil {
		t.Fatalf("unexpected gateway error: %v", err)
	}
	if _, err := gateway.LoginWithCode(context.Background(), "c1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if err := gateway.SyncProfile(context.Background(), IdentityClaims{Subject: "u1"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable on sync, got %v", err)
	}
}

func TestGatewayPublishFailureDoesNotFailLogin(t *testing.T) {
	fixture := newGatewayFixture(t)
	fixture.publisher.err = errors.New("broker down")

	if _, err := fixture.gateway.LoginWithCode(context.Background(), "c1"); err != nil {
		t.Fatalf("publish failure must not fail login: %v", err)
	}
}

func TestGatewaySyncProfile(t *testing.T) {
	fixture := newGatewayFixture(t)
	ctx := context.Background()

	if err := fixture.gateway.SyncProfile(ctx, IdentityClaims{Subject: " "}); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected missing input, got %v", err)
	}
	if err := fixture.gateway.SyncProfile(ctx, IdentityClaims{Subject: "u5", Email: "e@x.com", Name: "E"}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	profile, err := fixture.gateway.FindProfile(ctx, "u5")
	if err != nil || profile.Email != "e@x.com" {
		t.Fatalf("unexpected synced profile %+v (%v)", profile, err)
	}
	if fixture.metrics.Count(metricProfileSyncSuccess) != 1 || fixture.metrics.Count(metricProfileSyncFailure) != 1 {
		t.Fatalf("unexpected metrics %v", fixture.metrics.Snapshot())
	}
}

func TestNewGatewayRequiresDependencies(t *testing.T) {
	complete := GatewayDependencies{
		Exchanger: &stubCodeExchanger{},
		Verifier:  stubTokenVerifier{},
		Profiles:  NewMemoryProfileStore(),
		Audience:  "client",
	}
	testCases := []struct {
		name     string
		mutate   func(*GatewayDependencies)
		expected error
	}{
		{name: "exchanger", mutate: func(d *GatewayDependencies) { d.Exchanger = nil }, expected: errMissingExchanger},
		{name: "verifier", mutate: func(d *GatewayDependencies) { d.Verifier = nil }, expected: errMissingVerifier},
		{name: "store", mutate: func(d *GatewayDependencies) { d.Profiles = nil }, expected: errMissingStore},
		{name: "audience", mutate: func(d *GatewayDependencies) { d.Audience = " " }, expected: errMissingAudience},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			dependencies := complete
			testCase.mutate(&dependencies)
			if _, err := NewGateway(dependencies); !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}
