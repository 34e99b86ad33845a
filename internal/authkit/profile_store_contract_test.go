package authkit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func profileStoreFactories() []struct {
	name  string
	store func(t *testing.T) ProfileStore
} {
	return []struct {
		name  string
		store func(t *testing.T) ProfileStore
	}{
		{
			name: "memory",
			store: func(t *testing.T) ProfileStore {
				t.Helper()
				return NewMemoryProfileStore()
			},
		},
		{
			name: "sqlite",
			store: func(t *testing.T) ProfileStore {
				t.Helper()
				databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "profiles.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
				store, err := NewDatabaseProfileStore(context.Background(), databaseURL)
				if err != nil {
					t.Fatalf("failed to create sqlite store: %v", err)
				}
				t.Cleanup(func() { _ = store.Close() })
				return store
			},
		},
	}
}

func mustFindProfile(t *testing.T, store ProfileStore, userID string) UserProfile {
	t.Helper()
	profile, err := store.FindProfile(context.Background(), userID)
	if err != nil {
		t.Fatalf("find %s failed: %v", userID, err)
	}
	return profile
}

func TestProfileStoresLoginThenLinkLifecycle(t *testing.T) {
	t.Parallel()

	for _, testCase := range profileStoreFactories() {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := testCase.store(t)

			if err := store.UpsertLoginProfile(ctx, IdentityClaims{Subject: "u1", Email: "a@x.com", Name: "A", PictureURL: "p1"}); err != nil {
				t.Fatalf("first login failed: %v", err)
			}
			profile := mustFindProfile(t, store, "u1")
			if profile.Email != "a@x.com" || profile.DisplayName != "A" || profile.AvatarURL != "p1" {
				t.Fatalf("unexpected login fields %+v", profile)
			}
			if profile.Badges == nil || len(profile.Badges) != 0 {
				t.Fatalf("expected empty badges, got %#v", profile.Badges)
			}
			if profile.SecondaryLink != nil {
				t.Fatalf("expected no link after first login, got %+v", profile.SecondaryLink)
			}
			if profile.LastLoginAt.IsZero() {
				t.Fatalf("expected last login to be set")
			}
			firstLogin := profile.LastLoginAt

			linkedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
			if err := store.LinkSecondaryProvider(ctx, "u1", SecondaryLink{AccessToken: "sa", RefreshToken: "sr", ExternalAccountID: "123", LinkedAt: linkedAt}); err != nil {
				t.Fatalf("link failed: %v", err)
			}
			profile = mustFindProfile(t, store, "u1")
			if profile.Email != "a@x.com" {
				t.Fatalf("link must not touch login fields, got %+v", profile)
			}
			if profile.SecondaryLink == nil || profile.SecondaryLink.ExternalAccountID != "123" || profile.SecondaryLink.AccessToken != "sa" || profile.SecondaryLink.RefreshToken != "sr" {
				t.Fatalf("unexpected link %+v", profile.SecondaryLink)
			}
			if !profile.SecondaryLink.LinkedAt.Equal(linkedAt) {
				t.Fatalf("unexpected linked at %v", profile.SecondaryLink.LinkedAt)
			}

			time.Sleep(5 * time.Millisecond)
			if err := store.UpsertLoginProfile(ctx, IdentityClaims{Subject: "u1", Email: "b@x.com", Name: "B", PictureURL: "p2"}); err != nil {
				t.Fatalf("second login failed: %v", err)
			}
			profile = mustFindProfile(t, store, "u1")
			if profile.Email != "b@x.com" || profile.DisplayName != "B" || profile.AvatarURL != "p2" {
				t.Fatalf("expected login fields to be overwritten, got %+v", profile)
			}
			if profile.SecondaryLink == nil || profile.SecondaryLink.ExternalAccountID != "123" {
				t.Fatalf("login must preserve link, got %+v", profile.SecondaryLink)
			}
			if !profile.LastLoginAt.After(firstLogin) {
				t.Fatalf("expected last login to advance from %v, got %v", firstLogin, profile.LastLoginAt)
			}

			if err := store.LinkSecondaryProvider(ctx, "u1", SecondaryLink{AccessToken: "sa2", ExternalAccountID: "456", LinkedAt: linkedAt.Add(time.Hour)}); err != nil {
				t.Fatalf("relink failed: %v", err)
			}
			profile = mustFindProfile(t, store, "u1")
			if profile.SecondaryLink == nil || profile.SecondaryLink.ExternalAccountID != "456" || profile.SecondaryLink.RefreshToken != "" {
				t.Fatalf("expected link to be replaced wholesale, got %+v", profile.SecondaryLink)
			}

			count, err := store.CountProfiles(ctx)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != 1 {
				t.Fatalf("expected one profile, got %d", count)
			}
		})
	}
}

func TestProfileStoresLinkBeforeLogin(t *testing.T) {
	t.Parallel()

	for _, testCase := range profileStoreFactories() {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := testCase.store(t)

			if err := store.LinkSecondaryProvider(ctx, "u2", SecondaryLink{AccessToken: "sa", ExternalAccountID: "77", LinkedAt: time.Now().UTC()}); err != nil {
				t.Fatalf("link failed: %v", err)
			}
			profile := mustFindProfile(t, store, "u2")
			if profile.Email != "" || !profile.LastLoginAt.IsZero() {
				t.Fatalf("expected link-only profile, got %+v", profile)
			}
			if profile.Badges == nil || len(profile.Badges) != 0 {
				t.Fatalf("expected empty badges on link-created profile, got %#v", profile.Badges)
			}

			if err := store.UpsertLoginProfile(ctx, IdentityClaims{Subject: "u2", Email: "c@x.com", Name: "C"}); err != nil {
				t.Fatalf("login failed: %v", err)
			}
			profile = mustFindProfile(t, store, "u2")
			if profile.Email != "c@x.com" || profile.SecondaryLink == nil || profile.SecondaryLink.ExternalAccountID != "77" {
				t.Fatalf("expected merged profile, got %+v", profile)
			}
		})
	}
}

func TestProfileStoresUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, testCase := range profileStoreFactories() {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := testCase.store(t)

			claims := IdentityClaims{Subject: "u3", Email: "d@x.com", Name: "D", PictureURL: "p"}
			for attempt := 0; attempt < 3; attempt++ {
				if err := store.UpsertLoginProfile(ctx, claims); err != nil {
					t.Fatalf("upsert %d failed: %v", attempt, err)
				}
			}
			count, err := store.CountProfiles(ctx)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != 1 {
				t.Fatalf("expected one profile, got %d", count)
			}
			profile := mustFindProfile(t, store, "u3")
			if profile.Email != "d@x.com" || len(profile.Badges) != 0 {
				t.Fatalf("unexpected profile %+v", profile)
			}
		})
	}
}

func TestProfileStoresConcurrentLoginAndLink(t *testing.T) {
	t.Parallel()

	for _, testCase := range profileStoreFactories() {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := testCase.store(t)

			const rounds = 8
			for round := 0; round < rounds; round++ {
				userID := "race-" + string(rune('a'+round))
				var waitGroup sync.WaitGroup
				errs := make(chan error, 2)
				waitGroup.Add(2)
				go func() {
					defer waitGroup.Done()
					errs <- store.UpsertLoginProfile(ctx, IdentityClaims{Subject: userID, Email: userID + "@x.com", Name: "R"})
				}()
				go func() {
					defer waitGroup.Done()
					errs <- store.LinkSecondaryProvider(ctx, userID, SecondaryLink{AccessToken: "sa", ExternalAccountID: "9", LinkedAt: time.Now().UTC()})
				}()
				waitGroup.Wait()
				close(errs)
				for err := range errs {
					if err != nil {
						t.Fatalf("concurrent write failed: %v", err)
					}
				}
				profile := mustFindProfile(t, store, userID)
				if profile.Email != userID+"@x.com" || profile.SecondaryLink == nil || profile.SecondaryLink.ExternalAccountID != "9" {
					t.Fatalf("expected both writes to survive, got %+v", profile)
				}
			}
			count, err := store.CountProfiles(ctx)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != rounds {
				t.Fatalf("expected %d profiles, got %d", rounds, count)
			}
		})
	}
}

func TestProfileStoresSentinelErrors(t *testing.T) {
	t.Parallel()

	for _, testCase := range profileStoreFactories() {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := testCase.store(t)

			if _, err := store.FindProfile(ctx, "missing"); !errors.Is(err, ErrProfileNotFound) {
				t.Fatalf("expected ErrProfileNotFound, got %v", err)
			}
			if errors.Is(ErrProfileNotFound, ErrStoreUnavailable) {
				t.Fatalf("not found must stay distinct from store unavailable")
			}
			if err := store.UpsertLoginProfile(ctx, IdentityClaims{Subject: " "}); !errors.Is(err, ErrMissingInput) {
				t.Fatalf("expected ErrMissingInput on empty subject, got %v", err)
			}
			if err := store.LinkSecondaryProvider(ctx, "", SecondaryLink{ExternalAccountID: "1"}); !errors.Is(err, ErrMissingInput) {
				t.Fatalf("expected ErrMissingInput on empty ref, got %v", err)
			}
			count, err := store.CountProfiles(ctx)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != 0 {
				t.Fatalf("rejected writes must not create profiles, got %d", count)
			}
		})
	}
}
