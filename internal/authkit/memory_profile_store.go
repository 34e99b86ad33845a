package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryProfileStore is an in-memory store intended for tests and dev.
type MemoryProfileStore struct {
	mutex    sync.Mutex
	byUserID map[string]*UserProfile
	now      func() time.Time
}

// NewMemoryProfileStore creates an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		byUserID: make(map[string]*UserProfile),
		now:      time.Now,
	}
}

// UpsertLoginProfile overwrites login fields, creating the profile with empty badges when absent.
func (store *MemoryProfileStore) UpsertLoginProfile(ctx context.Context, claims IdentityClaims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return fmt.Errorf("profile_store.upsert.memory: %w", ErrMissingInput)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.findOrCreateLocked(claims.Subject)
	record.Email = claims.Email
	record.DisplayName = claims.Name
	record.AvatarURL = claims.PictureURL
	record.LastLoginAt = store.now().UTC()
	return nil
}

// LinkSecondaryProvider replaces the secondary link wholesale.
func (store *MemoryProfileStore) LinkSecondaryProvider(ctx context.Context, localUserRef string, link SecondaryLink) error {
	if strings.TrimSpace(localUserRef) == "" {
		return fmt.Errorf("profile_store.link.memory: %w", ErrMissingInput)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.findOrCreateLocked(localUserRef)
	linkCopy := link
	record.SecondaryLink = &linkCopy
	return nil
}

// FindProfile returns a copy of the stored profile.
func (store *MemoryProfileStore) FindProfile(ctx context.Context, userID string) (UserProfile, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byUserID[userID]
	if !ok {
		return UserProfile{}, fmt.Errorf("profile_store.find.memory: %w", ErrProfileNotFound)
	}
	clone := *record
	clone.Badges = append([]string{}, record.Badges...)
	if record.SecondaryLink != nil {
		linkCopy := *record.SecondaryLink
		clone.SecondaryLink = &linkCopy
	}
	return clone, nil
}

// CountProfiles returns the number of stored profiles.
func (store *MemoryProfileStore) CountProfiles(ctx context.Context) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return int64(len(store.byUserID)), nil
}

func (store *MemoryProfileStore) findOrCreateLocked(userID string) *UserProfile {
	record, ok := store.byUserID[userID]
	if !ok {
		record = &UserProfile{
			UserID: userID,
			Badges: []string{},
		}
		store.byUserID[userID] = record
	}
	return record
}
