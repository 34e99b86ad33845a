package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoUsersCollection = "users"
	mongoPingTimeout     = 2 * time.Second
)

// MongoProfileStore persists user profiles as documents in the users collection.
type MongoProfileStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type profileDocument struct {
	UserID        string        `bson:"_id"`
	Email         string        `bson:"email,omitempty"`
	DisplayName   string        `bson:"name,omitempty"`
	AvatarURL     string        `bson:"picture,omitempty"`
	LastLoginAt   *time.Time    `bson:"last_login,omitempty"`
	Badges        []string      `bson:"badges"`
	SecondaryLink *linkDocument `bson:"fitness,omitempty"`
}

type linkDocument struct {
	AccessToken       string    `bson:"access_token"`
	RefreshToken      string    `bson:"refresh_token"`
	ExternalAccountID string    `bson:"athlete_id"`
	LinkedAt          time.Time `bson:"linked_at"`
}

func (document profileDocument) toProfile() UserProfile {
	profile := UserProfile{
		UserID:      document.UserID,
		Email:       document.Email,
		DisplayName: document.DisplayName,
		AvatarURL:   document.AvatarURL,
		Badges:      document.Badges,
	}
	if profile.Badges == nil {
		profile.Badges = []string{}
	}
	if document.LastLoginAt != nil {
		profile.LastLoginAt = document.LastLoginAt.UTC()
	}
	if document.SecondaryLink != nil {
		profile.SecondaryLink = &SecondaryLink{
			AccessToken:       document.SecondaryLink.AccessToken,
			RefreshToken:      document.SecondaryLink.RefreshToken,
			ExternalAccountID: document.SecondaryLink.ExternalAccountID,
			LinkedAt:          document.SecondaryLink.LinkedAt.UTC(),
		}
	}
	return profile
}

// NewMongoProfileStore connects to MongoDB and verifies the server responds.
func NewMongoProfileStore(ctx context.Context, uri string, database string) (*MongoProfileStore, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("profile_store.open.mongo: %w", errEmptyDatabaseURL)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("profile_store.open.mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx, nil); pingErr != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("profile_store.ping.mongo: %w", pingErr)
	}
	return &MongoProfileStore{
		client:     client,
		collection: client.Database(database).Collection(mongoUsersCollection),
	}, nil
}

// Driver exposes the store label used in logs.
func (store *MongoProfileStore) Driver() string {
	return "mongo"
}

// UpsertLoginProfile sets login fields and seeds badges only when the document is inserted.
func (store *MongoProfileStore) UpsertLoginProfile(ctx context.Context, claims IdentityClaims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return fmt.Errorf("profile_store.upsert.mongo: %w", ErrMissingInput)
	}
	_, err := store.collection.UpdateOne(ctx,
		bson.M{"_id": claims.Subject},
		loginUpdate(claims, time.Now().UTC()),
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("profile_store.upsert.mongo: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// LinkSecondaryProvider replaces the embedded fitness document.
func (store *MongoProfileStore) LinkSecondaryProvider(ctx context.Context, localUserRef string, link SecondaryLink) error {
	if strings.TrimSpace(localUserRef) == "" {
		return fmt.Errorf("profile_store.link.mongo: %w", ErrMissingInput)
	}
	_, err := store.collection.UpdateOne(ctx,
		bson.M{"_id": localUserRef},
		linkUpdate(link),
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("profile_store.link.mongo: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// FindProfile loads the profile document by id.
func (store *MongoProfileStore) FindProfile(ctx context.Context, userID string) (UserProfile, error) {
	var document profileDocument
	err := store.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&document)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return UserProfile{}, fmt.Errorf("profile_store.find.mongo: %w", ErrProfileNotFound)
		}
		return UserProfile{}, fmt.Errorf("profile_store.find.mongo: %w: %v", ErrStoreUnavailable, err)
	}
	return document.toProfile(), nil
}

// CountProfiles counts documents in the users collection.
func (store *MongoProfileStore) CountProfiles(ctx context.Context) (int64, error) {
	count, err := store.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("profile_store.count.mongo: %w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// Close disconnects the client.
func (store *MongoProfileStore) Close(ctx context.Context) error {
	return store.client.Disconnect(ctx)
}

func loginUpdate(claims IdentityClaims, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"email":      claims.Email,
			"name":       claims.Name,
			"picture":    claims.PictureURL,
			"last_login": now,
		},
		"$setOnInsert": bson.M{
			"badges": bson.A{},
		},
	}
}

func linkUpdate(link SecondaryLink) bson.M {
	return bson.M{
		"$set": bson.M{
			"fitness": linkDocument{
				AccessToken:       link.AccessToken,
				RefreshToken:      link.RefreshToken,
				ExternalAccountID: link.ExternalAccountID,
				LinkedAt:          link.LinkedAt.UTC(),
			},
		},
		"$setOnInsert": bson.M{
			"badges": bson.A{},
		},
	}
}
