package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("profile_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("profile_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("profile_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("profile_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("profile_store.unsupported_no_scheme")
)

var (
	loginColumns = []string{"email", "display_name", "avatar_url", "last_login_at"}
	linkColumns  = []string{"link_access_token", "link_refresh_token", "link_external_account_id", "linked_at"}
)

// DatabaseProfileStore persists user profiles using GORM.
type DatabaseProfileStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseProfileStore) Driver() string {
	return store.driverLabel
}

// Badges are stored as JSON text so the pgx store can share the users table.
type profileRecord struct {
	UserID                string     `gorm:"column:user_id;primaryKey"`
	Email                 string     `gorm:"column:email;not null"`
	DisplayName           string     `gorm:"column:display_name;not null"`
	AvatarURL             string     `gorm:"column:avatar_url;not null"`
	LastLoginAt           *time.Time `gorm:"column:last_login_at"`
	Badges                []string   `gorm:"column:badges;type:text;serializer:json;not null"`
	LinkAccessToken       string     `gorm:"column:link_access_token;not null"`
	LinkRefreshToken      string     `gorm:"column:link_refresh_token;not null"`
	LinkExternalAccountID string     `gorm:"column:link_external_account_id;not null"`
	LinkedAt              *time.Time `gorm:"column:linked_at"`
}

func (profileRecord) TableName() string {
	return "users"
}

func (record profileRecord) toProfile() UserProfile {
	profile := UserProfile{
		UserID:      record.UserID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		AvatarURL:   record.AvatarURL,
		Badges:      record.Badges,
	}
	if profile.Badges == nil {
		profile.Badges = []string{}
	}
	if record.LastLoginAt != nil {
		profile.LastLoginAt = record.LastLoginAt.UTC()
	}
	if record.LinkedAt != nil {
		profile.SecondaryLink = &SecondaryLink{
			AccessToken:       record.LinkAccessToken,
			RefreshToken:      record.LinkRefreshToken,
			ExternalAccountID: record.LinkExternalAccountID,
			LinkedAt:          record.LinkedAt.UTC(),
		}
	}
	return profile
}

// NewDatabaseProfileStore constructs a GORM-backed store and migrates the users table.
func NewDatabaseProfileStore(ctx context.Context, databaseURL string) (*DatabaseProfileStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("profile_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("profile_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&profileRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("profile_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseProfileStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// UpsertLoginProfile inserts the profile or overwrites its login columns in one statement.
func (store *DatabaseProfileStore) UpsertLoginProfile(ctx context.Context, claims IdentityClaims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return fmt.Errorf("profile_store.upsert.%s: %w", store.driverLabel, ErrMissingInput)
	}
	now := time.Now().UTC()
	record := profileRecord{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		AvatarURL:   claims.PictureURL,
		LastLoginAt: &now,
		Badges:      []string{},
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(loginColumns),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("profile_store.upsert.%s: %w: %v", store.driverLabel, ErrStoreUnavailable, err)
	}
	return nil
}

// LinkSecondaryProvider inserts a link-only profile or replaces the link columns of an existing one.
func (store *DatabaseProfileStore) LinkSecondaryProvider(ctx context.Context, localUserRef string, link SecondaryLink) error {
	if strings.TrimSpace(localUserRef) == "" {
		return fmt.Errorf("profile_store.link.%s: %w", store.driverLabel, ErrMissingInput)
	}
	linkedAt := link.LinkedAt.UTC()
	record := profileRecord{
		UserID:                localUserRef,
		Badges:                []string{},
		LinkAccessToken:       link.AccessToken,
		LinkRefreshToken:      link.RefreshToken,
		LinkExternalAccountID: link.ExternalAccountID,
		LinkedAt:              &linkedAt,
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(linkColumns),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("profile_store.link.%s: %w: %v", store.driverLabel, ErrStoreUnavailable, err)
	}
	return nil
}

// FindProfile locates a profile by user id.
func (store *DatabaseProfileStore) FindProfile(ctx context.Context, userID string) (UserProfile, error) {
	var record profileRecord
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserProfile{}, fmt.Errorf("profile_store.find.%s: %w", store.driverLabel, ErrProfileNotFound)
		}
		return UserProfile{}, fmt.Errorf("profile_store.find.%s: %w: %v", store.driverLabel, ErrStoreUnavailable, err)
	}
	return record.toProfile(), nil
}

// CountProfiles returns the number of stored profiles.
func (store *DatabaseProfileStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	if err := store.db.WithContext(ctx).Model(&profileRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("profile_store.count.%s: %w: %v", store.driverLabel, ErrStoreUnavailable, err)
	}
	return count, nil
}

// Close releases the underlying connection pool.
func (store *DatabaseProfileStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("profile_store.close.%s: %w", store.driverLabel, err)
	}
	return sqlDB.Close()
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("profile_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("profile_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("profile_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("profile_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
