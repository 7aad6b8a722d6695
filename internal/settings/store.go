package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotConfigured marks a missing configuration key with no usable default.
	ErrNotConfigured = errors.New("settings: key not configured")

	errMissingDatabase = errors.New("settings: database handle is required")
)

// Store reads and writes configuration values keyed by string, decoding the
// well-known keys into validated typed structs.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// GetRaw returns the stored JSON for a key, or ErrNotConfigured.
func (s *Store) GetRaw(ctx context.Context, key string) (json.RawMessage, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, key)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(record.Value), nil
}

// Set upserts a key with the JSON encoding of value.
func (s *Store) Set(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return fmt.Errorf("settings: key must not be empty")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encoding %s: %w", key, err)
	}
	record := Record{Key: key, Value: string(encoded)}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&record).
		Error
}

// SetRaw upserts a key with an already-encoded JSON value, validating typed
// keys before persisting so malformed admin input is rejected up front.
func (s *Store) SetRaw(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("settings: value for %s is not valid JSON", key)
	}
	if err := validateKnownKey(key, value); err != nil {
		return err
	}
	record := Record{Key: key, Value: string(value)}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&record).
		Error
}

func validateKnownKey(key string, value json.RawMessage) error {
	switch key {
	case KeyNamingSchema:
		var cfg NamingConfig
		if err := json.Unmarshal(value, &cfg); err != nil {
			return fmt.Errorf("settings: decoding %s: %w", key, err)
		}
		return cfg.Validate()
	case KeySMTPConfig:
		var cfg SMTPConfig
		if err := json.Unmarshal(value, &cfg); err != nil {
			return fmt.Errorf("settings: decoding %s: %w", key, err)
		}
		return cfg.Validate()
	case KeyS3Config:
		var cfg S3Config
		if err := json.Unmarshal(value, &cfg); err != nil {
			return fmt.Errorf("settings: decoding %s: %w", key, err)
		}
		return cfg.Validate()
	case KeyUploadPolicy:
		var policy UploadPolicy
		if err := json.Unmarshal(value, &policy); err != nil {
			return fmt.Errorf("settings: decoding %s: %w", key, err)
		}
		return policy.Validate()
	default:
		return nil
	}
}

// Naming returns the configured naming schema, falling back to the default
// when none is stored.
func (s *Store) Naming(ctx context.Context) (NamingConfig, error) {
	raw, err := s.GetRaw(ctx, KeyNamingSchema)
	if errors.Is(err, ErrNotConfigured) {
		return NamingConfig{Schema: DefaultNamingSchema}, nil
	}
	if err != nil {
		return NamingConfig{}, err
	}
	var cfg NamingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return NamingConfig{}, fmt.Errorf("settings: decoding %s: %w", KeyNamingSchema, err)
	}
	if err := cfg.Validate(); err != nil {
		return NamingConfig{}, err
	}
	return cfg, nil
}

// SMTP returns the configured mail transport, or ErrNotConfigured.
func (s *Store) SMTP(ctx context.Context) (SMTPConfig, error) {
	raw, err := s.GetRaw(ctx, KeySMTPConfig)
	if err != nil {
		return SMTPConfig{}, err
	}
	var cfg SMTPConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return SMTPConfig{}, fmt.Errorf("settings: decoding %s: %w", KeySMTPConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return SMTPConfig{}, err
	}
	return cfg, nil
}

// S3 returns the configured object storage account, or ErrNotConfigured.
func (s *Store) S3(ctx context.Context) (S3Config, error) {
	raw, err := s.GetRaw(ctx, KeyS3Config)
	if err != nil {
		return S3Config{}, err
	}
	var cfg S3Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return S3Config{}, fmt.Errorf("settings: decoding %s: %w", KeyS3Config, err)
	}
	if err := cfg.Validate(); err != nil {
		return S3Config{}, err
	}
	return cfg, nil
}

// UploadPolicy returns the configured upload limits; a missing key means no
// limits at all.
func (s *Store) UploadPolicy(ctx context.Context) (UploadPolicy, error) {
	raw, err := s.GetRaw(ctx, KeyUploadPolicy)
	if errors.Is(err, ErrNotConfigured) {
		return UploadPolicy{}, nil
	}
	if err != nil {
		return UploadPolicy{}, err
	}
	var policy UploadPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return UploadPolicy{}, fmt.Errorf("settings: decoding %s: %w", KeyUploadPolicy, err)
	}
	if err := policy.Validate(); err != nil {
		return UploadPolicy{}, err
	}
	return policy, nil
}
