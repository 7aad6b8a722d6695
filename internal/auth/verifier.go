package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUnauthorized means the presented session token matched no active,
// unexpired session. Callers treat this as "not logged in".
var ErrUnauthorized = errors.New("auth: session invalid or expired")

// SessionInfo describes a verified user session.
type SessionInfo struct {
	SessionID string
	SpaceID   string
	SpaceName string
	Email     string
	ExpiresAt time.Time
	IsActive  bool
}

// VerifierConfig bundles the dependencies of the session verifier.
type VerifierConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Verifier validates bearer session tokens against expiry and active flag.
type Verifier struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewVerifier constructs a Verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{db: cfg.Database, clock: clock, logger: logger}, nil
}

type sessionRow struct {
	SessionID string
	SpaceID   string
	SpaceName string
	Email     string
	ExpiresAt time.Time
	IsActive  bool
}

// Verify resolves the session token to its space. The last-access touch is
// best-effort and never fails the lookup.
func (v *Verifier) Verify(ctx context.Context, sessionToken string) (SessionInfo, error) {
	token := strings.TrimSpace(sessionToken)
	if token == "" {
		return SessionInfo{}, ErrUnauthorized
	}

	now := v.clock().UTC()
	var row sessionRow
	err := v.db.WithContext(ctx).
		Table("user_sessions").
		Select("user_sessions.id AS session_id, user_sessions.space_id, spaces.space_name, spaces_private.email, user_sessions.expires_at, user_sessions.is_active").
		Joins("JOIN spaces ON spaces.id = user_sessions.space_id").
		Joins("LEFT JOIN spaces_private ON spaces_private.space_id = user_sessions.space_id").
		Where("user_sessions.session_token = ? AND user_sessions.expires_at > ? AND user_sessions.is_active = ?", token, now, true).
		Take(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SessionInfo{}, ErrUnauthorized
	}
	if err != nil {
		return SessionInfo{}, err
	}

	if touchErr := v.db.WithContext(ctx).
		Model(&UserSession{}).
		Where("id = ?", row.SessionID).
		Update("last_accessed_at", now).
		Error; touchErr != nil {
		v.logger.Debug("session touch failed", zap.Error(touchErr))
	}

	return SessionInfo{
		SessionID: row.SessionID,
		SpaceID:   row.SpaceID,
		SpaceName: row.SpaceName,
		Email:     row.Email,
		ExpiresAt: row.ExpiresAt,
		IsActive:  row.IsActive,
	}, nil
}
