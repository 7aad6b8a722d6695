package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ooblik/drive-backend/internal/audit"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSessionTTL = 4 * time.Hour

var (
	// ErrMissingToken rejects consume calls with no token at all.
	ErrMissingToken = errors.New("auth: token is required")
	// ErrInvalidOrExpiredToken covers unknown, expired, and already-consumed
	// tokens alike; callers cannot distinguish the three.
	ErrInvalidOrExpiredToken = errors.New("auth: invalid or expired token")

	errMissingDatabase = errors.New("auth: database handle is required")
)

// ConsumerConfig bundles the dependencies of the magic-link consumer.
type ConsumerConfig struct {
	Database *gorm.DB
	Audit    *audit.Recorder
	Clock    func() time.Time
	Logger   *zap.Logger

	// SessionTTL bounds the issued session; defaults to four hours.
	SessionTTL time.Duration
}

// Consumer exchanges a presented magic token for a user session, invalidating
// the token in the same transaction.
type Consumer struct {
	db         *gorm.DB
	audit      *audit.Recorder
	clock      func() time.Time
	logger     *zap.Logger
	sessionTTL time.Duration
}

// NewConsumer constructs a Consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Audit == nil {
		return nil, errMissingAuditRecorder
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &Consumer{
		db:         cfg.Database,
		audit:      cfg.Audit,
		clock:      clock,
		logger:     logger,
		sessionTTL: sessionTTL,
	}, nil
}

// ConsumeResult carries the session issued for a redeemed token.
type ConsumeResult struct {
	SessionToken string
	SpaceID      string
	SpaceName    string
	ExpiresAt    time.Time
}

// Consume redeems a raw magic token exactly once. The lookup, the session
// insert, and the token clearing run in a single transaction so two racing
// calls on the same token cannot both succeed.
func (c *Consumer) Consume(ctx context.Context, rawToken, ipAddress, userAgent string) (ConsumeResult, error) {
	if rawToken == "" {
		return ConsumeResult{}, ErrMissingToken
	}

	digest := HashToken(rawToken)
	now := c.clock().UTC()

	var result ConsumeResult
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var space Space
		err := tx.
			Where("magic_token_hash = ? AND token_expires_at > ? AND is_authenticated = ?", digest, now, false).
			Take(&space).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidOrExpiredToken
		}
		if err != nil {
			return err
		}

		// Guard the clear on the digest so a racing consume that lost the
		// lookup cannot redeem the token a second time.
		cleared := tx.Model(&Space{}).
			Where("id = ? AND magic_token_hash = ?", space.ID, digest).
			Updates(map[string]interface{}{
				"magic_token_hash": nil,
				"token_expires_at": nil,
				"is_authenticated": true,
			})
		if cleared.Error != nil {
			return cleared.Error
		}
		if cleared.RowsAffected == 0 {
			return ErrInvalidOrExpiredToken
		}

		session := UserSession{
			ID:             uuid.NewString(),
			SpaceID:        space.ID,
			SessionToken:   uuid.NewString(),
			ExpiresAt:      now.Add(c.sessionTTL),
			IsActive:       true,
			LastAccessedAt: now,
		}
		if err := tx.Create(&session).Error; err != nil {
			return err
		}

		result = ConsumeResult{
			SessionToken: session.SessionToken,
			SpaceID:      space.ID,
			SpaceName:    space.SpaceName,
			ExpiresAt:    session.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			return ConsumeResult{}, err
		}
		return ConsumeResult{}, fmt.Errorf("auth: consuming token: %w", err)
	}

	// The entry names the space but never the raw token or the email.
	if err := c.audit.Record(ctx, audit.Event{
		Type:      audit.EventAuth,
		SpaceID:   result.SpaceID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"action": "magic_link_consumed", "space_name": result.SpaceName},
	}); err != nil {
		c.logger.Warn("consumption audit entry not recorded", zap.Error(err))
	}

	return result, nil
}
