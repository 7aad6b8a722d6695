package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ooblik/drive-backend/internal/audit"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMagicTokenTTL = 6 * time.Hour
	defaultRateLimit     = 5
	defaultRateWindow    = time.Hour
	maxSpaceNameLength   = 190
)

var (
	// ErrInvalidEmail rejects malformed addresses up front.
	ErrInvalidEmail = errors.New("auth: invalid email format")
	// ErrMissingSpaceName rejects requests with no space name.
	ErrMissingSpaceName = errors.New("auth: space name is required")
	// ErrRateLimited means the requesting IP exhausted its issuance budget.
	ErrRateLimited = errors.New("auth: too many attempts")
	// ErrCaptchaRejected means the anti-spam proof did not verify.
	ErrCaptchaRejected = errors.New("auth: captcha verification failed")

	errMissingAuditRecorder = errors.New("auth: audit recorder is required")

	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// MagicLinkMailer dispatches the one-time link. Failures are soft for the
// issuance flow.
type MagicLinkMailer interface {
	SendMagicLink(ctx context.Context, email, rawToken, spaceName string) error
	MagicLinkURL(rawToken string) string
}

// CaptchaVerifier validates an externally issued anti-spam proof.
type CaptchaVerifier interface {
	Verify(ctx context.Context, proof string) error
}

// IssuerConfig bundles the dependencies of the magic-link issuer.
type IssuerConfig struct {
	Database *gorm.DB
	Audit    *audit.Recorder
	Mailer   MagicLinkMailer
	Captcha  CaptchaVerifier
	Clock    func() time.Time
	Logger   *zap.Logger

	// TokenTTL bounds magic-token validity; defaults to six hours.
	TokenTTL time.Duration
	// RateLimit and RateWindow bound issuance per IP; default 5 per hour.
	RateLimit  int
	RateWindow time.Duration
	// ExposeTokens echoes the raw token in results so deployments without a
	// working mail transport can still be tested. Never set in production.
	ExposeTokens bool
}

// Issuer creates or refreshes the hashed, time-boxed magic token for a space
// and mails the raw token to the requester.
type Issuer struct {
	db           *gorm.DB
	audit        *audit.Recorder
	mailer       MagicLinkMailer
	captcha      CaptchaVerifier
	clock        func() time.Time
	logger       *zap.Logger
	tokenTTL     time.Duration
	rateLimit    int
	rateWindow   time.Duration
	exposeTokens bool
}

// NewIssuer constructs an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
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
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = defaultMagicTokenTTL
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	rateWindow := cfg.RateWindow
	if rateWindow <= 0 {
		rateWindow = defaultRateWindow
	}

	return &Issuer{
		db:           cfg.Database,
		audit:        cfg.Audit,
		mailer:       cfg.Mailer,
		captcha:      cfg.Captcha,
		clock:        clock,
		logger:       logger,
		tokenTTL:     tokenTTL,
		rateLimit:    rateLimit,
		rateWindow:   rateWindow,
		exposeTokens: cfg.ExposeTokens,
	}, nil
}

// IssueRequest carries one magic-link request.
type IssueRequest struct {
	Email        string
	SpaceName    string
	CaptchaProof string
	IPAddress    string
	UserAgent    string
}

// IssueResult acknowledges a successful issuance. MagicToken and MagicLink
// are populated only when the issuer exposes tokens.
type IssueResult struct {
	EmailSent  bool
	MagicToken string
	MagicLink  string
}

// IssueLink validates the request, rate-limits by IP, upserts the space with
// a fresh hashed token, and mails the raw token. Mail dispatch failure does
// not fail the issuance.
func (i *Issuer) IssueLink(ctx context.Context, request IssueRequest) (IssueResult, error) {
	email := strings.ToLower(strings.TrimSpace(request.Email))
	spaceName := strings.TrimSpace(request.SpaceName)

	if !emailPattern.MatchString(email) {
		return IssueResult{}, ErrInvalidEmail
	}
	if spaceName == "" || len(spaceName) > maxSpaceNameLength {
		return IssueResult{}, ErrMissingSpaceName
	}

	if i.captcha != nil {
		if err := i.captcha.Verify(ctx, request.CaptchaProof); err != nil {
			i.logger.Info("captcha verification failed", zap.Error(err))
			return IssueResult{}, fmt.Errorf("%w: %v", ErrCaptchaRejected, err)
		}
	}

	now := i.clock().UTC()
	attempts, err := i.audit.CountByIPSince(ctx, audit.EventAuth, request.IPAddress, now.Add(-i.rateWindow))
	if err != nil {
		return IssueResult{}, fmt.Errorf("auth: counting issuance attempts: %w", err)
	}
	if attempts >= int64(i.rateLimit) {
		_ = i.audit.Record(ctx, audit.Event{
			Type:      audit.EventRateLimit,
			IPAddress: request.IPAddress,
			UserAgent: request.UserAgent,
			Details:   map[string]interface{}{"reason": "too_many_requests", "endpoint": "magic-link"},
		})
		return IssueResult{}, ErrRateLimited
	}

	rawToken := uuid.NewString()
	digest := HashToken(rawToken)
	expiresAt := now.Add(i.tokenTTL)

	var spaceID string
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var space Space
		lookupErr := tx.Where("space_name = ?", spaceName).Take(&space).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			space = Space{
				ID:             uuid.NewString(),
				SpaceName:      spaceName,
				MagicTokenHash: &digest,
				TokenExpiresAt: &expiresAt,
			}
			if err := tx.Create(&space).Error; err != nil {
				return err
			}
		case lookupErr != nil:
			return lookupErr
		default:
			updates := map[string]interface{}{
				"magic_token_hash": digest,
				"token_expires_at": expiresAt,
				"is_authenticated": false,
			}
			if err := tx.Model(&Space{}).Where("id = ?", space.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		spaceID = space.ID

		private := SpacePrivate{SpaceID: space.ID, Email: email}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "space_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "updated_at"}),
		}).Create(&private).Error
	})
	if err != nil {
		return IssueResult{}, fmt.Errorf("auth: persisting magic token: %w", err)
	}

	if err := i.audit.Record(ctx, audit.Event{
		Type:      audit.EventAuth,
		SpaceID:   spaceID,
		IPAddress: request.IPAddress,
		UserAgent: request.UserAgent,
		Details:   map[string]interface{}{"action": "magic_link_requested", "email": email, "space_name": spaceName},
	}); err != nil {
		i.logger.Warn("issuance audit entry not recorded", zap.Error(err))
	}

	result := IssueResult{}
	if i.mailer != nil {
		if err := i.mailer.SendMagicLink(ctx, email, rawToken, spaceName); err != nil {
			// Upload availability must not depend on the mail transport.
			i.logger.Error("magic link email dispatch failed", zap.String("space_name", spaceName), zap.Error(err))
		} else {
			result.EmailSent = true
		}
	}

	if i.exposeTokens {
		result.MagicToken = rawToken
		if i.mailer != nil {
			result.MagicLink = i.mailer.MagicLinkURL(rawToken)
		}
	}
	return result, nil
}
