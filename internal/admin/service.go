package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ooblik/drive-backend/internal/audit"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultSessionTTL = 8 * time.Hour
	minPasswordLength = 6
)

var (
	// ErrInvalidCredentials keeps username and password failures
	// indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("admin: invalid credentials")
	// ErrUnauthorized means the presented admin session is unusable.
	ErrUnauthorized = errors.New("admin: session invalid or expired")
	// ErrPasswordTooShort rejects weak replacement passwords.
	ErrPasswordTooShort = errors.New("admin: password must be at least 6 characters")
	// ErrInvalidEmail rejects malformed replacement addresses.
	ErrInvalidEmail = errors.New("admin: invalid email")

	errMissingDatabase      = errors.New("admin: database handle is required")
	errMissingAuditRecorder = errors.New("admin: audit recorder is required")
)

// ServiceConfig bundles the dependencies of the admin service.
type ServiceConfig struct {
	Database *gorm.DB
	Audit    *audit.Recorder
	Clock    func() time.Time
	Logger   *zap.Logger

	// SessionTTL bounds admin sessions; defaults to eight hours.
	SessionTTL time.Duration
	// BcryptCost overrides the hashing cost, mainly to keep tests fast.
	BcryptCost int
}

// Service authenticates back-office operators and manages their sessions and
// profile updates.
type Service struct {
	db         *gorm.DB
	audit      *audit.Recorder
	clock      func() time.Time
	logger     *zap.Logger
	sessionTTL time.Duration
	bcryptCost int
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
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
	bcryptCost := cfg.BcryptCost
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         cfg.Database,
		audit:      cfg.Audit,
		clock:      clock,
		logger:     logger,
		sessionTTL: sessionTTL,
		bcryptCost: bcryptCost,
	}, nil
}

// Info describes an authenticated admin.
type Info struct {
	ID          string
	Username    string
	Email       string
	LastLoginAt *time.Time
}

// LoginResult carries a freshly issued admin session.
type LoginResult struct {
	SessionToken string
	ExpiresAt    time.Time
	User         Info
}

// CreateUser provisions an admin account. Used by the bootstrap CLI command.
func (s *Service) CreateUser(ctx context.Context, username, password, email string) (Info, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Info{}, fmt.Errorf("admin: username is required")
	}
	if len(password) < minPasswordLength {
		return Info{}, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return Info{}, fmt.Errorf("admin: hashing password: %w", err)
	}

	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Email:        strings.TrimSpace(email),
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return Info{}, fmt.Errorf("admin: creating user: %w", err)
	}
	return Info{ID: user.ID, Username: user.Username, Email: user.Email}, nil
}

// Login verifies credentials and issues a session.
func (s *Service) Login(ctx context.Context, username, password, ipAddress, userAgent string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("username = ? AND is_active = ?", username, true).
		Take(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	now := s.clock().UTC()
	session := Session{
		ID:           uuid.NewString(),
		AdminUserID:  user.ID,
		SessionToken: uuid.NewString(),
		ExpiresAt:    now.Add(s.sessionTTL),
		IsActive:     true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		return tx.Model(&User{}).Where("id = ?", user.ID).Update("last_login_at", now).Error
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("admin: creating session: %w", err)
	}

	if err := s.audit.Record(ctx, audit.Event{
		Type:      audit.EventAdminLogin,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"admin_id": user.ID, "username": user.Username},
	}); err != nil {
		s.logger.Warn("admin login audit entry not recorded", zap.Error(err))
	}

	return LoginResult{
		SessionToken: session.SessionToken,
		ExpiresAt:    session.ExpiresAt,
		User:         Info{ID: user.ID, Username: user.Username, Email: user.Email, LastLoginAt: &now},
	}, nil
}

// Logout invalidates the presented session.
func (s *Service) Logout(ctx context.Context, sessionToken, ipAddress, userAgent string) error {
	info, err := s.Verify(ctx, sessionToken)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Model(&Session{}).
		Where("session_token = ?", sessionToken).
		Update("is_active", false).
		Error
	if err != nil {
		return fmt.Errorf("admin: invalidating session: %w", err)
	}

	if err := s.audit.Record(ctx, audit.Event{
		Type:      audit.EventAdminLogout,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"admin_id": info.ID, "username": info.Username},
	}); err != nil {
		s.logger.Warn("admin logout audit entry not recorded", zap.Error(err))
	}
	return nil
}

type adminSessionRow struct {
	AdminUserID string
	Username    string
	Email       string
	LastLoginAt *time.Time
}

// Verify resolves an admin session token to the backing user. Both the
// session and the user must be active.
func (s *Service) Verify(ctx context.Context, sessionToken string) (Info, error) {
	token := strings.TrimSpace(sessionToken)
	if token == "" {
		return Info{}, ErrUnauthorized
	}

	now := s.clock().UTC()
	var row adminSessionRow
	err := s.db.WithContext(ctx).
		Table("admin_sessions").
		Select("admin_sessions.admin_user_id, admin_users.username, admin_users.email, admin_users.last_login_at").
		Joins("JOIN admin_users ON admin_users.id = admin_sessions.admin_user_id").
		Where("admin_sessions.session_token = ? AND admin_sessions.expires_at > ? AND admin_sessions.is_active = ? AND admin_users.is_active = ?",
			token, now, true, true).
		Take(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Info{}, ErrUnauthorized
	}
	if err != nil {
		return Info{}, err
	}
	return Info{ID: row.AdminUserID, Username: row.Username, Email: row.Email, LastLoginAt: row.LastLoginAt}, nil
}

// UpdatePassword replaces the admin's password hash.
func (s *Service) UpdatePassword(ctx context.Context, adminID, newPassword, ipAddress, userAgent string) error {
	if len(newPassword) < minPasswordLength {
		return ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("admin: hashing password: %w", err)
	}

	err = s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", adminID).
		Update("password_hash", string(hash)).
		Error
	if err != nil {
		return fmt.Errorf("admin: updating password: %w", err)
	}

	if err := s.audit.Record(ctx, audit.Event{
		Type:      audit.EventAdminUpdate,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"admin_id": adminID, "action": "password_changed"},
	}); err != nil {
		s.logger.Warn("admin update audit entry not recorded", zap.Error(err))
	}
	return nil
}

// UpdateEmail replaces the admin's contact address.
func (s *Service) UpdateEmail(ctx context.Context, adminID, email, ipAddress, userAgent string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}

	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", adminID).
		Update("email", email).
		Error
	if err != nil {
		return fmt.Errorf("admin: updating email: %w", err)
	}

	if err := s.audit.Record(ctx, audit.Event{
		Type:      audit.EventAdminUpdate,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"admin_id": adminID, "action": "email_changed", "new_email": email},
	}); err != nil {
		s.logger.Warn("admin update audit entry not recorded", zap.Error(err))
	}
	return nil
}
