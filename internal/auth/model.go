package auth

import "time"

// Space is a named client-facing transfer area. The magic token digest lives
// here between issuance and consumption; it is cleared on redemption.
type Space struct {
	ID              string     `gorm:"column:id;primaryKey;size:36;not null"`
	SpaceName       string     `gorm:"column:space_name;size:190;not null;index"`
	MagicTokenHash  *string    `gorm:"column:magic_token_hash;size:64;index"`
	TokenExpiresAt  *time.Time `gorm:"column:token_expires_at"`
	IsAuthenticated bool       `gorm:"column:is_authenticated;not null"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing transfer spaces.
func (Space) TableName() string {
	return "spaces"
}

// SpacePrivate keeps the contact address out of the space row so that
// space-keyed lookups never leak it.
type SpacePrivate struct {
	SpaceID   string    `gorm:"column:space_id;primaryKey;size:36;not null"`
	Email     string    `gorm:"column:email;size:320;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing private space contact data.
func (SpacePrivate) TableName() string {
	return "spaces_private"
}

// UserSession is the short-lived credential issued when a magic token is
// consumed. A space may hold several concurrent sessions.
type UserSession struct {
	ID             string    `gorm:"column:id;primaryKey;size:36;not null"`
	SpaceID        string    `gorm:"column:space_id;size:36;not null;index"`
	SessionToken   string    `gorm:"column:session_token;size:36;not null;uniqueIndex"`
	ExpiresAt      time.Time `gorm:"column:expires_at;not null;index"`
	IsActive       bool      `gorm:"column:is_active;not null"`
	LastAccessedAt time.Time `gorm:"column:last_accessed_at"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing user sessions.
func (UserSession) TableName() string {
	return "user_sessions"
}
