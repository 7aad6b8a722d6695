package admin

import "time"

// User is a back-office operator authenticated by username and password hash.
type User struct {
	ID           string     `gorm:"column:id;primaryKey;size:36;not null"`
	Username     string     `gorm:"column:username;size:190;not null;uniqueIndex"`
	PasswordHash string     `gorm:"column:password_hash;size:72;not null"`
	Email        string     `gorm:"column:email;size:320"`
	IsActive     bool       `gorm:"column:is_active;not null"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing admin users.
func (User) TableName() string {
	return "admin_users"
}

// Session mirrors user sessions for the separately privileged admin actors.
type Session struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null"`
	AdminUserID  string    `gorm:"column:admin_user_id;size:36;not null;index"`
	SessionToken string    `gorm:"column:session_token;size:36;not null;uniqueIndex"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index"`
	IsActive     bool      `gorm:"column:is_active;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing admin sessions.
func (Session) TableName() string {
	return "admin_sessions"
}
