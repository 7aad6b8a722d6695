package audit

import "time"

// Event types recorded in the audit trail. The auth event doubles as the
// data source for issuance rate limiting.
const (
	EventAuth           = "auth"
	EventUploadInit     = "upload_init"
	EventUploadComplete = "completed"
	EventFileDelete     = "delete"
	EventRateLimit      = "rate_limit"
	EventAdminLogin     = "admin_login"
	EventAdminLogout    = "admin_logout"
	EventAdminConfig    = "admin_config"
	EventAdminUpdate    = "admin_update"
	EventAdminSMTPTest  = "admin_smtp_test"
	EventAdminS3Test    = "admin_s3_test"
	EventSessionCleanup = "session_cleanup"
	EventTokenCleanup   = "cleanup_expired_tokens"
	EventLogCleanup     = "log_cleanup"
	EventDailyStats     = "daily_stats"
)

// Entry is an append-only audit record. Details holds a JSON object and must
// never contain raw tokens or passwords.
type Entry struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	EventType string    `gorm:"column:event_type;size:64;not null;index"`
	SpaceID   *string   `gorm:"column:space_id;size:36;index"`
	FileID    *string   `gorm:"column:file_id;size:36"`
	IPAddress string    `gorm:"column:ip_address;size:64;index:idx_logs_ip_created"`
	UserAgent string    `gorm:"column:user_agent;size:512"`
	Details   string    `gorm:"column:details"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_logs_ip_created"`
}

// TableName exposes the table backing audit entries.
func (Entry) TableName() string {
	return "logs"
}
