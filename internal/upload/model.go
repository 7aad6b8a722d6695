package upload

import "time"

// Upload lifecycle states. Completed and deleted are terminal; there is no
// path back to pending.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusDeleted   = "deleted"
)

// File tracks one brokered transfer. UploadID is the client-facing
// correlation handle, deliberately decoupled from the primary key.
type File struct {
	ID           string     `gorm:"column:id;primaryKey;size:36;not null"`
	SpaceID      string     `gorm:"column:space_id;size:36;not null;index"`
	OriginalName string     `gorm:"column:original_name;size:512;not null"`
	S3Key        string     `gorm:"column:s3_key;size:1024;not null"`
	FileSize     int64      `gorm:"column:file_size;not null"`
	MimeType     string     `gorm:"column:mime_type;size:190;not null"`
	UploadStatus string     `gorm:"column:upload_status;size:16;not null;index"`
	UploadID     string     `gorm:"column:upload_id;size:36;not null;uniqueIndex"`
	Checksum     string     `gorm:"column:checksum;size:128"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing brokered files.
func (File) TableName() string {
	return "files"
}
