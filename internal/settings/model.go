package settings

import "time"

// Record is one configuration entry: an opaque JSON value under a string key.
type Record struct {
	Key       string    `gorm:"column:key;primaryKey;size:190;not null"`
	Value     string    `gorm:"column:value;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing configuration records.
func (Record) TableName() string {
	return "config"
}

// Well-known configuration keys.
const (
	KeyNamingSchema = "naming_schema"
	KeySMTPConfig   = "smtp_config"
	KeyS3Config     = "s3_config"
	KeyUploadPolicy = "upload_policy"
)
