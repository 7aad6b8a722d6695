package settings

import (
	"fmt"
	"strings"
)

// DefaultNamingSchema is used until an operator configures one.
const DefaultNamingSchema = "{yyyy}/{mm}/{space}/{basename}-{random8}.{ext}"

// NamingOptions control post-substitution normalization of storage keys.
type NamingOptions struct {
	Lowercase             bool `json:"lowercase"`
	ReplaceSpacesWithDash bool `json:"replace_spaces_with_dash"`
	StripAccents          bool `json:"strip_accents"`
	MaxLength             int  `json:"max_length"`
}

// NamingConfig describes how storage keys are derived from uploads.
type NamingConfig struct {
	Schema  string        `json:"schema"`
	Options NamingOptions `json:"options"`
}

// Validate rejects unusable naming configurations at read time.
func (c NamingConfig) Validate() error {
	if strings.TrimSpace(c.Schema) == "" {
		return fmt.Errorf("naming schema must not be empty")
	}
	if c.Options.MaxLength < 0 {
		return fmt.Errorf("naming max length must not be negative")
	}
	return nil
}

// SMTPConfig describes the outbound mail transport.
type SMTPConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Secure      bool   `json:"secure"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FromName    string `json:"from_name"`
	FromAddress string `json:"from_address"`
}

// Validate rejects incomplete SMTP configurations at read time.
func (c SMTPConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("smtp host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("smtp port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.FromAddress) == "" && strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("smtp from address or username required")
	}
	return nil
}

// Sender returns the from address, falling back to the SMTP username the way
// operators usually configure hosted transports.
func (c SMTPConfig) Sender() string {
	if strings.TrimSpace(c.FromAddress) != "" {
		return c.FromAddress
	}
	return c.Username
}

// S3Config describes the object storage account uploads are keyed against.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`
	UseSSL          bool   `json:"use_ssl"`
}

// Validate rejects incomplete S3 configurations at read time.
func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("s3 endpoint must not be empty")
	}
	if strings.TrimSpace(c.AccessKeyID) == "" || strings.TrimSpace(c.SecretAccessKey) == "" {
		return fmt.Errorf("s3 credentials must not be empty")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("s3 bucket must not be empty")
	}
	return nil
}

// UploadPolicy caps uploads. Zero values mean unlimited.
type UploadPolicy struct {
	MaxFileSize      int64    `json:"max_file_size"`
	AllowedMimeTypes []string `json:"allowed_mime_types"`
}

// Validate rejects unusable upload policies at read time.
func (p UploadPolicy) Validate() error {
	if p.MaxFileSize < 0 {
		return fmt.Errorf("max file size must not be negative")
	}
	for _, mimeType := range p.AllowedMimeTypes {
		if strings.TrimSpace(mimeType) == "" {
			return fmt.Errorf("allowed mime types must not contain empty entries")
		}
	}
	return nil
}

// Allows reports whether the policy admits the given MIME type. An empty
// allow-list admits everything.
func (p UploadPolicy) Allows(mimeType string) bool {
	if len(p.AllowedMimeTypes) == 0 {
		return true
	}
	for _, allowed := range p.AllowedMimeTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(mimeType)) {
			return true
		}
	}
	return false
}
