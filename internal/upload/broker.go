package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/auth"
	"github.com/ooblik/drive-backend/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	// ErrNotFound covers unknown upload ids, wrong owners, and transfers no
	// longer in the expected state alike.
	ErrNotFound = errors.New("upload: file not found")
	// ErrMissingFields rejects init requests without filename, size, or type.
	ErrMissingFields = errors.New("upload: filename, file size and mime type are required")
	// ErrFileTooLarge rejects uploads above the configured cap.
	ErrFileTooLarge = errors.New("upload: file size exceeds the configured maximum")
	// ErrTypeNotAllowed rejects MIME types outside the configured allow-list.
	ErrTypeNotAllowed = errors.New("upload: file type not allowed")
	// ErrMissingUploadID rejects complete calls without a correlation handle.
	ErrMissingUploadID = errors.New("upload: upload id is required")

	errMissingDatabase      = errors.New("upload: database handle is required")
	errMissingSettings      = errors.New("upload: settings store is required")
	errMissingAuditRecorder = errors.New("upload: audit recorder is required")
)

// BrokerConfig bundles the dependencies of the upload broker.
type BrokerConfig struct {
	Database *gorm.DB
	Settings *settings.Store
	Audit    *audit.Recorder
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Broker issues storage keys from the operator-configured naming schema and
// tracks upload lifecycle. The object transfer itself happens out of band.
type Broker struct {
	db       *gorm.DB
	settings *settings.Store
	audit    *audit.Recorder
	clock    func() time.Time
	logger   *zap.Logger
}

// NewBroker constructs a Broker.
func NewBroker(cfg BrokerConfig) (*Broker, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Settings == nil {
		return nil, errMissingSettings
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
	return &Broker{
		db:       cfg.Database,
		settings: cfg.Settings,
		audit:    cfg.Audit,
		clock:    clock,
		logger:   logger,
	}, nil
}

// InitRequest describes a transfer about to start.
type InitRequest struct {
	Filename  string
	FileSize  int64
	MimeType  string
	IPAddress string
	UserAgent string
}

// InitResult carries the issued storage key and correlation handle.
type InitResult struct {
	UploadID string
	FileID   string
	S3Key    string
}

// InitUpload validates the request against the upload policy, issues a
// storage key, and records the pending file. No row is created when
// validation fails.
func (b *Broker) InitUpload(ctx context.Context, session auth.SessionInfo, request InitRequest) (InitResult, error) {
	filename := strings.TrimSpace(request.Filename)
	mimeType := strings.TrimSpace(request.MimeType)
	if filename == "" || request.FileSize <= 0 || mimeType == "" {
		return InitResult{}, ErrMissingFields
	}

	policy, err := b.settings.UploadPolicy(ctx)
	if err != nil {
		return InitResult{}, fmt.Errorf("upload: loading policy: %w", err)
	}
	if policy.MaxFileSize > 0 && request.FileSize > policy.MaxFileSize {
		return InitResult{}, ErrFileTooLarge
	}
	if !policy.Allows(mimeType) {
		return InitResult{}, ErrTypeNotAllowed
	}

	naming, err := b.settings.Naming(ctx)
	if err != nil {
		return InitResult{}, fmt.Errorf("upload: loading naming schema: %w", err)
	}

	now := b.clock().UTC()
	uniqueID := uuid.NewString()
	key := buildStorageKey(keyInputs{
		Config:    naming,
		Now:       now,
		SpaceName: session.SpaceName,
		Filename:  filename,
		UniqueID:  uniqueID,
		Random8:   strings.ReplaceAll(uniqueID, "-", "")[:8],
	})

	file := File{
		ID:           uuid.NewString(),
		SpaceID:      session.SpaceID,
		OriginalName: filename,
		S3Key:        key,
		FileSize:     request.FileSize,
		MimeType:     mimeType,
		UploadStatus: StatusPending,
		UploadID:     uuid.NewString(),
	}
	if err := b.db.WithContext(ctx).Create(&file).Error; err != nil {
		return InitResult{}, fmt.Errorf("upload: recording pending file: %w", err)
	}

	if err := b.audit.Record(ctx, audit.Event{
		Type:      audit.EventUploadInit,
		SpaceID:   session.SpaceID,
		FileID:    file.ID,
		IPAddress: request.IPAddress,
		UserAgent: request.UserAgent,
		Details:   map[string]interface{}{"filename": filename, "file_size": request.FileSize, "mime_type": mimeType, "s3_key": key},
	}); err != nil {
		b.logger.Warn("upload init audit entry not recorded", zap.Error(err))
	}

	return InitResult{UploadID: file.UploadID, FileID: file.ID, S3Key: key}, nil
}

// CompleteUpload transitions a pending transfer to completed. The status
// guard on the UPDATE makes completion single-shot: a transfer already
// completed, concurrently or not, leaves no row to update and the call fails
// with ErrNotFound.
func (b *Broker) CompleteUpload(ctx context.Context, session auth.SessionInfo, uploadID, checksum, ipAddress, userAgent string) (File, error) {
	uploadID = strings.TrimSpace(uploadID)
	if uploadID == "" {
		return File{}, ErrMissingUploadID
	}

	now := b.clock().UTC()
	var file File
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"upload_status": StatusCompleted,
			"checksum":      checksum,
			"completed_at":  now,
		}
		result := tx.Model(&File{}).
			Where("upload_id = ? AND space_id = ? AND upload_status = ?", uploadID, session.SpaceID, StatusPending).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("upload_id = ? AND space_id = ?", uploadID, session.SpaceID).Take(&file).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return File{}, err
		}
		return File{}, fmt.Errorf("upload: completing transfer: %w", err)
	}

	if err := b.audit.Record(ctx, audit.Event{
		Type:      audit.EventUploadComplete,
		SpaceID:   session.SpaceID,
		FileID:    file.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"upload_id": uploadID, "checksum": checksum, "original_name": file.OriginalName},
	}); err != nil {
		b.logger.Warn("upload complete audit entry not recorded", zap.Error(err))
	}

	return file, nil
}

// ListQuery narrows and paginates file listings.
type ListQuery struct {
	Page   int
	Limit  int
	Status string
}

// Pagination describes one result page.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// FileList is one page of a space's files.
type FileList struct {
	Files      []File
	Pagination Pagination
}

// ListFiles returns the caller's files, newest first.
func (b *Broker) ListFiles(ctx context.Context, session auth.SessionInfo, query ListQuery) (FileList, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	scoped := b.db.WithContext(ctx).Model(&File{}).Where("space_id = ?", session.SpaceID)
	if query.Status != "" && query.Status != "all" {
		scoped = scoped.Where("upload_status = ?", query.Status)
	}

	var total int64
	if err := scoped.Count(&total).Error; err != nil {
		return FileList{}, err
	}

	var files []File
	err := scoped.
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&files).
		Error
	if err != nil {
		return FileList{}, err
	}

	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return FileList{
		Files:      files,
		Pagination: Pagination{Page: page, Limit: limit, Total: total, Pages: pages},
	}, nil
}

// DeleteFile soft-deletes an owned, not-yet-deleted file. A second delete of
// the same file fails with ErrNotFound; soft delete is deliberately not
// idempotent at the API level.
func (b *Broker) DeleteFile(ctx context.Context, session auth.SessionInfo, fileID, ipAddress, userAgent string) error {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return ErrNotFound
	}

	var file File
	err := b.db.WithContext(ctx).
		Where("id = ? AND space_id = ? AND upload_status <> ?", fileID, session.SpaceID, StatusDeleted).
		Take(&file).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	err = b.db.WithContext(ctx).
		Model(&File{}).
		Where("id = ?", file.ID).
		Update("upload_status", StatusDeleted).
		Error
	if err != nil {
		return fmt.Errorf("upload: deleting file: %w", err)
	}

	if err := b.audit.Record(ctx, audit.Event{
		Type:      audit.EventFileDelete,
		SpaceID:   session.SpaceID,
		FileID:    file.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"original_name": file.OriginalName, "s3_key": file.S3Key},
	}); err != nil {
		b.logger.Warn("file delete audit entry not recorded", zap.Error(err))
	}
	return nil
}
