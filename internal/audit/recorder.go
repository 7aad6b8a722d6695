package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("audit: database handle is required")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Event describes a single auditable action.
type Event struct {
	Type      string
	SpaceID   string
	FileID    string
	IPAddress string
	UserAgent string
	Details   map[string]interface{}
}

// RecorderConfig describes the dependencies of the audit recorder.
type RecorderConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Recorder appends audit entries and answers the windowed counting queries
// behind issuance rate limiting.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: cfg.Database, logger: logger}, nil
}

// Record appends one entry. Callers on non-critical paths may ignore the
// returned error; the failure is logged here either way.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("audit: event type is required")
	}

	details := "{}"
	if len(event.Details) > 0 {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("audit: encoding details: %w", err)
		}
		details = string(encoded)
	}

	entry := Entry{
		EventType: event.Type,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Details:   details,
	}
	if event.SpaceID != "" {
		entry.SpaceID = &event.SpaceID
	}
	if event.FileID != "" {
		entry.FileID = &event.FileID
	}

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.logger.Error("audit entry not recorded", zap.String("event_type", event.Type), zap.Error(err))
		return err
	}
	return nil
}

// CountByIPSince returns how many entries of the given type the IP produced
// after the cutoff.
func (r *Recorder) CountByIPSince(ctx context.Context, eventType, ipAddress string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where("event_type = ? AND ip_address = ? AND created_at > ?", eventType, ipAddress, since).
		Count(&count).
		Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListQuery narrows and paginates audit listings.
type ListQuery struct {
	Page      int
	Limit     int
	EventType string
}

// List returns one page of entries, newest first, with the unpaged total.
func (r *Recorder) List(ctx context.Context, query ListQuery) ([]Entry, int64, error) {
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

	scoped := r.db.WithContext(ctx).Model(&Entry{})
	if query.EventType != "" {
		scoped = scoped.Where("event_type = ?", query.EventType)
	}

	var total int64
	if err := scoped.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []Entry
	err := scoped.
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&entries).
		Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// DeleteOlderThan removes entries created before the cutoff and reports how
// many were deleted.
func (r *Recorder) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Entry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
