package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/ooblik/drive-backend/internal/admin"
	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/auth"
	"github.com/ooblik/drive-backend/internal/settings"
	"github.com/ooblik/drive-backend/internal/upload"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Retention windows. Cleanup deletes rows only well past their expiry so
// operators can still inspect recently expired state.
const (
	userSessionRetention  = 7 * 24 * time.Hour
	adminSessionRetention = 30 * 24 * time.Hour
	logRetention          = 90 * 24 * time.Hour
)

var (
	errMissingDatabase      = errors.New("cleanup: database handle is required")
	errMissingAuditRecorder = errors.New("cleanup: audit recorder is required")
	errMissingSettings      = errors.New("cleanup: settings store is required")
)

// SchedulerConfig bundles the dependencies of the cleanup scheduler.
type SchedulerConfig struct {
	Database *gorm.DB
	Audit    *audit.Recorder
	Settings *settings.Store
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Scheduler runs the periodic maintenance jobs: session and token pruning,
// log retention, and daily statistics. Every job uses conditional
// UPDATE/DELETE predicates only, so running next to live traffic is safe.
type Scheduler struct {
	scheduler *gocron.Scheduler
	db        *gorm.DB
	audit     *audit.Recorder
	settings  *settings.Store
	clock     func() time.Time
	logger    *zap.Logger
}

// NewScheduler constructs a Scheduler with all jobs registered but not yet
// running.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Audit == nil {
		return nil, errMissingAuditRecorder
	}
	if cfg.Settings == nil {
		return nil, errMissingSettings
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		db:        cfg.Database,
		audit:     cfg.Audit,
		settings:  cfg.Settings,
		clock:     clock,
		logger:    logger,
	}
	if err := s.registerJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerJobs() error {
	jobs := []struct {
		name     string
		schedule func(*gocron.Scheduler) *gocron.Scheduler
		run      func(context.Context) error
	}{
		{
			name:     "session_cleanup",
			schedule: func(sch *gocron.Scheduler) *gocron.Scheduler { return sch.Every(1).Hour() },
			run:      func(ctx context.Context) error { _, err := s.CleanupExpiredSessions(ctx); return err },
		},
		{
			name:     "token_cleanup",
			schedule: func(sch *gocron.Scheduler) *gocron.Scheduler { return sch.Every(4).Hours() },
			run:      func(ctx context.Context) error { _, err := s.CleanupExpiredTokens(ctx); return err },
		},
		{
			name:     "log_cleanup",
			schedule: func(sch *gocron.Scheduler) *gocron.Scheduler { return sch.Cron("0 2 * * *") },
			run:      func(ctx context.Context) error { _, err := s.CleanupOldLogs(ctx); return err },
		},
		{
			name:     "daily_stats",
			schedule: func(sch *gocron.Scheduler) *gocron.Scheduler { return sch.Cron("0 1 * * *") },
			run:      func(ctx context.Context) error { _, err := s.GenerateDailyStats(ctx); return err },
		},
	}

	for _, job := range jobs {
		name := job.name
		run := job.run
		_, err := job.schedule(s.scheduler).Tag(name).Do(func() {
			if err := run(context.Background()); err != nil {
				s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("cleanup: registering %s: %w", name, err)
		}
	}
	return nil
}

// Start begins running the registered jobs asynchronously.
func (s *Scheduler) Start() {
	s.logger.Info("cleanup scheduler starting", zap.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.StartAsync()
}

// Stop halts all scheduled jobs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.logger.Info("cleanup scheduler stopped")
}

// JobStatus reports one job for the health endpoint.
type JobStatus struct {
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	NextRun time.Time `json:"next_run"`
}

// JobsStatus lists all registered jobs.
func (s *Scheduler) JobsStatus() []JobStatus {
	jobs := s.scheduler.Jobs()
	statuses := make([]JobStatus, 0, len(jobs))
	for _, job := range jobs {
		name := ""
		if tags := job.Tags(); len(tags) > 0 {
			name = tags[0]
		}
		statuses = append(statuses, JobStatus{
			Name:    name,
			Running: s.scheduler.IsRunning(),
			NextRun: job.NextRun(),
		})
	}
	return statuses
}

// SessionCleanupStats summarizes one session cleanup pass.
type SessionCleanupStats struct {
	ExpiredUserSessions  int64
	DeletedUserSessions  int64
	ExpiredAdminSessions int64
	DeletedAdminSessions int64
}

// CleanupExpiredSessions deactivates expired sessions and deletes those past
// their retention window.
func (s *Scheduler) CleanupExpiredSessions(ctx context.Context) (SessionCleanupStats, error) {
	now := s.clock().UTC()
	db := s.db.WithContext(ctx)
	var stats SessionCleanupStats

	result := db.Model(&auth.UserSession{}).
		Where("expires_at < ? AND is_active = ?", now, true).
		Update("is_active", false)
	if result.Error != nil {
		return stats, result.Error
	}
	stats.ExpiredUserSessions = result.RowsAffected

	result = db.Where("expires_at < ?", now.Add(-userSessionRetention)).Delete(&auth.UserSession{})
	if result.Error != nil {
		return stats, result.Error
	}
	stats.DeletedUserSessions = result.RowsAffected

	result = db.Model(&admin.Session{}).
		Where("expires_at < ? AND is_active = ?", now, true).
		Update("is_active", false)
	if result.Error != nil {
		return stats, result.Error
	}
	stats.ExpiredAdminSessions = result.RowsAffected

	result = db.Where("expires_at < ?", now.Add(-adminSessionRetention)).Delete(&admin.Session{})
	if result.Error != nil {
		return stats, result.Error
	}
	stats.DeletedAdminSessions = result.RowsAffected

	s.logger.Info("session cleanup finished",
		zap.Int64("expired_user_sessions", stats.ExpiredUserSessions),
		zap.Int64("deleted_user_sessions", stats.DeletedUserSessions),
		zap.Int64("expired_admin_sessions", stats.ExpiredAdminSessions),
		zap.Int64("deleted_admin_sessions", stats.DeletedAdminSessions))

	_ = s.audit.Record(ctx, audit.Event{
		Type: audit.EventSessionCleanup,
		Details: map[string]interface{}{
			"expired_user_sessions":  stats.ExpiredUserSessions,
			"deleted_user_sessions":  stats.DeletedUserSessions,
			"expired_admin_sessions": stats.ExpiredAdminSessions,
			"deleted_admin_sessions": stats.DeletedAdminSessions,
		},
	})
	return stats, nil
}

// CleanupExpiredTokens clears magic token hashes past their expiry.
func (s *Scheduler) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Model(&auth.Space{}).
		Where("token_expires_at < ? AND magic_token_hash IS NOT NULL", now).
		Updates(map[string]interface{}{"magic_token_hash": nil, "token_expires_at": nil})
	if result.Error != nil {
		return 0, result.Error
	}

	s.logger.Info("expired magic tokens cleared", zap.Int64("cleaned_tokens", result.RowsAffected))
	_ = s.audit.Record(ctx, audit.Event{
		Type:    audit.EventTokenCleanup,
		Details: map[string]interface{}{"cleaned_tokens": result.RowsAffected},
	})
	return result.RowsAffected, nil
}

// CleanupOldLogs deletes audit entries past the retention window.
func (s *Scheduler) CleanupOldLogs(ctx context.Context) (int64, error) {
	deleted, err := s.audit.DeleteOlderThan(ctx, s.clock().UTC().Add(-logRetention))
	if err != nil {
		return 0, err
	}

	s.logger.Info("old audit entries deleted", zap.Int64("deleted_logs", deleted))
	_ = s.audit.Record(ctx, audit.Event{
		Type:    audit.EventLogCleanup,
		Details: map[string]interface{}{"deleted_logs": deleted},
	})
	return deleted, nil
}

// DailyStats summarizes the previous day.
type DailyStats struct {
	Date             string `json:"date"`
	NewSpaces        int64  `json:"new_spaces"`
	CompletedUploads int64  `json:"completed_uploads"`
	TotalSizeBytes   int64  `json:"total_size_bytes"`
	UniqueClients    int64  `json:"unique_clients"`
	AuthAttempts     int64  `json:"auth_attempts"`
}

// GenerateDailyStats aggregates yesterday's activity and persists it into the
// config store under a dated key.
func (s *Scheduler) GenerateDailyStats(ctx context.Context) (DailyStats, error) {
	now := s.clock().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(-24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	db := s.db.WithContext(ctx)
	stats := DailyStats{Date: dayStart.Format("2006-01-02")}

	err := db.Model(&auth.Space{}).
		Where("created_at >= ? AND created_at < ?", dayStart, dayEnd).
		Count(&stats.NewSpaces).
		Error
	if err != nil {
		return DailyStats{}, err
	}

	type uploadTotals struct {
		Count int64
		Size  int64
	}
	var totals uploadTotals
	err = db.Model(&upload.File{}).
		Select("COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS size").
		Where("upload_status = ? AND completed_at >= ? AND completed_at < ?", upload.StatusCompleted, dayStart, dayEnd).
		Scan(&totals).
		Error
	if err != nil {
		return DailyStats{}, err
	}
	stats.CompletedUploads = totals.Count
	stats.TotalSizeBytes = totals.Size

	err = db.Model(&audit.Entry{}).
		Where("created_at >= ? AND created_at < ?", dayStart, dayEnd).
		Distinct("ip_address").
		Count(&stats.UniqueClients).
		Error
	if err != nil {
		return DailyStats{}, err
	}

	err = db.Model(&audit.Entry{}).
		Where("event_type = ? AND created_at >= ? AND created_at < ?", audit.EventAuth, dayStart, dayEnd).
		Count(&stats.AuthAttempts).
		Error
	if err != nil {
		return DailyStats{}, err
	}

	if err := s.settings.Set(ctx, "daily_stats_"+stats.Date, stats); err != nil {
		return DailyStats{}, fmt.Errorf("cleanup: persisting daily stats: %w", err)
	}

	s.logger.Info("daily stats generated",
		zap.String("date", stats.Date),
		zap.Int64("completed_uploads", stats.CompletedUploads),
		zap.Int64("total_size_bytes", stats.TotalSizeBytes))

	_ = s.audit.Record(ctx, audit.Event{
		Type: audit.EventDailyStats,
		Details: map[string]interface{}{
			"date":              stats.Date,
			"new_spaces":        stats.NewSpaces,
			"completed_uploads": stats.CompletedUploads,
			"total_size_bytes":  stats.TotalSizeBytes,
			"unique_clients":    stats.UniqueClients,
			"auth_attempts":     stats.AuthAttempts,
		},
	})
	return stats, nil
}

// RunManual executes one cleanup kind outside its schedule.
func (s *Scheduler) RunManual(ctx context.Context, kind string) error {
	switch kind {
	case "sessions":
		_, err := s.CleanupExpiredSessions(ctx)
		return err
	case "tokens":
		_, err := s.CleanupExpiredTokens(ctx)
		return err
	case "logs":
		_, err := s.CleanupOldLogs(ctx)
		return err
	case "stats":
		_, err := s.GenerateDailyStats(ctx)
		return err
	default:
		return fmt.Errorf("cleanup: unknown cleanup kind %q", kind)
	}
}
