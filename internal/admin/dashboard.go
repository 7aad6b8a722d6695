package admin

import (
	"context"
	"time"

	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/auth"
	"github.com/ooblik/drive-backend/internal/upload"
)

// DashboardStats aggregates the headline numbers of the back-office landing
// page.
type DashboardStats struct {
	TotalSpaces   int64 `json:"total_spaces"`
	TotalFiles    int64 `json:"total_files"`
	TotalSize     int64 `json:"total_size"`
	UploadsToday  int64 `json:"uploads_today"`
	ActivityToday int64 `json:"activity_today"`
}

// ActiveSpace ranks a space by its completed uploads.
type ActiveSpace struct {
	SpaceName string `json:"space_name"`
	FileCount int64  `json:"file_count"`
	TotalSize int64  `json:"total_size"`
}

// Dashboard is the full back-office overview payload.
type Dashboard struct {
	Stats          DashboardStats `json:"stats"`
	RecentActivity []audit.Entry  `json:"recent_activity"`
	ActiveSpaces   []ActiveSpace  `json:"active_spaces"`
}

// Dashboard assembles totals, the last week's activity, and the most active
// spaces.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	now := s.clock().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	db := s.db.WithContext(ctx)
	var dashboard Dashboard

	if err := db.Model(&auth.Space{}).Count(&dashboard.Stats.TotalSpaces).Error; err != nil {
		return Dashboard{}, err
	}

	type fileTotals struct {
		Count int64
		Size  int64
	}
	var totals fileTotals
	err := db.Model(&upload.File{}).
		Select("COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS size").
		Where("upload_status = ?", upload.StatusCompleted).
		Scan(&totals).
		Error
	if err != nil {
		return Dashboard{}, err
	}
	dashboard.Stats.TotalFiles = totals.Count
	dashboard.Stats.TotalSize = totals.Size

	err = db.Model(&upload.File{}).
		Where("upload_status = ? AND created_at > ?", upload.StatusCompleted, dayAgo).
		Count(&dashboard.Stats.UploadsToday).
		Error
	if err != nil {
		return Dashboard{}, err
	}

	err = db.Model(&audit.Entry{}).
		Where("created_at > ?", dayAgo).
		Count(&dashboard.Stats.ActivityToday).
		Error
	if err != nil {
		return Dashboard{}, err
	}

	err = db.Model(&audit.Entry{}).
		Where("created_at > ?", weekAgo).
		Order("created_at DESC").
		Limit(10).
		Find(&dashboard.RecentActivity).
		Error
	if err != nil {
		return Dashboard{}, err
	}

	err = db.Table("spaces").
		Select("spaces.space_name, COUNT(files.id) AS file_count, COALESCE(SUM(files.file_size), 0) AS total_size").
		Joins("LEFT JOIN files ON files.space_id = spaces.id AND files.upload_status = ?", upload.StatusCompleted).
		Group("spaces.id, spaces.space_name").
		Order("file_count DESC").
		Limit(10).
		Scan(&dashboard.ActiveSpaces).
		Error
	if err != nil {
		return Dashboard{}, err
	}

	return dashboard, nil
}
