package upload

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/auth"
	"github.com/ooblik/drive-backend/internal/settings"
	"gorm.io/gorm"
)

func newTestBroker(t *testing.T, clock func() time.Time) (*Broker, *settings.Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:upload_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&File{}, &settings.Record{}, &audit.Entry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := settings.NewStore(db)
	if err != nil {
		t.Fatalf("failed to build settings store: %v", err)
	}
	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build audit recorder: %v", err)
	}
	broker, err := NewBroker(BrokerConfig{
		Database: db,
		Settings: store,
		Audit:    recorder,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to build broker: %v", err)
	}
	return broker, store, db
}

func testSession() auth.SessionInfo {
	return auth.SessionInfo{
		SessionID: uuid.NewString(),
		SpaceID:   uuid.NewString(),
		SpaceName: "test-space",
	}
}

func TestInitUploadIssuesKeyAndRecordsPendingFile(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	broker, _, db := newTestBroker(t, func() time.Time { return now })
	session := testSession()

	result, err := broker.InitUpload(context.Background(), session, InitRequest{
		Filename: "quarterly report.pdf",
		FileSize: 2048,
		MimeType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UploadID == "" || result.FileID == "" {
		t.Fatalf("expected identifiers, got %+v", result)
	}
	if result.S3Key == "" {
		t.Fatalf("expected a storage key")
	}

	var file File
	if err := db.Where("id = ?", result.FileID).Take(&file).Error; err != nil {
		t.Fatalf("failed to load file: %v", err)
	}
	if file.UploadStatus != StatusPending {
		t.Fatalf("expected pending status, got %q", file.UploadStatus)
	}
	if file.SpaceID != session.SpaceID {
		t.Fatalf("expected file to belong to the session space")
	}
	if file.OriginalName != "quarterly report.pdf" {
		t.Fatalf("expected original name to be preserved, got %q", file.OriginalName)
	}

	var count int64
	if err := db.Model(&audit.Entry{}).Where("event_type = ?", audit.EventUploadInit).Count(&count).Error; err != nil {
		t.Fatalf("failed to count audit entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one init audit entry, got %d", count)
	}
}

func TestInitUploadEnforcesPolicyBeforePersisting(t *testing.T) {
	broker, store, db := newTestBroker(t, time.Now)
	ctx := context.Background()
	session := testSession()

	policy := settings.UploadPolicy{MaxFileSize: 1024, AllowedMimeTypes: []string{"application/pdf"}}
	if err := store.Set(ctx, settings.KeyUploadPolicy, policy); err != nil {
		t.Fatalf("failed to store policy: %v", err)
	}

	_, err := broker.InitUpload(ctx, session, InitRequest{Filename: "big.pdf", FileSize: 4096, MimeType: "application/pdf"})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	_, err = broker.InitUpload(ctx, session, InitRequest{Filename: "pic.png", FileSize: 512, MimeType: "image/png"})
	if !errors.Is(err, ErrTypeNotAllowed) {
		t.Fatalf("expected ErrTypeNotAllowed, got %v", err)
	}

	_, err = broker.InitUpload(ctx, session, InitRequest{Filename: "", FileSize: 512, MimeType: "application/pdf"})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}

	var count int64
	if err := db.Model(&File{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count files: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rejected requests to leave no rows, got %d", count)
	}
}

func TestCompleteUploadIsSingleShot(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	broker, _, db := newTestBroker(t, func() time.Time { return now })
	ctx := context.Background()
	session := testSession()

	initiated, err := broker.InitUpload(ctx, session, InitRequest{Filename: "doc.pdf", FileSize: 100, MimeType: "application/pdf"})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	file, err := broker.CompleteUpload(ctx, session, initiated.UploadID, "sha256:abc", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.UploadStatus != StatusCompleted {
		t.Fatalf("expected completed status, got %q", file.UploadStatus)
	}
	if file.CompletedAt == nil || !file.CompletedAt.Equal(now) {
		t.Fatalf("expected completion timestamp, got %v", file.CompletedAt)
	}
	if file.Checksum != "sha256:abc" {
		t.Fatalf("expected checksum to be stored, got %q", file.Checksum)
	}

	if _, err := broker.CompleteUpload(ctx, session, initiated.UploadID, "sha256:abc", "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second completion to fail, got %v", err)
	}

	var stored File
	if err := db.Where("upload_id = ?", initiated.UploadID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload file: %v", err)
	}
	if stored.UploadStatus != StatusCompleted {
		t.Fatalf("expected stored status completed, got %q", stored.UploadStatus)
	}
}

func TestCompleteUploadRejectsAlreadyCompletedTransfer(t *testing.T) {
	broker, _, db := newTestBroker(t, time.Now)
	ctx := context.Background()
	session := testSession()

	initiated, err := broker.InitUpload(ctx, session, InitRequest{Filename: "doc.pdf", FileSize: 100, MimeType: "application/pdf"})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	// A competing writer finished the transfer between the caller's init and
	// complete.
	err = db.Model(&File{}).
		Where("upload_id = ?", initiated.UploadID).
		Updates(map[string]interface{}{"upload_status": StatusCompleted, "checksum": "sha256:first"}).
		Error
	if err != nil {
		t.Fatalf("failed to complete transfer out of band: %v", err)
	}

	if _, err := broker.CompleteUpload(ctx, session, initiated.UploadID, "sha256:second", "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected the losing completion to fail, got %v", err)
	}

	var stored File
	if err := db.Where("upload_id = ?", initiated.UploadID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload file: %v", err)
	}
	if stored.Checksum != "sha256:first" {
		t.Fatalf("expected the first writer's checksum to survive, got %q", stored.Checksum)
	}
}

func TestCompleteUploadScopesToOwningSpace(t *testing.T) {
	broker, _, _ := newTestBroker(t, time.Now)
	ctx := context.Background()
	owner := testSession()

	initiated, err := broker.InitUpload(ctx, owner, InitRequest{Filename: "doc.pdf", FileSize: 100, MimeType: "application/pdf"})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	intruder := testSession()
	if _, err := broker.CompleteUpload(ctx, intruder, initiated.UploadID, "", "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign upload id to be invisible, got %v", err)
	}
}

func TestListFilesPaginatesAndFilters(t *testing.T) {
	broker, _, _ := newTestBroker(t, time.Now)
	ctx := context.Background()
	session := testSession()

	var lastUploadID string
	for i := 0; i < 7; i++ {
		initiated, err := broker.InitUpload(ctx, session, InitRequest{
			Filename: fmt.Sprintf("file-%d.pdf", i),
			FileSize: 100,
			MimeType: "application/pdf",
		})
		if err != nil {
			t.Fatalf("init %d failed: %v", i, err)
		}
		lastUploadID = initiated.UploadID
	}
	if _, err := broker.CompleteUpload(ctx, session, lastUploadID, "", "", ""); err != nil {
		t.Fatalf("completion failed: %v", err)
	}

	all, err := broker.ListFiles(ctx, session, ListQuery{Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if all.Pagination.Total != 7 || all.Pagination.Pages != 2 {
		t.Fatalf("unexpected pagination %+v", all.Pagination)
	}
	if len(all.Files) != 5 {
		t.Fatalf("expected 5 files on page 1, got %d", len(all.Files))
	}

	completed, err := broker.ListFiles(ctx, session, ListQuery{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(completed.Files) != 1 {
		t.Fatalf("expected one completed file, got %d", len(completed.Files))
	}

	other, err := broker.ListFiles(ctx, testSession(), ListQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(other.Files) != 0 {
		t.Fatalf("expected foreign space to see nothing, got %d", len(other.Files))
	}
}

func TestDeleteFileSoftDeletesOnce(t *testing.T) {
	broker, _, db := newTestBroker(t, time.Now)
	ctx := context.Background()
	session := testSession()

	initiated, err := broker.InitUpload(ctx, session, InitRequest{Filename: "doc.pdf", FileSize: 100, MimeType: "application/pdf"})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if err := broker.DeleteFile(ctx, session, initiated.FileID, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var file File
	if err := db.Where("id = ?", initiated.FileID).Take(&file).Error; err != nil {
		t.Fatalf("expected row to survive soft delete: %v", err)
	}
	if file.UploadStatus != StatusDeleted {
		t.Fatalf("expected deleted status, got %q", file.UploadStatus)
	}

	if err := broker.DeleteFile(ctx, session, initiated.FileID, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to fail, got %v", err)
	}
	if err := broker.DeleteFile(ctx, testSession(), initiated.FileID, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign delete to fail, got %v", err)
	}
}
