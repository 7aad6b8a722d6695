package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/ooblik/drive-backend/internal/audit"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:auth_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Space{}, &SpacePrivate{}, &UserSession{}, &audit.Entry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestRecorder(t *testing.T, db *gorm.DB) *audit.Recorder {
	t.Helper()
	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build audit recorder: %v", err)
	}
	return recorder
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type stubMailer struct {
	sent    []string
	fail    bool
	baseURL string
}

func (m *stubMailer) SendMagicLink(ctx context.Context, email, rawToken, spaceName string) error {
	if m.fail {
		return fmt.Errorf("smtp unreachable")
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *stubMailer) MagicLinkURL(rawToken string) string {
	return m.baseURL + "/auth/consume?token=" + rawToken
}

type stubCaptcha struct {
	fail bool
}

func (c *stubCaptcha) Verify(ctx context.Context, proof string) error {
	if c.fail {
		return fmt.Errorf("proof rejected")
	}
	return nil
}
