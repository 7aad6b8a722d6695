package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/ooblik/drive-backend/internal/admin"
	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/auth"
	"github.com/ooblik/drive-backend/internal/mailer"
	"github.com/ooblik/drive-backend/internal/settings"
	"github.com/ooblik/drive-backend/internal/upload"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const jsonContentType = "application/json"

func newTestHandler(t *testing.T) (http.Handler, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	models := []interface{}{
		&auth.Space{}, &auth.SpacePrivate{}, &auth.UserSession{},
		&admin.User{}, &admin.Session{},
		&upload.File{}, &settings.Record{}, &audit.Entry{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build audit recorder: %v", err)
	}
	store, err := settings.NewStore(db)
	if err != nil {
		t.Fatalf("failed to build settings store: %v", err)
	}
	sender, err := mailer.NewSender(mailer.SenderConfig{Settings: store, APIBaseURL: "http://api.test"})
	if err != nil {
		t.Fatalf("failed to build mailer: %v", err)
	}
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Database:     db,
		Audit:        recorder,
		Mailer:       sender,
		ExposeTokens: true,
	})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	consumer, err := auth.NewConsumer(auth.ConsumerConfig{Database: db, Audit: recorder})
	if err != nil {
		t.Fatalf("failed to build consumer: %v", err)
	}
	verifier, err := auth.NewVerifier(auth.VerifierConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build verifier: %v", err)
	}
	adminService, err := admin.NewService(admin.ServiceConfig{
		Database:   db,
		Audit:      recorder,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to build admin service: %v", err)
	}
	broker, err := upload.NewBroker(upload.BrokerConfig{Database: db, Settings: store, Audit: recorder})
	if err != nil {
		t.Fatalf("failed to build broker: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Database:    db,
		Issuer:      issuer,
		Consumer:    consumer,
		Verifier:    verifier,
		Admin:       adminService,
		Broker:      broker,
		Settings:    store,
		Audit:       recorder,
		Mailer:      sender,
		FrontendURL: "http://front.test",
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler, db
}

func postJSON(t *testing.T, handler http.Handler, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	request.Header.Set("Content-Type", jsonContentType)
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	return response
}

func decodeBody(t *testing.T, response *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	if err := json.Unmarshal(response.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", response.Body.String(), err)
	}
	return decoded
}

func requestMagicLink(t *testing.T, handler http.Handler, spaceName, ip string) string {
	t.Helper()
	response := postJSON(t, handler, "/auth/magic-link", map[string]string{
		"email":      "owner@example.com",
		"space_name": spaceName,
	}, map[string]string{"X-Forwarded-For": ip})
	if response.Code != http.StatusOK {
		t.Fatalf("magic link request failed with %d: %s", response.Code, response.Body.String())
	}
	token, _ := decodeBody(t, response)["magic_token"].(string)
	if token == "" {
		t.Fatalf("expected exposed magic token in response")
	}
	return token
}

func openSession(t *testing.T, handler http.Handler, spaceName, ip string) string {
	t.Helper()
	token := requestMagicLink(t, handler, spaceName, ip)

	request := httptest.NewRequest(http.MethodGet, "/auth/consume?token="+url.QueryEscape(token), http.NoBody)
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	if response.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", response.Code)
	}

	location, err := url.Parse(response.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect location: %v", err)
	}
	session := location.Query().Get("session")
	if session == "" {
		t.Fatalf("expected session in redirect, got %q", location.String())
	}
	return session
}

func TestMagicLinkFlowEndToEnd(testContext *testing.T) {
	handler, _ := newTestHandler(testContext)

	token := requestMagicLink(testContext, handler, "flow-space", "203.0.113.10")

	request := httptest.NewRequest(http.MethodGet, "/auth/consume?token="+url.QueryEscape(token), http.NoBody)
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	if response.Code != http.StatusFound {
		testContext.Fatalf("expected 302, got %d", response.Code)
	}
	location := response.Header().Get("Location")
	if !strings.HasPrefix(location, "http://front.test/?session=") {
		testContext.Fatalf("unexpected redirect %q", location)
	}
	if !strings.Contains(location, "space=flow-space") {
		testContext.Fatalf("expected space name in redirect, got %q", location)
	}

	parsed, err := url.Parse(location)
	if err != nil {
		testContext.Fatalf("failed to parse location: %v", err)
	}
	session := parsed.Query().Get("session")

	verifyRequest := httptest.NewRequest(http.MethodGet, "/auth/verify", http.NoBody)
	verifyRequest.Header.Set("X-Session-Token", session)
	verifyResponse := httptest.NewRecorder()
	handler.ServeHTTP(verifyResponse, verifyRequest)
	if verifyResponse.Code != http.StatusOK {
		testContext.Fatalf("verify failed with %d: %s", verifyResponse.Code, verifyResponse.Body.String())
	}
	body := decodeBody(testContext, verifyResponse)
	if body["space_name"] != "flow-space" {
		testContext.Fatalf("unexpected verify payload %v", body)
	}
	if body["email"] != "owner@example.com" {
		testContext.Fatalf("expected joined email, got %v", body["email"])
	}
	if active, ok := body["is_active"].(bool); !ok || !active {
		testContext.Fatalf("expected an active session flag, got %v", body["is_active"])
	}

	// The link is single use.
	replay := httptest.NewRequest(http.MethodGet, "/auth/consume?token="+url.QueryEscape(token), http.NoBody)
	replayResponse := httptest.NewRecorder()
	handler.ServeHTTP(replayResponse, replay)
	if replayResponse.Code != http.StatusFound {
		testContext.Fatalf("expected 302 on replay, got %d", replayResponse.Code)
	}
	if !strings.Contains(replayResponse.Header().Get("Location"), "error=invalid_token") {
		testContext.Fatalf("expected error redirect, got %q", replayResponse.Header().Get("Location"))
	}
}

func TestMagicLinkRequestValidationAndRateLimit(t *testing.T) {
	handler, _ := newTestHandler(t)

	response := postJSON(t, handler, "/auth/magic-link", map[string]string{
		"email":      "nonsense",
		"space_name": "x",
	}, nil)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", response.Code)
	}

	for i := 0; i < 5; i++ {
		requestMagicLink(t, handler, fmt.Sprintf("space-%d", i), "198.51.100.50")
	}
	limited := postJSON(t, handler, "/auth/magic-link", map[string]string{
		"email":      "owner@example.com",
		"space_name": "space-6",
	}, map[string]string{"X-Forwarded-For": "198.51.100.50"})
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	if limited.Header().Get("Retry-After") != "3600" {
		t.Fatalf("expected Retry-After header, got %q", limited.Header().Get("Retry-After"))
	}
}

func TestProtectedRoutesRejectAnonymousCallers(t *testing.T) {
	handler, _ := newTestHandler(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/auth/verify"},
		{http.MethodPost, "/upload/init"},
		{http.MethodGet, "/upload/files"},
		{http.MethodGet, "/admin/dashboard"},
		{http.MethodPost, "/admin/config"},
	} {
		request := httptest.NewRequest(route.method, route.path, http.NoBody)
		response := httptest.NewRecorder()
		handler.ServeHTTP(response, request)
		if response.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s %s, got %d", route.method, route.path, response.Code)
		}
	}
}

func TestUploadLifecycleOverHTTP(t *testing.T) {
	handler, _ := newTestHandler(t)
	session := openSession(t, handler, "upload-space", "203.0.113.20")
	authHeader := map[string]string{"X-Session-Token": session}

	initResponse := postJSON(t, handler, "/upload/init", map[string]interface{}{
		"filename":  "report.pdf",
		"file_size": 1024,
		"mime_type": "application/pdf",
	}, authHeader)
	if initResponse.Code != http.StatusOK {
		t.Fatalf("init failed with %d: %s", initResponse.Code, initResponse.Body.String())
	}
	initBody := decodeBody(t, initResponse)
	uploadID, _ := initBody["upload_id"].(string)
	fileID, _ := initBody["file_id"].(string)
	if uploadID == "" || fileID == "" {
		t.Fatalf("missing identifiers in %v", initBody)
	}

	completeResponse := postJSON(t, handler, "/upload/complete", map[string]string{
		"upload_id": uploadID,
		"checksum":  "sha256:abc",
	}, authHeader)
	if completeResponse.Code != http.StatusOK {
		t.Fatalf("complete failed with %d: %s", completeResponse.Code, completeResponse.Body.String())
	}

	replay := postJSON(t, handler, "/upload/complete", map[string]string{"upload_id": uploadID}, authHeader)
	if replay.Code != http.StatusNotFound {
		t.Fatalf("expected replayed completion to 404, got %d", replay.Code)
	}

	listRequest := httptest.NewRequest(http.MethodGet, "/upload/files?status=completed", http.NoBody)
	listRequest.Header.Set("X-Session-Token", session)
	listResponse := httptest.NewRecorder()
	handler.ServeHTTP(listResponse, listRequest)
	if listResponse.Code != http.StatusOK {
		t.Fatalf("list failed with %d", listResponse.Code)
	}
	listBody := decodeBody(t, listResponse)
	files, _ := listBody["files"].([]interface{})
	if len(files) != 1 {
		t.Fatalf("expected one completed file, got %v", listBody)
	}

	deleteRequest := httptest.NewRequest(http.MethodDelete, "/upload/files/"+fileID, http.NoBody)
	deleteRequest.Header.Set("X-Session-Token", session)
	deleteResponse := httptest.NewRecorder()
	handler.ServeHTTP(deleteResponse, deleteRequest)
	if deleteResponse.Code != http.StatusOK {
		t.Fatalf("delete failed with %d: %s", deleteResponse.Code, deleteResponse.Body.String())
	}

	secondDelete := httptest.NewRecorder()
	repeat := httptest.NewRequest(http.MethodDelete, "/upload/files/"+fileID, http.NoBody)
	repeat.Header.Set("X-Session-Token", session)
	handler.ServeHTTP(secondDelete, repeat)
	if secondDelete.Code != http.StatusNotFound {
		t.Fatalf("expected second delete to 404, got %d", secondDelete.Code)
	}
}

func TestUploadInitEnforcesPolicyOverHTTP(t *testing.T) {
	handler, db := newTestHandler(t)
	session := openSession(t, handler, "policy-space", "203.0.113.30")
	authHeader := map[string]string{"X-Session-Token": session}

	store, err := settings.NewStore(db)
	if err != nil {
		t.Fatalf("failed to build settings store: %v", err)
	}
	policy := settings.UploadPolicy{MaxFileSize: 512, AllowedMimeTypes: []string{"application/pdf"}}
	if err := store.Set(context.Background(), settings.KeyUploadPolicy, policy); err != nil {
		t.Fatalf("failed to store policy: %v", err)
	}

	tooLarge := postJSON(t, handler, "/upload/init", map[string]interface{}{
		"filename":  "big.pdf",
		"file_size": 4096,
		"mime_type": "application/pdf",
	}, authHeader)
	if tooLarge.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", tooLarge.Code)
	}

	wrongType := postJSON(t, handler, "/upload/init", map[string]interface{}{
		"filename":  "pic.png",
		"file_size": 100,
		"mime_type": "image/png",
	}, authHeader)
	if wrongType.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", wrongType.Code)
	}
}

func TestAdminLoginConfigAndLogs(t *testing.T) {
	handler, db := newTestHandler(t)

	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build audit recorder: %v", err)
	}
	service, err := admin.NewService(admin.ServiceConfig{Database: db, Audit: recorder, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to build admin service: %v", err)
	}
	if _, err := service.CreateUser(context.Background(), "operator", "sup3rsecret", "ops@example.com"); err != nil {
		t.Fatalf("failed to create admin: %v", err)
	}

	badLogin := postJSON(t, handler, "/admin/login", map[string]string{"username": "operator", "password": "wrong"}, nil)
	if badLogin.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", badLogin.Code)
	}

	login := postJSON(t, handler, "/admin/login", map[string]string{"username": "operator", "password": "sup3rsecret"}, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", login.Code, login.Body.String())
	}
	token, _ := decodeBody(t, login)["session_token"].(string)
	if token == "" {
		t.Fatalf("expected admin session token")
	}
	adminHeader := map[string]string{"X-Admin-Session": token}

	save := postJSON(t, handler, "/admin/config", map[string]interface{}{
		"action": "save_config",
		"key":    settings.KeyNamingSchema,
		"value":  map[string]interface{}{"schema": "{space}/{filename}"},
	}, adminHeader)
	if save.Code != http.StatusOK {
		t.Fatalf("save failed with %d: %s", save.Code, save.Body.String())
	}

	invalid := postJSON(t, handler, "/admin/config", map[string]interface{}{
		"action": "save_config",
		"key":    settings.KeyNamingSchema,
		"value":  map[string]interface{}{"schema": ""},
	}, adminHeader)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid config to 400, got %d", invalid.Code)
	}

	read := postJSON(t, handler, "/admin/config", map[string]interface{}{"action": "get_config"}, adminHeader)
	if read.Code != http.StatusOK {
		t.Fatalf("read failed with %d: %s", read.Code, read.Body.String())
	}
	config, _ := decodeBody(t, read)["config"].(map[string]interface{})
	if config[settings.KeyNamingSchema] == nil {
		t.Fatalf("expected stored naming schema, got %v", config)
	}
	if config[settings.KeySMTPConfig] != nil {
		t.Fatalf("expected unset smtp config to be null, got %v", config[settings.KeySMTPConfig])
	}

	logsRequest := httptest.NewRequest(http.MethodGet, "/admin/logs?event_type=admin_config", http.NoBody)
	logsRequest.Header.Set("X-Admin-Session", token)
	logsResponse := httptest.NewRecorder()
	handler.ServeHTTP(logsResponse, logsRequest)
	if logsResponse.Code != http.StatusOK {
		t.Fatalf("logs failed with %d", logsResponse.Code)
	}
	logsBody := decodeBody(t, logsResponse)
	if total, _ := logsBody["total"].(float64); total < 1 {
		t.Fatalf("expected at least one config audit entry, got %v", logsBody)
	}

	logout := postJSON(t, handler, "/admin/logout", nil, adminHeader)
	if logout.Code != http.StatusOK {
		t.Fatalf("logout failed with %d: %s", logout.Code, logout.Body.String())
	}
	verify := httptest.NewRequest(http.MethodGet, "/admin/verify", http.NoBody)
	verify.Header.Set("X-Admin-Session", token)
	verifyResponse := httptest.NewRecorder()
	handler.ServeHTTP(verifyResponse, verify)
	if verifyResponse.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", verifyResponse.Code)
	}
}

func TestAdminSMTPProbeWithoutRecipientChecksConnection(t *testing.T) {
	handler, db := newTestHandler(t)

	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build audit recorder: %v", err)
	}
	service, err := admin.NewService(admin.ServiceConfig{Database: db, Audit: recorder, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to build admin service: %v", err)
	}
	if _, err := service.CreateUser(context.Background(), "operator", "sup3rsecret", "ops@example.com"); err != nil {
		t.Fatalf("failed to create admin: %v", err)
	}
	login := postJSON(t, handler, "/admin/login", map[string]string{"username": "operator", "password": "sup3rsecret"}, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", login.Code, login.Body.String())
	}
	token, _ := decodeBody(t, login)["session_token"].(string)
	adminHeader := map[string]string{"X-Admin-Session": token}

	// No recipient and no stored transport: the handler probes the connection
	// and reports the transport failure instead of rejecting the request.
	probe := postJSON(t, handler, "/admin/test-smtp", map[string]interface{}{}, adminHeader)
	if probe.Code != http.StatusBadGateway {
		t.Fatalf("expected unconfigured transport to fail the probe, got %d: %s", probe.Code, probe.Body.String())
	}
	if body := decodeBody(t, probe); body["error"] != "smtp_test_failed" {
		t.Fatalf("unexpected probe payload %v", body)
	}

	var entry audit.Entry
	if err := db.Where("event_type = ?", audit.EventAdminSMTPTest).Take(&entry).Error; err != nil {
		t.Fatalf("expected an smtp test audit entry: %v", err)
	}
	if !strings.Contains(entry.Details, `"mode":"connection"`) {
		t.Fatalf("expected connection mode in audit details, got %s", entry.Details)
	}
}

func TestHealthReportsDatabase(t *testing.T) {
	handler, _ := newTestHandler(t)

	request := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	body := decodeBody(t, response)
	if body["database"] != "ok" {
		t.Fatalf("expected database ok, got %v", body)
	}
}
