package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ooblik/drive-backend/internal/admin"
	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/settings"
	"github.com/ooblik/drive-backend/internal/storage"
	"go.uber.org/zap"
)

type adminLoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *httpHandler) handleAdminLogin(c *gin.Context) {
	var request adminLoginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.admin.Login(c.Request.Context(), request.Username, request.Password, clientIP(c), c.Request.UserAgent())
	switch {
	case errors.Is(err, admin.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	case err != nil:
		h.logger.Error("admin login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_token": result.SessionToken,
		"expires_at":    result.ExpiresAt,
		"user": gin.H{
			"id":       result.User.ID,
			"username": result.User.Username,
			"email":    result.User.Email,
		},
	})
}

func (h *httpHandler) handleAdminLogout(c *gin.Context) {
	token := c.GetString(adminContextKey + "_token")
	if err := h.admin.Logout(c.Request.Context(), token, clientIP(c), c.Request.UserAgent()); err != nil {
		if errors.Is(err, admin.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("admin logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *httpHandler) handleAdminVerify(c *gin.Context) {
	info, ok := adminFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            info.ID,
		"username":      info.Username,
		"email":         info.Email,
		"last_login_at": info.LastLoginAt,
	})
}

func (h *httpHandler) handleAdminDashboard(c *gin.Context) {
	dashboard, err := h.admin.Dashboard(c.Request.Context())
	if err != nil {
		h.logger.Error("dashboard assembly failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dashboard_failed"})
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

type adminConfigPayload struct {
	Action string          `json:"action"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

var configKeys = []string{
	settings.KeyNamingSchema,
	settings.KeySMTPConfig,
	settings.KeyS3Config,
	settings.KeyUploadPolicy,
}

// handleAdminConfig serves both reads and writes of the operator
// configuration, dispatched on the action field.
func (h *httpHandler) handleAdminConfig(c *gin.Context) {
	var request adminConfigPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	switch request.Action {
	case "get_config":
		values := gin.H{}
		for _, key := range configKeys {
			raw, err := h.settings.GetRaw(c.Request.Context(), key)
			if errors.Is(err, settings.ErrNotConfigured) {
				values[key] = nil
				continue
			}
			if err != nil {
				h.logger.Error("config read failed", zap.String("key", key), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "config_read_failed"})
				return
			}
			values[key] = raw
		}
		c.JSON(http.StatusOK, gin.H{"config": values})

	case "save_config":
		if request.Key == "" || len(request.Value) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if err := h.settings.SetRaw(c.Request.Context(), request.Key, request.Value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "detail": err.Error()})
			return
		}

		info, _ := adminFromContext(c)
		if err := h.audit.Record(c.Request.Context(), audit.Event{
			Type:      audit.EventAdminConfig,
			IPAddress: clientIP(c),
			UserAgent: c.Request.UserAgent(),
			Details:   map[string]interface{}{"admin_id": info.ID, "key": request.Key},
		}); err != nil {
			h.logger.Warn("config audit entry not recorded", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"message": "configuration saved"})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_action"})
	}
}

type adminUpdatePayload struct {
	Action   string `json:"action"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (h *httpHandler) handleAdminUpdate(c *gin.Context) {
	info, ok := adminFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request adminUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var err error
	switch request.Action {
	case "update_password":
		err = h.admin.UpdatePassword(c.Request.Context(), info.ID, request.Password, clientIP(c), c.Request.UserAgent())
	case "update_email":
		err = h.admin.UpdateEmail(c.Request.Context(), info.ID, request.Email, clientIP(c), c.Request.UserAgent())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_action"})
		return
	}

	switch {
	case errors.Is(err, admin.ErrPasswordTooShort), errors.Is(err, admin.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	case err != nil:
		h.logger.Error("admin profile update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "profile updated"})
}

type testSMTPPayload struct {
	Email  string               `json:"email"`
	Config *settings.SMTPConfig `json:"config"`
}

// handleTestSMTP exercises either the submitted or the stored transport so
// operators can try settings before saving them. With a recipient it sends a
// probe message; without one it only dials and authenticates.
func (h *httpHandler) handleTestSMTP(c *gin.Context) {
	if h.mailer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mailer_unavailable"})
		return
	}

	var request testSMTPPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	info, _ := adminFromContext(c)
	mode := "send"
	var err error
	if request.Email == "" {
		mode = "connection"
		err = h.mailer.TestConnection(c.Request.Context(), request.Config)
	} else {
		err = h.mailer.SendTest(c.Request.Context(), request.Email, request.Config)
	}

	outcome := map[string]interface{}{"admin_id": info.ID, "success": err == nil, "mode": mode}
	if err != nil {
		outcome["error"] = err.Error()
	}
	if auditErr := h.audit.Record(c.Request.Context(), audit.Event{
		Type:      audit.EventAdminSMTPTest,
		IPAddress: clientIP(c),
		UserAgent: c.Request.UserAgent(),
		Details:   outcome,
	}); auditErr != nil {
		h.logger.Warn("smtp test audit entry not recorded", zap.Error(auditErr))
	}

	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "smtp_test_failed", "detail": err.Error()})
		return
	}
	if mode == "connection" {
		c.JSON(http.StatusOK, gin.H{"message": "smtp connection ok"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "test email sent"})
}

type testS3Payload struct {
	Config *settings.S3Config `json:"config"`
}

// handleTestS3 probes the object storage account without transferring any
// object.
func (h *httpHandler) handleTestS3(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
		return
	}

	var request testS3Payload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	cfg := settings.S3Config{}
	if request.Config != nil {
		cfg = *request.Config
	} else {
		stored, err := h.settings.S3(c.Request.Context())
		if errors.Is(err, settings.ErrNotConfigured) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "s3_not_configured"})
			return
		}
		if err != nil {
			h.logger.Error("s3 config read failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "config_read_failed"})
			return
		}
		cfg = stored
	}

	info, _ := adminFromContext(c)
	err := h.storage.TestConnection(c.Request.Context(), cfg)

	outcome := map[string]interface{}{"admin_id": info.ID, "success": err == nil, "bucket": cfg.Bucket}
	if err != nil {
		outcome["error"] = err.Error()
	}
	if auditErr := h.audit.Record(c.Request.Context(), audit.Event{
		Type:      audit.EventAdminS3Test,
		IPAddress: clientIP(c),
		UserAgent: c.Request.UserAgent(),
		Details:   outcome,
	}); auditErr != nil {
		h.logger.Warn("s3 test audit entry not recorded", zap.Error(auditErr))
	}

	switch {
	case errors.Is(err, storage.ErrBucketNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bucket_not_found"})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "s3_test_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "s3 connection ok"})
}

func (h *httpHandler) handleAdminLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, total, err := h.audit.List(c.Request.Context(), audit.ListQuery{
		Page:      page,
		Limit:     limit,
		EventType: c.Query("event_type"),
	})
	if err != nil {
		h.logger.Error("log listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": entries, "total": total})
}
