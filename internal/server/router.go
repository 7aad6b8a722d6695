package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ooblik/drive-backend/internal/admin"
	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/auth"
	"github.com/ooblik/drive-backend/internal/cleanup"
	"github.com/ooblik/drive-backend/internal/mailer"
	"github.com/ooblik/drive-backend/internal/settings"
	"github.com/ooblik/drive-backend/internal/storage"
	"github.com/ooblik/drive-backend/internal/upload"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionContextKey = "drive_session"
	adminContextKey   = "drive_admin"

	sessionTokenHeader = "X-Session-Token"
	adminTokenHeader   = "X-Admin-Session"
)

var (
	errMissingDatabase  = errors.New("database dependency required")
	errMissingIssuer    = errors.New("magic link issuer dependency required")
	errMissingConsumer  = errors.New("magic link consumer dependency required")
	errMissingVerifier  = errors.New("session verifier dependency required")
	errMissingAdmin     = errors.New("admin service dependency required")
	errMissingBroker    = errors.New("upload broker dependency required")
	errMissingSettings  = errors.New("settings store dependency required")
	errMissingAudit     = errors.New("audit recorder dependency required")
	errMissingFrontend  = errors.New("frontend url required")
)

// SchedulerStatus reports background job state for the health endpoint.
type SchedulerStatus interface {
	JobsStatus() []cleanup.JobStatus
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	Database    *gorm.DB
	Issuer      *auth.Issuer
	Consumer    *auth.Consumer
	Verifier    *auth.Verifier
	Admin       *admin.Service
	Broker      *upload.Broker
	Settings    *settings.Store
	Audit       *audit.Recorder
	Mailer      *mailer.Sender
	Storage     *storage.Diagnostic
	Scheduler   SchedulerStatus
	FrontendURL string
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router over the wired dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Database == nil {
		return nil, errMissingDatabase
	}
	if deps.Issuer == nil {
		return nil, errMissingIssuer
	}
	if deps.Consumer == nil {
		return nil, errMissingConsumer
	}
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Admin == nil {
		return nil, errMissingAdmin
	}
	if deps.Broker == nil {
		return nil, errMissingBroker
	}
	if deps.Settings == nil {
		return nil, errMissingSettings
	}
	if deps.Audit == nil {
		return nil, errMissingAudit
	}
	if deps.FrontendURL == "" {
		return nil, errMissingFrontend
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", sessionTokenHeader, adminTokenHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		db:          deps.Database,
		issuer:      deps.Issuer,
		consumer:    deps.Consumer,
		verifier:    deps.Verifier,
		admin:       deps.Admin,
		broker:      deps.Broker,
		settings:    deps.Settings,
		audit:       deps.Audit,
		mailer:      deps.Mailer,
		storage:     deps.Storage,
		scheduler:   deps.Scheduler,
		frontendURL: strings.TrimRight(deps.FrontendURL, "/"),
		logger:      logger,
	}

	router.GET("/health", handler.handleHealth)

	router.POST("/auth/magic-link", handler.handleMagicLinkRequest)
	router.GET("/auth/consume", handler.handleMagicLinkConsume)

	protected := router.Group("/")
	protected.Use(handler.requireSession)
	protected.GET("/auth/verify", handler.handleSessionVerify)
	protected.POST("/upload/init", handler.handleUploadInit)
	protected.POST("/upload/complete", handler.handleUploadComplete)
	protected.GET("/upload/files", handler.handleListFiles)
	protected.DELETE("/upload/files/:id", handler.handleDeleteFile)

	router.POST("/admin/login", handler.handleAdminLogin)

	backOffice := router.Group("/admin")
	backOffice.Use(handler.requireAdmin)
	backOffice.POST("/logout", handler.handleAdminLogout)
	backOffice.GET("/verify", handler.handleAdminVerify)
	backOffice.GET("/dashboard", handler.handleAdminDashboard)
	backOffice.POST("/config", handler.handleAdminConfig)
	backOffice.POST("/update", handler.handleAdminUpdate)
	backOffice.POST("/test-smtp", handler.handleTestSMTP)
	backOffice.POST("/test-s3", handler.handleTestS3)
	backOffice.GET("/logs", handler.handleAdminLogs)

	return router, nil
}

type httpHandler struct {
	db          *gorm.DB
	issuer      *auth.Issuer
	consumer    *auth.Consumer
	verifier    *auth.Verifier
	admin       *admin.Service
	broker      *upload.Broker
	settings    *settings.Store
	audit       *audit.Recorder
	mailer      *mailer.Sender
	storage     *storage.Diagnostic
	scheduler   SchedulerStatus
	frontendURL string
	logger      *zap.Logger
}

// requireSession resolves the user session token from the dedicated header,
// falling back to a bearer Authorization header and finally to the session
// query parameter the consume redirect lands with.
func (h *httpHandler) requireSession(c *gin.Context) {
	token := strings.TrimSpace(c.GetHeader(sessionTokenHeader))
	if token == "" {
		token = bearerToken(c)
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("session"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	session, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthorized) {
			h.logger.Error("session verification failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(sessionContextKey, session)
	c.Next()
}

// requireAdmin resolves the admin session token.
func (h *httpHandler) requireAdmin(c *gin.Context) {
	token := strings.TrimSpace(c.GetHeader(adminTokenHeader))
	if token == "" {
		token = bearerToken(c)
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	info, err := h.admin.Verify(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, admin.ErrUnauthorized) {
			h.logger.Error("admin session verification failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(adminContextKey, info)
	// Handlers need the raw token for logout.
	c.Set(adminContextKey+"_token", token)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func sessionFromContext(c *gin.Context) (auth.SessionInfo, bool) {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return auth.SessionInfo{}, false
	}
	session, ok := value.(auth.SessionInfo)
	return session, ok
}

func adminFromContext(c *gin.Context) (admin.Info, bool) {
	value, ok := c.Get(adminContextKey)
	if !ok {
		return admin.Info{}, false
	}
	info, ok := value.(admin.Info)
	return info, ok
}

// clientIP prefers the first hop of X-Forwarded-For so rate limiting keys on
// the originating client when the service sits behind a proxy.
func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	return c.ClientIP()
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	status := http.StatusOK
	payload := gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		status = http.StatusServiceUnavailable
		payload["status"] = "degraded"
		payload["database"] = "unreachable"
	} else {
		payload["database"] = "ok"
	}

	if h.scheduler != nil {
		payload["jobs"] = h.scheduler.JobsStatus()
	}

	c.JSON(status, payload)
}
