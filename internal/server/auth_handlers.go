package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ooblik/drive-backend/internal/auth"
	"go.uber.org/zap"
)

type magicLinkRequestPayload struct {
	Email        string `json:"email"`
	SpaceName    string `json:"space_name"`
	CaptchaToken string `json:"captcha_token"`
}

func (h *httpHandler) handleMagicLinkRequest(c *gin.Context) {
	var request magicLinkRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.issuer.IssueLink(c.Request.Context(), auth.IssueRequest{
		Email:        request.Email,
		SpaceName:    request.SpaceName,
		CaptchaProof: request.CaptchaToken,
		IPAddress:    clientIP(c),
		UserAgent:    c.Request.UserAgent(),
	})
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		return
	case errors.Is(err, auth.ErrMissingSpaceName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_space_name"})
		return
	case errors.Is(err, auth.ErrCaptchaRejected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "captcha_failed"})
		return
	case errors.Is(err, auth.ErrRateLimited):
		c.Header("Retry-After", strconv.Itoa(3600))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests"})
		return
	case err != nil:
		h.logger.Error("magic link issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issuance_failed"})
		return
	}

	response := gin.H{"message": "magic link requested", "email_sent": result.EmailSent}
	if result.MagicToken != "" {
		response["magic_token"] = result.MagicToken
		response["magic_link"] = result.MagicLink
	}
	c.JSON(http.StatusOK, response)
}

// handleMagicLinkConsume redeems the emailed link and hands the browser back
// to the frontend, carrying either the session or an error marker in the query
// string.
func (h *httpHandler) handleMagicLinkConsume(c *gin.Context) {
	token := c.Query("token")

	result, err := h.consumer.Consume(c.Request.Context(), token, clientIP(c), c.Request.UserAgent())
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		c.Redirect(http.StatusFound, h.frontendURL+"/?error=missing_token")
		return
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		c.Redirect(http.StatusFound, h.frontendURL+"/?error=invalid_token")
		return
	case err != nil:
		h.logger.Error("magic link consumption failed", zap.Error(err))
		c.Redirect(http.StatusFound, h.frontendURL+"/?error=server_error")
		return
	}

	redirect := h.frontendURL + "/?session=" + url.QueryEscape(result.SessionToken) +
		"&space=" + url.QueryEscape(result.SpaceName)
	c.Redirect(http.StatusFound, redirect)
}

func (h *httpHandler) handleSessionVerify(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"space_id":   session.SpaceID,
		"space_name": session.SpaceName,
		"email":      session.Email,
		"expires_at": session.ExpiresAt,
		"is_active":  session.IsActive,
	})
}
