package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ooblik/drive-backend/internal/upload"
	"go.uber.org/zap"
)

type uploadInitPayload struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

func (h *httpHandler) handleUploadInit(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request uploadInitPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.broker.InitUpload(c.Request.Context(), session, upload.InitRequest{
		Filename:  request.Filename,
		FileSize:  request.FileSize,
		MimeType:  request.MimeType,
		IPAddress: clientIP(c),
		UserAgent: c.Request.UserAgent(),
	})
	switch {
	case errors.Is(err, upload.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	case errors.Is(err, upload.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
		return
	case errors.Is(err, upload.ErrTypeNotAllowed):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "file_type_not_allowed"})
		return
	case err != nil:
		h.logger.Error("upload init failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_init_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id": result.UploadID,
		"file_id":   result.FileID,
		"s3_key":    result.S3Key,
	})
}

type uploadCompletePayload struct {
	UploadID string `json:"upload_id"`
	Checksum string `json:"checksum"`
}

func (h *httpHandler) handleUploadComplete(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request uploadCompletePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	file, err := h.broker.CompleteUpload(c.Request.Context(), session, request.UploadID, request.Checksum, clientIP(c), c.Request.UserAgent())
	switch {
	case errors.Is(err, upload.ErrMissingUploadID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	case errors.Is(err, upload.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "upload_not_found"})
		return
	case err != nil:
		h.logger.Error("upload completion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_complete_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"file": fileResponse(file)})
}

func (h *httpHandler) handleListFiles(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	list, err := h.broker.ListFiles(c.Request.Context(), session, upload.ListQuery{
		Page:   page,
		Limit:  limit,
		Status: c.Query("status"),
	})
	if err != nil {
		h.logger.Error("file listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	files := make([]gin.H, 0, len(list.Files))
	for _, file := range list.Files {
		files = append(files, fileResponse(file))
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "pagination": list.Pagination})
}

func (h *httpHandler) handleDeleteFile(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err := h.broker.DeleteFile(c.Request.Context(), session, c.Param("id"), clientIP(c), c.Request.UserAgent())
	switch {
	case errors.Is(err, upload.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file_not_found"})
		return
	case err != nil:
		h.logger.Error("file deletion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}

func fileResponse(file upload.File) gin.H {
	return gin.H{
		"id":            file.ID,
		"original_name": file.OriginalName,
		"s3_key":        file.S3Key,
		"file_size":     file.FileSize,
		"mime_type":     file.MimeType,
		"upload_status": file.UploadStatus,
		"upload_id":     file.UploadID,
		"checksum":      file.Checksum,
		"created_at":    file.CreatedAt,
		"completed_at":  file.CompletedAt,
	}
}
