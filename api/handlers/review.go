package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/internal/pipeline"
	"github.com/slideguard/slidereview/pkg/logger"
)

type ReviewHandler struct {
	orchestrator *pipeline.Orchestrator
	logger       logger.Logger
}

// UploadRequest 上传请求体，文件内容 base64 编码
type UploadRequest struct {
	File     string `json:"file" binding:"required"`
	FileName string `json:"fileName" binding:"required"`
	Prompt   string `json:"prompt"`
}

// UploadResponse 上传响应
type UploadResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	S3Key     string `json:"s3_key"`
	StatusURL string `json:"statusUrl"`
}

// StatusResponse 状态查询响应
type StatusResponse struct {
	S3Key       string      `json:"s3_key"`
	FileName    string      `json:"fileName,omitempty"`
	Status      string      `json:"status"`
	Timestamp   int64       `json:"timestamp"`
	LastUpdated string      `json:"last_updated"`
	SlideCount  int         `json:"slideCount,omitempty"`
	Error       string      `json:"error,omitempty"`
	Results     interface{} `json:"results,omitempty"`
	Overall     interface{} `json:"overall,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewReviewHandler(orchestrator *pipeline.Orchestrator, logger logger.Logger) *ReviewHandler {
	return &ReviewHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Upload 接收待审核文件并触发流水线
func (h *ReviewHandler) Upload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.File)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid base64 file content", err)
		return
	}

	sub, err := h.orchestrator.Submit(c.Request.Context(), data, req.FileName, req.Prompt)
	if err != nil {
		var valErr *apperr.ValidationError
		if errors.As(err, &valErr) {
			h.handleError(c, http.StatusBadRequest, valErr.Reason, nil)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to accept upload", err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Status:    "success",
		Message:   "file accepted, processing started",
		S3Key:     sub.Key,
		StatusURL: "/api/v1/review/status?s3_key=" + sub.Key,
	})
}

// Status 查询处理状态；终态时附带聚合结果
func (h *ReviewHandler) Status(c *gin.Context) {
	key := c.Query("s3_key")
	if key == "" {
		h.handleError(c, http.StatusBadRequest, "s3_key query parameter is required", nil)
		return
	}

	sub, err := h.orchestrator.GetStatus(c.Request.Context(), key)
	if err != nil {
		var notFound *apperr.NotFoundError
		if errors.As(err, &notFound) {
			h.handleError(c, http.StatusNotFound, "No status found for the given s3_key", nil)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to get status", err)
		return
	}

	resp := StatusResponse{
		S3Key:       sub.Key,
		FileName:    sub.FileName,
		Status:      string(sub.Status),
		Timestamp:   sub.UpdatedAt.Unix(),
		LastUpdated: sub.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		SlideCount:  sub.SlideCount,
		Error:       sub.Error,
	}
	if sub.Status.Terminal() {
		if len(sub.Results) > 0 {
			resp.Results = sub.Results
		}
		if sub.Overall != nil {
			resp.Overall = sub.Overall
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Image 返回已转换的某页图片
func (h *ReviewHandler) Image(c *gin.Context) {
	key := c.Query("s3_key")
	if key == "" {
		h.handleError(c, http.StatusBadRequest, "s3_key query parameter is required", nil)
		return
	}
	var slide int
	if err := bindSlideIndex(c.Query("slide"), &slide); err != nil {
		h.handleError(c, http.StatusBadRequest, "slide query parameter must be a non-negative integer", err)
		return
	}

	data, contentType, err := h.orchestrator.SlideImage(c.Request.Context(), key, slide)
	if err != nil {
		var notFound *apperr.NotFoundError
		if errors.As(err, &notFound) {
			h.handleError(c, http.StatusNotFound, "Slide image not found", nil)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to load slide image", err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

// handleError 统一错误处理
func (h *ReviewHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}
