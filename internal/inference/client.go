package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	cfg "github.com/slideguard/slidereview/config"
	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/pkg/logger"
)

// Request 一次模型调用：提示词加可选的图片载荷
type Request struct {
	Prompt         string
	ImageMediaType string
	ImageData      []byte
}

// Model 审核能力边界。实现负责瞬时错误的有界重试；失败以
// apperr.InferenceError 返回并标记是否瞬时。
type Model interface {
	Invoke(ctx context.Context, req *Request) (string, error)
}

// ClaudeClient 调用 Claude 多模态模型
type ClaudeClient struct {
	client      anthropic.Client
	modelID     string
	maxTokens   int
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
	logger      logger.Logger
}

func NewClaudeClient(reviewCfg *cfg.ReviewConfig, log logger.Logger) *ClaudeClient {
	// 重试策略自己掌握，关掉 SDK 内建的重试
	opts := []option.RequestOption{
		option.WithAPIKey(reviewCfg.APIKey),
		option.WithMaxRetries(0),
	}
	if reviewCfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(reviewCfg.BaseURL, "/")))
	}

	return &ClaudeClient{
		client:      anthropic.NewClient(opts...),
		modelID:     reviewCfg.ModelID,
		maxTokens:   reviewCfg.MaxTokens,
		maxAttempts: reviewCfg.MaxAttempts,
		backoff:     reviewCfg.RetryBackoff,
		callTimeout: reviewCfg.CallTimeout,
		logger:      log,
	}
}

func GetModel(log logger.Logger) (Model, error) {
	reviewCfg := cfg.GetReviewConfig()
	if reviewCfg.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	return NewClaudeClient(reviewCfg, log), nil
}

// Invoke 调用模型并返回文本内容。瞬时错误（限流、超时、服务端错误）
// 按配置的次数退避重试；请求本身不合法的错误立即失败，不重试。
func (c *ClaudeClient) Invoke(ctx context.Context, req *Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return "", &apperr.InferenceError{Transient: true, Err: ctx.Err()}
			}
		}

		text, err := c.invokeOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !transient(err) {
			return "", &apperr.InferenceError{Transient: false, Err: err}
		}
		c.logger.Warn("Transient inference error, retrying",
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
	}
	return "", &apperr.InferenceError{Transient: true, Err: lastErr}
}

func (c *ClaudeClient) invokeOnce(ctx context.Context, req *Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	blocks := []anthropic.ContentBlockParamUnion{
		anthropic.NewTextBlock(req.Prompt),
	}
	if len(req.ImageData) > 0 {
		encoded := base64.StdEncoding.EncodeToString(req.ImageData)
		blocks = append(blocks, anthropic.NewImageBlockBase64(req.ImageMediaType, encoded))
	}

	msg, err := c.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelID),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return sb.String(), nil
}

// transient 区分可重试的瞬时错误与调用方缺陷导致的永久错误
func transient(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 408, apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// 非 API 错误按网络抖动处理
	return true
}
