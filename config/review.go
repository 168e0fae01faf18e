package config

import (
	"sync"
	"time"
)

var (
	reviewOnce   sync.Once
	reviewConfig *ReviewConfig
)

// ReviewConfig 审核模型配置
type ReviewConfig struct {
	APIKey       string
	BaseURL      string
	ModelID      string
	MaxTokens    int
	MaxAttempts  int
	RetryBackoff time.Duration
	CallTimeout  time.Duration
}

func GetReviewConfig() *ReviewConfig {
	reviewOnce.Do(func() {
		loadEnv()
		reviewConfig = &ReviewConfig{
			APIKey:       getenv("ANTHROPIC_API_KEY", ""),
			BaseURL:      getenv("ANTHROPIC_BASE_URL", ""),
			ModelID:      getenv("REVIEW_MODEL_ID", "claude-3-7-sonnet-20250219"),
			MaxTokens:    getenvInt("REVIEW_MAX_TOKENS", 2000),
			MaxAttempts:  getenvInt("REVIEW_MAX_ATTEMPTS", 3),
			RetryBackoff: getenvDuration("REVIEW_RETRY_BACKOFF", 2*time.Second),
			CallTimeout:  getenvDuration("REVIEW_CALL_TIMEOUT", 2*time.Minute),
		}
	})
	return reviewConfig
}
