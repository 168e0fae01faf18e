package config

import (
	"sync"
	"time"
)

var (
	renderOnce   sync.Once
	renderConfig *RenderConfig
)

// RenderConfig 幻灯片渲染服务配置
type RenderConfig struct {
	Endpoint    string
	AuthToken   string
	CallTimeout time.Duration
}

func GetRenderConfig() *RenderConfig {
	renderOnce.Do(func() {
		loadEnv()
		renderConfig = &RenderConfig{
			Endpoint:    getenv("RENDER_ENDPOINT", "http://localhost:8090"),
			AuthToken:   getenv("RENDER_AUTH_TOKEN", ""),
			CallTimeout: getenvDuration("RENDER_CALL_TIMEOUT", 3*time.Minute),
		}
	})
	return renderConfig
}
