package config

import (
	"sync"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig 审核流水线配置
type PipelineConfig struct {
	StorageType       string
	MaxFileSize       int64
	ImageWidth        int
	ImageHeight       int
	ImageFormat       string
	SummarySlideLimit int
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()
		pipelineConfig = &PipelineConfig{
			StorageType:       getenv("STORAGE_TYPE", "s3"),
			MaxFileSize:       getenvInt64("MAX_FILE_SIZE", 50*1024*1024),
			ImageWidth:        getenvInt("IMAGE_WIDTH", 1920),
			ImageHeight:       getenvInt("IMAGE_HEIGHT", 1080),
			ImageFormat:       getenv("IMAGE_FORMAT", "jpg"),
			SummarySlideLimit: getenvInt("SUMMARY_SLIDE_LIMIT", 5),
		}
	})
	return pipelineConfig
}
