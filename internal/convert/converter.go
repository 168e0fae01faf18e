package convert

import (
	"context"
	"path/filepath"
	"strings"

	cfg "github.com/slideguard/slidereview/config"
	"github.com/slideguard/slidereview/internal/models"
	"github.com/slideguard/slidereview/pkg/logger"
)

var presentationExts = map[string]bool{
	".ppt":  true,
	".pptx": true,
	".pdf":  true,
}

var imageMediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// KindForFile 按扩展名判定内容类型，不支持的扩展名返回 false
func KindForFile(fileName string) (models.ContentKind, bool) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if presentationExts[ext] {
		return models.KindPresentation, true
	}
	if _, ok := imageMediaTypes[ext]; ok {
		return models.KindImage, true
	}
	return "", false
}

// RenderedSlide 转换出的一页：固定分辨率的图片加该页提取出的文本
type RenderedSlide struct {
	Index     int
	Image     []byte
	MediaType string
	Text      string
}

// SlideSequence 有限的惰性页序列，只能从头到尾消费一次。页耗尽后
// Next 返回 (nil, nil)。
type SlideSequence struct {
	Count int
	next  func(ctx context.Context) (*RenderedSlide, error)
}

func NewSlideSequence(count int, next func(ctx context.Context) (*RenderedSlide, error)) *SlideSequence {
	return &SlideSequence{Count: count, next: next}
}

func (s *SlideSequence) Next(ctx context.Context) (*RenderedSlide, error) {
	return s.next(ctx)
}

// Converter 把一次上传转换为有序的页序列。不可恢复的失败（文件损坏、
// 内部格式不支持）以 apperr.ConversionError 返回。
type Converter interface {
	Convert(ctx context.Context, fileName string, data []byte) (*SlideSequence, error)
}

type converter struct {
	render *RenderClient
	width  int
	height int
	format string
	logger logger.Logger
}

func NewConverter(render *RenderClient, pipelineCfg *cfg.PipelineConfig, log logger.Logger) Converter {
	return &converter{
		render: render,
		width:  pipelineCfg.ImageWidth,
		height: pipelineCfg.ImageHeight,
		format: pipelineCfg.ImageFormat,
		logger: log,
	}
}

func GetConverter(log logger.Logger) (Converter, error) {
	render, err := NewRenderClient(cfg.GetRenderConfig())
	if err != nil {
		return nil, err
	}
	return NewConverter(render, cfg.GetPipelineConfig(), log), nil
}

func (c *converter) Convert(ctx context.Context, fileName string, data []byte) (*SlideSequence, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if presentationExts[ext] {
		return c.convertPresentation(ctx, ext, data)
	}
	return c.convertImage(data)
}
