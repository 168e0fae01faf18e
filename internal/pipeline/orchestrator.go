package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cfg "github.com/slideguard/slidereview/config"
	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/internal/convert"
	"github.com/slideguard/slidereview/internal/models"
	"github.com/slideguard/slidereview/pkg/logger"
	"github.com/slideguard/slidereview/pkg/queue"
	"github.com/slideguard/slidereview/pkg/statusstore"
	"github.com/slideguard/slidereview/pkg/storage"
)

// Orchestrator 驱动提交的状态机：接收上传、触发转换、按页派发审核、
// 聚合结果写终态。Process 和 OnSlideReviewed 在 at-least-once 重复
// 投递下安全：所有状态写入都带期望状态比较，不匹配按空操作处理。
type Orchestrator struct {
	store     statusstore.Store
	objects   storage.Storage
	dispatch  queue.Dispatcher
	converter convert.Converter
	logger    logger.Logger
	config    *cfg.PipelineConfig
}

func NewOrchestrator(
	store statusstore.Store,
	objects storage.Storage,
	dispatch queue.Dispatcher,
	converter convert.Converter,
	pipelineCfg *cfg.PipelineConfig,
	log logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		objects:   objects,
		dispatch:  dispatch,
		converter: converter,
		logger:    log,
		config:    pipelineCfg,
	}
}

// GetOrchestrator 按配置装配编排器
func GetOrchestrator(log logger.Logger) (*Orchestrator, error) {
	pipelineCfg := cfg.GetPipelineConfig()

	objects, err := storage.NewStorage(storage.StorageType(pipelineCfg.StorageType), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	store, err := statusstore.GetStore(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize status store: %w", err)
	}

	dispatch, err := queue.GetDispatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	converter, err := convert.GetConverter(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize converter: %w", err)
	}

	return NewOrchestrator(store, objects, dispatch, converter, pipelineCfg, log), nil
}

// Submit 校验并落盘上传内容，创建 RECEIVED 状态的提交记录并触发异步
// 处理。校验失败返回 ValidationError，不创建记录。
func (o *Orchestrator) Submit(ctx context.Context, data []byte, fileName, customPrompt string) (*models.Submission, error) {
	kind, ok := convert.KindForFile(fileName)
	if !ok {
		return nil, apperr.Validation("unsupported file type: %s", fileName)
	}
	if len(data) == 0 {
		return nil, apperr.Validation("empty file")
	}
	if int64(len(data)) > o.config.MaxFileSize {
		return nil, apperr.Validation("file size %d exceeds limit %d", len(data), o.config.MaxFileSize)
	}

	key := deriveKey(fileName)
	sub := &models.Submission{
		Key:       key,
		FileName:  fileName,
		Kind:      kind,
		Status:    models.StatusReceived,
		Prompt:    customPrompt,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := o.objects.Put(ctx, originalKey(sub), data, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := o.store.CreateIfAbsent(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create submission record: %w", err)
	}

	if err := o.dispatch.DispatchProcess(ctx, key); err != nil {
		// 记录终态，避免提交无声卡在 RECEIVED
		o.markError(ctx, key, fmt.Sprintf("failed to dispatch processing: %v", err))
		return nil, fmt.Errorf("failed to dispatch processing: %w", err)
	}

	o.logger.Info("Submission accepted",
		logger.String("key", key),
		logger.String("fileName", fileName),
		logger.String("kind", string(kind)),
	)
	return sub, nil
}

// GetStatus 返回提交快照，不存在返回 NotFoundError
func (o *Orchestrator) GetStatus(ctx context.Context, key string) (*models.Submission, error) {
	return o.store.Read(ctx, key)
}

// SlideImage 返回已转换的某页图片
func (o *Orchestrator) SlideImage(ctx context.Context, key string, index int) ([]byte, string, error) {
	sub, err := o.store.Read(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if index < 0 || index >= sub.SlideCount {
		return nil, "", &apperr.NotFoundError{Key: fmt.Sprintf("%s slide %d", key, index)}
	}

	data, err := o.objects.Get(ctx, o.slideImageKey(key, index))
	if err != nil {
		return nil, "", fmt.Errorf("failed to load slide image: %w", err)
	}
	return data, imageContentType(o.config.ImageFormat), nil
}

// Process 执行转换阶段：RECEIVED → PROCESSING → CONVERTED →（派发
// 审核）→ REVIEWING。重复投递时提交已前进，整个调用为空操作。
func (o *Orchestrator) Process(ctx context.Context, key string) error {
	sub, err := o.store.Read(ctx, key)
	if err != nil {
		var notFound *apperr.NotFoundError
		if errors.As(err, &notFound) {
			o.logger.Warn("Process for unknown submission", logger.String("key", key))
			return nil
		}
		return err
	}
	if sub.Status != models.StatusReceived {
		// 重复投递，已有 worker 处理过
		return nil
	}

	err = o.store.ConditionalUpdate(ctx, key, models.StatusReceived, statusstore.Update{
		Status:     models.StatusProcessing,
		SlideCount: -1,
	})
	if errors.Is(err, apperr.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	units, err := o.convertAndPersist(ctx, sub)
	if err != nil {
		o.markError(ctx, key, err.Error())
		return nil
	}

	err = o.store.ConditionalUpdate(ctx, key, models.StatusProcessing, statusstore.Update{
		Status:     models.StatusConverted,
		SlideCount: len(units),
	})
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		return err
	}

	for _, unit := range units {
		payload := &queue.SlideReviewPayload{
			Key:           key,
			Slide:         unit,
			ExpectedTotal: len(units),
			Prompt:        sub.Prompt,
		}
		if err := o.dispatch.DispatchSlideReview(ctx, payload); err != nil {
			o.markError(ctx, key, fmt.Sprintf("failed to dispatch review for slide %d: %v", unit.Index, err))
			return nil
		}
	}

	err = o.store.ConditionalUpdate(ctx, key, models.StatusConverted, statusstore.Update{
		Status:     models.StatusReviewing,
		SlideCount: -1,
	})
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		return err
	}

	o.logger.Info("Submission converted and reviews dispatched",
		logger.String("key", key),
		logger.Int("slides", len(units)),
	)
	return nil
}

// convertAndPersist 消费惰性页序列并立即把每页图片写入对象存储
func (o *Orchestrator) convertAndPersist(ctx context.Context, sub *models.Submission) ([]models.SlideUnit, error) {
	data, err := o.objects.Get(ctx, originalKey(sub))
	if err != nil {
		return nil, fmt.Errorf("failed to load original upload: %w", err)
	}

	seq, err := o.converter.Convert(ctx, sub.FileName, data)
	if err != nil {
		return nil, err
	}

	units := make([]models.SlideUnit, 0, seq.Count)
	for {
		slide, err := seq.Next(ctx)
		if err != nil {
			return nil, err
		}
		if slide == nil {
			break
		}

		imageKey := o.slideImageKey(sub.Key, slide.Index)
		if err := o.objects.Put(ctx, imageKey, slide.Image, slide.MediaType); err != nil {
			return nil, fmt.Errorf("failed to store image for slide %d: %w", slide.Index, err)
		}
		units = append(units, models.SlideUnit{
			Index:    slide.Index,
			ImageKey: imageKey,
			Text:     slide.Text,
		})
	}

	if len(units) != seq.Count {
		return nil, apperr.Conversion(
			fmt.Sprintf("expected %d slides, converter produced %d", seq.Count, len(units)), nil)
	}
	return units, nil
}

// OnSlideReviewed 记录一页的审核结果；凑齐期望页数后聚合出整体结论
// 并落终态 COMPLETED。同一页的重复回报不产生可见副作用。
func (o *Orchestrator) OnSlideReviewed(ctx context.Context, key string, res models.SlideResult, expectedTotal int) error {
	sub, err := o.store.Read(ctx, key)
	if err != nil {
		var notFound *apperr.NotFoundError
		if errors.As(err, &notFound) {
			o.logger.Warn("Review result for unknown submission", logger.String("key", key))
			return nil
		}
		return err
	}
	if sub.Status.Terminal() {
		return nil
	}

	count, err := o.store.AppendResult(ctx, key, res)
	if err != nil {
		return err
	}
	if count < expectedTotal {
		return nil
	}

	return o.finalize(ctx, key, expectedTotal)
}

func (o *Orchestrator) finalize(ctx context.Context, key string, expectedTotal int) error {
	sub, err := o.store.Read(ctx, key)
	if err != nil {
		return err
	}
	if sub.Status.Terminal() {
		return nil
	}
	if len(sub.Results) < expectedTotal {
		// 计数与读取竞争，下一个回调会再次触发
		return nil
	}

	overall := Aggregate(sub.Results, o.config.SummarySlideLimit)
	o.storeReviewResult(ctx, key, sub.Results, overall)

	upd := statusstore.Update{
		Status:     models.StatusCompleted,
		SlideCount: -1,
		Overall:    overall,
	}
	err = o.store.ConditionalUpdate(ctx, key, models.StatusReviewing, upd)
	if errors.Is(err, apperr.ErrConflict) {
		// 最后一页可能赶在 REVIEWING 写入之前完成，补上这一步再试一次
		if promoteErr := o.store.ConditionalUpdate(ctx, key, models.StatusConverted, statusstore.Update{
			Status:     models.StatusReviewing,
			SlideCount: -1,
		}); promoteErr != nil && !errors.Is(promoteErr, apperr.ErrConflict) {
			return promoteErr
		}
		err = o.store.ConditionalUpdate(ctx, key, models.StatusReviewing, upd)
		if errors.Is(err, apperr.ErrConflict) {
			return nil
		}
	}
	if err != nil {
		return err
	}

	o.logger.Info("Submission completed",
		logger.String("key", key),
		logger.String("verdict", string(overall.Status)),
		logger.Int("flaggedSlides", overall.FlaggedSlides),
	)
	return nil
}

// storeReviewResult 把最终结论序列化存档，失败只记日志
func (o *Orchestrator) storeReviewResult(ctx context.Context, key string, results []models.SlideResult, overall *models.OverallResult) {
	doc := map[string]interface{}{
		"overall": overall,
		"slides":  results,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := o.objects.Put(ctx, key+"/review_result.json", data, "application/json"); err != nil {
		o.logger.Warn("Failed to store review result document",
			logger.String("key", key),
			logger.Error(err),
		)
	}
}

func (o *Orchestrator) markError(ctx context.Context, key, cause string) {
	o.logger.Error("Submission failed",
		logger.String("key", key),
		logger.String("cause", cause),
	)
	if err := o.store.MarkError(ctx, key, cause); err != nil {
		o.logger.Error("Failed to record error status",
			logger.String("key", key),
			logger.Error(err),
		)
	}
}

func (o *Orchestrator) slideImageKey(key string, index int) string {
	return fmt.Sprintf("%s/images/slide_%d.%s", key, index+1, o.config.ImageFormat)
}

// deriveKey 生成抗碰撞的存储键：时间戳 + 随机后缀 + 清洗后的文件名
func deriveKey(fileName string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d_%s_%s", time.Now().Unix(), hex.EncodeToString(buf), sanitizeFileName(fileName))
}

func sanitizeFileName(name string) string {
	name = strings.ToLower(name)
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

func originalKey(sub *models.Submission) string {
	if sub.Kind == models.KindImage {
		return sub.Key
	}
	return sub.Key + "/original"
}

func imageContentType(format string) string {
	if format == "png" {
		return "image/png"
	}
	return "image/jpeg"
}
