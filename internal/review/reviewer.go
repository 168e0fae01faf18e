package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/slideguard/slidereview/internal/inference"
	"github.com/slideguard/slidereview/internal/models"
	"github.com/slideguard/slidereview/pkg/logger"
	"github.com/slideguard/slidereview/pkg/storage"
)

// Reviewer 对一页幻灯片执行全部检查。各检查独立调用模型，单项失败
// 降级为该项 INCONCLUSIVE，不影响其他项：只要这一页转换成功，
// Review 一定产出一份完整的 SlideResult。
type Reviewer struct {
	model   inference.Model
	storage storage.Storage
	logger  logger.Logger
}

func NewReviewer(model inference.Model, store storage.Storage, log logger.Logger) *Reviewer {
	return &Reviewer{
		model:   model,
		storage: store,
		logger:  log,
	}
}

type modelVerdict struct {
	Outcome     string `json:"outcome"`
	Explanation string `json:"explanation"`
}

// Review 执行三项检查并汇总为这一页的结果
func (r *Reviewer) Review(ctx context.Context, key string, unit models.SlideUnit, customPrompt string) models.SlideResult {
	var image []byte
	var imageErr error
	if needsImage(unit) {
		image, imageErr = r.storage.Get(ctx, unit.ImageKey)
		if imageErr != nil {
			r.logger.Error("Failed to load slide image",
				logger.String("key", key),
				logger.Int("slide", unit.Index),
				logger.Error(imageErr),
			)
		}
	}

	results := make([]models.CheckResult, len(checkTable))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range checkTable {
		i, spec := i, spec
		g.Go(func() error {
			results[i] = r.runCheck(gctx, key, unit, spec, customPrompt, image, imageErr)
			return nil
		})
	}
	_ = g.Wait()

	return models.SlideResult{
		SlideIndex: unit.Index,
		Checks:     results,
	}
}

func (r *Reviewer) runCheck(
	ctx context.Context,
	key string,
	unit models.SlideUnit,
	spec checkSpec,
	customPrompt string,
	image []byte,
	imageErr error,
) models.CheckResult {
	result := models.CheckResult{Name: spec.name}

	if spec.needsText && strings.TrimSpace(unit.Text) == "" {
		result.Outcome = models.OutcomeInconclusive
		result.Explanation = "skipped: no extracted text to verify"
		return result
	}
	if spec.needsImage && imageErr != nil {
		result.Outcome = models.OutcomeInconclusive
		result.Explanation = fmt.Sprintf("slide image unavailable: %v", imageErr)
		return result
	}

	prompt := spec.prompt(unit.Text)
	if customPrompt != "" {
		prompt += "\nAdditional reviewer instructions:\n" + customPrompt
	}

	req := &inference.Request{Prompt: prompt}
	if spec.needsImage {
		req.ImageData = image
		req.ImageMediaType = mediaTypeForKey(unit.ImageKey)
	}

	raw, err := r.model.Invoke(ctx, req)
	if err != nil {
		r.logger.Warn("Check degraded to inconclusive",
			logger.String("key", key),
			logger.Int("slide", unit.Index),
			logger.String("check", spec.name),
			logger.Error(err),
		)
		result.Outcome = models.OutcomeInconclusive
		result.Explanation = fmt.Sprintf("inference failed: %v", err)
		return result
	}

	result.ResponseKey = r.storeRawResponse(ctx, key, unit.Index, spec.name, raw)

	verdict, err := parseVerdict(raw)
	if err != nil {
		// 响应结构不合法与调用失败同等对待：降级，不中断
		r.logger.Warn("Malformed model response",
			logger.String("key", key),
			logger.Int("slide", unit.Index),
			logger.String("check", spec.name),
			logger.Error(err),
		)
		result.Outcome = models.OutcomeInconclusive
		result.Explanation = "malformed model response"
		return result
	}

	result.Outcome = models.Outcome(verdict.Outcome)
	result.Explanation = verdict.Explanation
	return result
}

// storeRawResponse 保留模型原始响应备查，失败只记日志不影响结果
func (r *Reviewer) storeRawResponse(ctx context.Context, key string, slide int, check, raw string) string {
	responseKey := fmt.Sprintf("%s/responses/slide_%d_%s.json", key, slide, check)
	data, err := json.Marshal(map[string]string{"response": raw})
	if err != nil {
		return ""
	}
	if err := r.storage.Put(ctx, responseKey, data, "application/json"); err != nil {
		r.logger.Warn("Failed to store raw model response",
			logger.String("responseKey", responseKey),
			logger.Error(err),
		)
		return ""
	}
	return responseKey
}

func parseVerdict(raw string) (*modelVerdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var verdict modelVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}

	switch models.Outcome(verdict.Outcome) {
	case models.OutcomePass, models.OutcomeFail, models.OutcomeInconclusive:
		return &verdict, nil
	default:
		return nil, fmt.Errorf("unknown outcome %q", verdict.Outcome)
	}
}

func needsImage(unit models.SlideUnit) bool {
	for _, spec := range checkTable {
		if spec.needsImage && !(spec.needsText && strings.TrimSpace(unit.Text) == "") {
			return true
		}
	}
	return false
}

func mediaTypeForKey(key string) string {
	if strings.HasSuffix(strings.ToLower(key), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
