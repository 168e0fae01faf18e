package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/slideguard/slidereview/internal/pipeline"
	"github.com/slideguard/slidereview/internal/review"
	"github.com/slideguard/slidereview/pkg/logger"
	"github.com/slideguard/slidereview/pkg/queue"
)

// ReviewWorker 消费两类任务：提交处理（转换加派发）和单页审核。
// 两类处理器都幂等，asynq 的 at-least-once 重投不会产生重复副作用。
type ReviewWorker struct {
	BaseWorker
	orchestrator *pipeline.Orchestrator
	reviewer     *review.Reviewer
}

func NewReviewWorker(cfg *Config, orchestrator *pipeline.Orchestrator, reviewer *review.Reviewer, logger logger.Logger) (*ReviewWorker, error) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &ReviewWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   logger,
			stopChan: make(chan struct{}),
		},
		orchestrator: orchestrator,
		reviewer:     reviewer,
	}

	w.registerHandlers()
	return w, nil
}

func (w *ReviewWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeSubmissionProcess, w.handleProcess)
	w.mux.HandleFunc(queue.TaskTypeSlideReview, w.handleSlideReview)
}

func (w *ReviewWorker) handleProcess(ctx context.Context, t *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal process payload",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal process payload: %w", err)
	}
	if payload.Key == "" {
		return fmt.Errorf("invalid process payload: missing key")
	}

	w.logger.Info("Processing submission", logger.String("key", payload.Key))
	return w.orchestrator.Process(ctx, payload.Key)
}

func (w *ReviewWorker) handleSlideReview(ctx context.Context, t *asynq.Task) error {
	var payload queue.SlideReviewPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal slide review payload",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal slide review payload: %w", err)
	}
	if payload.Key == "" || payload.ExpectedTotal <= 0 {
		return fmt.Errorf("invalid slide review payload: missing key or total")
	}

	w.logger.Info("Reviewing slide",
		logger.String("key", payload.Key),
		logger.Int("slide", payload.Slide.Index),
	)

	// Review 保证返回完整结果，单项失败已在内部降级
	result := w.reviewer.Review(ctx, payload.Key, payload.Slide, payload.Prompt)
	return w.orchestrator.OnSlideReviewed(ctx, payload.Key, result, payload.ExpectedTotal)
}

func (w *ReviewWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
