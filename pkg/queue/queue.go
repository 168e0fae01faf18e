// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	cfg "github.com/slideguard/slidereview/config"
	"github.com/slideguard/slidereview/internal/models"
)

// TaskType 定义任务类型
const (
	TaskTypeSubmissionProcess = "submission:process"
	TaskTypeSlideReview       = "slide:review"
)

// ProcessPayload 提交处理任务载荷
type ProcessPayload struct {
	Key string `json:"s3_key"`
}

// SlideReviewPayload 单页审核任务载荷。自带提交键、页信息和期望总页
// 数，审核完成后不依赖任何内存引用即可回报编排器。
type SlideReviewPayload struct {
	Key           string           `json:"s3_key"`
	Slide         models.SlideUnit `json:"slide"`
	ExpectedTotal int              `json:"expectedTotal"`
	Prompt        string           `json:"prompt,omitempty"`
}

// Dispatcher 异步派发接口。底层队列保证 at-least-once 投递，不保证
// 不同派发之间的顺序，处理端必须幂等。
type Dispatcher interface {
	DispatchProcess(ctx context.Context, key string) error
	DispatchSlideReview(ctx context.Context, payload *SlideReviewPayload) error
	Close() error
}

// AsynqDispatcher 基于 asynq 的实现
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(redisOpt asynq.RedisClientOpt) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(redisOpt)}
}

// GetDispatcher 按配置创建派发器
func GetDispatcher() (*AsynqDispatcher, error) {
	redisCfg := cfg.GetRedisConfig()
	return NewAsynqDispatcher(asynq.RedisClientOpt{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}), nil
}

func (d *AsynqDispatcher) DispatchProcess(ctx context.Context, key string) error {
	payload, err := json.Marshal(&ProcessPayload{Key: key})
	if err != nil {
		return fmt.Errorf("failed to marshal process payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeSubmissionProcess, payload,
		asynq.TaskID("process:"+key),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	)
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue process task: %w", err)
	}
	return nil
}

func (d *AsynqDispatcher) DispatchSlideReview(ctx context.Context, payload *SlideReviewPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slide review payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeSlideReview, data,
		asynq.TaskID(fmt.Sprintf("slide:%s:%d", payload.Key, payload.Slide.Index)),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("default"),
	)
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue slide review task: %w", err)
	}
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}
