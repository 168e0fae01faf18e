package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	cfg "github.com/slideguard/slidereview/config"
	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/internal/convert"
	"github.com/slideguard/slidereview/internal/models"
	"github.com/slideguard/slidereview/pkg/queue"
	"github.com/slideguard/slidereview/pkg/statusstore"
)

// memStore 内存版状态存储，保持与 Redis 实现相同的条件写语义
type memStore struct {
	mu      sync.Mutex
	subs    map[string]*models.Submission
	results map[string]map[int]models.SlideResult
}

func newMemStore() *memStore {
	return &memStore{
		subs:    make(map[string]*models.Submission),
		results: make(map[string]map[int]models.SlideResult),
	}
}

func (s *memStore) CreateIfAbsent(_ context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.Key]; ok {
		return apperr.ErrConflict
	}
	clone := *sub
	s.subs[sub.Key] = &clone
	return nil
}

func (s *memStore) ConditionalUpdate(_ context.Context, key string, expected models.Status, upd statusstore.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !expected.CanTransitionTo(upd.Status) {
		return apperr.ErrConflict
	}
	sub, ok := s.subs[key]
	if !ok {
		return &apperr.NotFoundError{Key: key}
	}
	if sub.Status != expected {
		return apperr.ErrConflict
	}
	sub.Status = upd.Status
	if upd.SlideCount >= 0 {
		sub.SlideCount = upd.SlideCount
	}
	if upd.Error != "" {
		sub.Error = upd.Error
	}
	if upd.Overall != nil {
		sub.Overall = upd.Overall
	}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) MarkError(_ context.Context, key string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[key]
	if !ok {
		return &apperr.NotFoundError{Key: key}
	}
	if sub.Status.Terminal() {
		return nil
	}
	sub.Status = models.StatusError
	sub.Error = cause
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) AppendResult(_ context.Context, key string, res models.SlideResult) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[key]; !ok {
		return 0, &apperr.NotFoundError{Key: key}
	}
	byIndex, ok := s.results[key]
	if !ok {
		byIndex = make(map[int]models.SlideResult)
		s.results[key] = byIndex
	}
	if _, exists := byIndex[res.SlideIndex]; !exists {
		byIndex[res.SlideIndex] = res
	}
	return len(byIndex), nil
}

func (s *memStore) Read(_ context.Context, key string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[key]
	if !ok {
		return nil, &apperr.NotFoundError{Key: key}
	}
	clone := *sub
	for _, res := range s.results[key] {
		clone.Results = append(clone.Results, res)
	}
	sort.Slice(clone.Results, func(i, j int) bool {
		return clone.Results[i].SlideIndex < clone.Results[j].SlideIndex
	})
	return &clone, nil
}

// memStorage 内存版对象存储
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return data, nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStorage) CleanupBefore(_ context.Context, _ time.Time) error { return nil }

func (s *memStorage) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// fakeDispatcher 记录派发调用，可注入失败
type fakeDispatcher struct {
	mu           sync.Mutex
	processKeys  []string
	slideReviews []queue.SlideReviewPayload
	failProcess  bool
	failSlide    bool
}

func (d *fakeDispatcher) DispatchProcess(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failProcess {
		return fmt.Errorf("queue unavailable")
	}
	d.processKeys = append(d.processKeys, key)
	return nil
}

func (d *fakeDispatcher) DispatchSlideReview(_ context.Context, payload *queue.SlideReviewPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSlide {
		return fmt.Errorf("queue unavailable")
	}
	d.slideReviews = append(d.slideReviews, *payload)
	return nil
}

func (d *fakeDispatcher) Close() error { return nil }

// fakeConverter 产出固定的页序列
type fakeConverter struct {
	slides []convert.RenderedSlide
	err    error
}

func (c *fakeConverter) Convert(_ context.Context, _ string, _ []byte) (*convert.SlideSequence, error) {
	if c.err != nil {
		return nil, c.err
	}
	pos := 0
	return convert.NewSlideSequence(len(c.slides), func(_ context.Context) (*convert.RenderedSlide, error) {
		if pos >= len(c.slides) {
			return nil, nil
		}
		slide := c.slides[pos]
		pos++
		return &slide, nil
	}), nil
}

func testPipelineConfig() *cfg.PipelineConfig {
	return &cfg.PipelineConfig{
		StorageType:       "s3",
		MaxFileSize:       1024,
		ImageWidth:        1920,
		ImageHeight:       1080,
		ImageFormat:       "jpg",
		SummarySlideLimit: 5,
	}
}
