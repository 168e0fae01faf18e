package review

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/internal/inference"
	"github.com/slideguard/slidereview/internal/models"
	"github.com/slideguard/slidereview/pkg/logger"
)

// fakeModel 按检查类型路由脚本化响应，提示词里的关键短语足以区分
type fakeModel struct {
	mu        sync.Mutex
	responses map[string]string
	errors    map[string]error
	requests  []inference.Request
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		responses: map[string]string{
			CheckPII:             `{"outcome": "PASS", "explanation": "no personal data found"}`,
			CheckCitation:        `{"outcome": "PASS", "explanation": "citations check out"}`,
			CheckImageCompliance: `{"outcome": "PASS", "explanation": "no brand issues"}`,
		},
		errors: make(map[string]error),
	}
}

func (m *fakeModel) checkFor(prompt string) string {
	switch {
	case strings.Contains(prompt, "personal information"):
		return CheckPII
	case strings.Contains(prompt, "citation problems"):
		return CheckCitation
	case strings.Contains(prompt, "brand compliance"):
		return CheckImageCompliance
	}
	return ""
}

func (m *fakeModel) Invoke(_ context.Context, req *inference.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, *req)

	check := m.checkFor(req.Prompt)
	if err := m.errors[check]; err != nil {
		return "", err
	}
	return m.responses[check], nil
}

func (m *fakeModel) invocations() []inference.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inference.Request(nil), m.requests...)
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return data, nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStorage) CleanupBefore(_ context.Context, _ time.Time) error { return nil }

const testKey = "1756400000_abcd1234_deck.pptx"

func testUnit() models.SlideUnit {
	return models.SlideUnit{
		Index:    0,
		ImageKey: testKey + "/images/slide_1.jpg",
		Text:     "Revenue grew 12% (Smith et al., 2023).",
	}
}

func newTestReviewer() (*Reviewer, *fakeModel, *fakeStorage) {
	model := newFakeModel()
	store := newFakeStorage()
	store.objects[testUnit().ImageKey] = []byte("jpeg-bytes")
	return NewReviewer(model, store, logger.NewTestLogger()), model, store
}

func TestReviewAllChecksPass(t *testing.T) {
	reviewer, model, store := newTestReviewer()

	res := reviewer.Review(context.Background(), testKey, testUnit(), "")

	assert.Equal(t, 0, res.SlideIndex)
	require.Len(t, res.Checks, 3)
	for _, name := range []string{CheckPII, CheckCitation, CheckImageCompliance} {
		check := res.Check(name)
		require.NotNil(t, check, name)
		assert.Equal(t, models.OutcomePass, check.Outcome)
		assert.NotEmpty(t, check.Explanation)
		assert.NotEmpty(t, check.ResponseKey)
	}
	assert.Len(t, model.invocations(), 3)

	// 原始响应存档备查
	_, err := store.Get(context.Background(), testKey+"/responses/slide_0_pii.json")
	assert.NoError(t, err)
}

func TestReviewSkipsCitationWithoutText(t *testing.T) {
	reviewer, model, _ := newTestReviewer()
	unit := testUnit()
	unit.Text = ""

	res := reviewer.Review(context.Background(), testKey, unit, "")

	citation := res.Check(CheckCitation)
	require.NotNil(t, citation)
	assert.Equal(t, models.OutcomeInconclusive, citation.Outcome)
	assert.Contains(t, citation.Explanation, "skipped")

	// 引用检查被跳过，模型只被图片类检查调用
	assert.Len(t, model.invocations(), 2)
	assert.Equal(t, models.OutcomePass, res.Check(CheckPII).Outcome)
	assert.Equal(t, models.OutcomePass, res.Check(CheckImageCompliance).Outcome)
}

// 单项调用失败只降级该项，其余检查不受影响
func TestReviewDegradesFailedCheck(t *testing.T) {
	reviewer, model, _ := newTestReviewer()
	model.errors[CheckPII] = &apperr.InferenceError{Transient: true, Err: fmt.Errorf("rate limited")}

	res := reviewer.Review(context.Background(), testKey, testUnit(), "")

	require.Len(t, res.Checks, 3)
	pii := res.Check(CheckPII)
	assert.Equal(t, models.OutcomeInconclusive, pii.Outcome)
	assert.Contains(t, pii.Explanation, "inference failed")

	assert.Equal(t, models.OutcomePass, res.Check(CheckCitation).Outcome)
	assert.Equal(t, models.OutcomePass, res.Check(CheckImageCompliance).Outcome)
}

func TestReviewMalformedResponse(t *testing.T) {
	reviewer, model, _ := newTestReviewer()
	model.responses[CheckCitation] = "I think the slide looks fine."

	res := reviewer.Review(context.Background(), testKey, testUnit(), "")

	citation := res.Check(CheckCitation)
	assert.Equal(t, models.OutcomeInconclusive, citation.Outcome)
	assert.Contains(t, citation.Explanation, "malformed")
	assert.Equal(t, models.OutcomePass, res.Check(CheckPII).Outcome)
}

func TestReviewImageUnavailable(t *testing.T) {
	model := newFakeModel()
	store := newFakeStorage() // 没有放入图片
	reviewer := NewReviewer(model, store, logger.NewTestLogger())

	res := reviewer.Review(context.Background(), testKey, testUnit(), "")

	for _, name := range []string{CheckPII, CheckImageCompliance} {
		check := res.Check(name)
		assert.Equal(t, models.OutcomeInconclusive, check.Outcome, name)
		assert.Contains(t, check.Explanation, "image unavailable")
	}
	// 纯文本检查照常执行
	assert.Equal(t, models.OutcomePass, res.Check(CheckCitation).Outcome)
	assert.Len(t, model.invocations(), 1)
}

func TestReviewAppendsCustomPrompt(t *testing.T) {
	reviewer, model, _ := newTestReviewer()

	reviewer.Review(context.Background(), testKey, testUnit(), "also flag internal project names")

	for _, req := range model.invocations() {
		assert.Contains(t, req.Prompt, "also flag internal project names")
	}
}

func TestReviewAttachesImageOnlyWhereNeeded(t *testing.T) {
	reviewer, model, _ := newTestReviewer()

	reviewer.Review(context.Background(), testKey, testUnit(), "")

	for _, req := range model.invocations() {
		if model.checkFor(req.Prompt) == CheckCitation {
			assert.Empty(t, req.ImageData)
		} else {
			assert.Equal(t, []byte("jpeg-bytes"), req.ImageData)
			assert.Equal(t, "image/jpeg", req.ImageMediaType)
		}
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.Outcome
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"outcome": "FAIL", "explanation": "visible patient ID"}`,
			want: models.OutcomeFail,
		},
		{
			name: "json wrapped in prose",
			raw:  "Here is my assessment:\n```\n{\"outcome\": \"PASS\", \"explanation\": \"clean\"}\n```",
			want: models.OutcomePass,
		},
		{
			name:    "unknown outcome value",
			raw:     `{"outcome": "MAYBE", "explanation": "unsure"}`,
			wantErr: true,
		},
		{
			name:    "no json at all",
			raw:     "the slide looks fine to me",
			wantErr: true,
		},
		{
			name:    "broken json",
			raw:     `{"outcome": "PASS", `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseVerdict(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, models.Outcome(verdict.Outcome))
		})
	}
}
