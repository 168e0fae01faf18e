package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/internal/convert"
	"github.com/slideguard/slidereview/internal/models"
	"github.com/slideguard/slidereview/pkg/logger"
)

type orchestratorFixture struct {
	store     *memStore
	objects   *memStorage
	dispatch  *fakeDispatcher
	converter *fakeConverter
	orch      *Orchestrator
}

func newFixture(slides ...convert.RenderedSlide) *orchestratorFixture {
	f := &orchestratorFixture{
		store:     newMemStore(),
		objects:   newMemStorage(),
		dispatch:  &fakeDispatcher{},
		converter: &fakeConverter{slides: slides},
	}
	f.orch = NewOrchestrator(f.store, f.objects, f.dispatch, f.converter,
		testPipelineConfig(), logger.NewTestLogger())
	return f
}

func twoSlides() []convert.RenderedSlide {
	return []convert.RenderedSlide{
		{Index: 0, Image: []byte("slide-0"), MediaType: "image/jpeg", Text: "first slide"},
		{Index: 1, Image: []byte("slide-1"), MediaType: "image/jpeg", Text: "second slide"},
	}
}

func passResult(index int) models.SlideResult {
	return models.SlideResult{
		SlideIndex: index,
		Checks: []models.CheckResult{
			{Name: "pii", Outcome: models.OutcomePass},
			{Name: "citation", Outcome: models.OutcomePass},
			{Name: "image_compliance", Outcome: models.OutcomePass},
		},
	}
}

func TestSubmitPresentation(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck-bytes"), "Quarterly Deck.pptx", "watch for logos")
	require.NoError(t, err)

	assert.Equal(t, models.StatusReceived, sub.Status)
	assert.Equal(t, models.KindPresentation, sub.Kind)
	assert.Equal(t, "watch for logos", sub.Prompt)
	assert.True(t, strings.HasSuffix(sub.Key, "_quarterly_deck.pptx"), sub.Key)

	// 原始文件落盘在 {key}/original
	assert.True(t, f.objects.has(sub.Key+"/original"))

	// 记录已创建且处理任务已派发
	stored, err := f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReceived, stored.Status)
	assert.Equal(t, []string{sub.Key}, f.dispatch.processKeys)
}

func TestSubmitImageUsesBareKey(t *testing.T) {
	f := newFixture()
	sub, err := f.orch.Submit(context.Background(), []byte("png-bytes"), "photo.png", "")
	require.NoError(t, err)

	assert.Equal(t, models.KindImage, sub.Kind)
	assert.True(t, f.objects.has(sub.Key))
	assert.False(t, f.objects.has(sub.Key+"/original"))
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name     string
		data     []byte
		fileName string
	}{
		{"unsupported extension", []byte("x"), "report.docx"},
		{"empty file", nil, "deck.pptx"},
		{"oversized file", make([]byte, 2048), "deck.pptx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Submit(ctx, tt.data, tt.fileName, "")
			var valErr *apperr.ValidationError
			assert.ErrorAs(t, err, &valErr)
		})
	}

	// 校验失败不产生任何副作用
	assert.Empty(t, f.dispatch.processKeys)
	assert.Empty(t, f.store.subs)
}

func TestProcessConvertsAndDispatchesReviews(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "custom instructions")
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, sub.Key))

	stored, err := f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, stored.Status)
	assert.Equal(t, 2, stored.SlideCount)

	// 每页图片按 1 起始的页号落盘
	assert.True(t, f.objects.has(sub.Key+"/images/slide_1.jpg"))
	assert.True(t, f.objects.has(sub.Key+"/images/slide_2.jpg"))

	require.Len(t, f.dispatch.slideReviews, 2)
	for i, payload := range f.dispatch.slideReviews {
		assert.Equal(t, sub.Key, payload.Key)
		assert.Equal(t, i, payload.Slide.Index)
		assert.Equal(t, 2, payload.ExpectedTotal)
		assert.Equal(t, "custom instructions", payload.Prompt)
		assert.NotEmpty(t, payload.Slide.ImageKey)
	}
}

// 重复投递同一个处理任务不得产生第二批审核任务
func TestProcessReplayIsNoOp(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "")
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, sub.Key))
	require.NoError(t, f.orch.Process(ctx, sub.Key))

	assert.Len(t, f.dispatch.slideReviews, 2)
}

func TestProcessUnknownKeyIsNoOp(t *testing.T) {
	f := newFixture(twoSlides()...)
	assert.NoError(t, f.orch.Process(context.Background(), "missing-key"))
}

func TestProcessConversionFailure(t *testing.T) {
	f := newFixture()
	f.converter.err = apperr.Conversion("corrupt presentation", nil)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "")
	require.NoError(t, err)

	// 转换失败不向队列报错，提交落终态 ERROR
	require.NoError(t, f.orch.Process(ctx, sub.Key))

	stored, err := f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
	assert.Contains(t, stored.Error, "corrupt presentation")
	assert.Empty(t, f.dispatch.slideReviews)
}

func TestProcessDispatchFailure(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "")
	require.NoError(t, err)

	f.dispatch.failSlide = true
	require.NoError(t, f.orch.Process(ctx, sub.Key))

	stored, err := f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
}

func TestOnSlideReviewedCompletesSubmission(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "")
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, sub.Key))

	require.NoError(t, f.orch.OnSlideReviewed(ctx, sub.Key, passResult(0), 2))

	// 只有一页回报时还不能完成
	stored, err := f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, stored.Status)
	assert.Nil(t, stored.Overall)

	require.NoError(t, f.orch.OnSlideReviewed(ctx, sub.Key, passResult(1), 2))

	stored, err = f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Overall)
	assert.Equal(t, models.VerdictPass, stored.Overall.Status)
	assert.Len(t, stored.Results, 2)

	// 最终结论同时存档到对象存储
	assert.True(t, f.objects.has(sub.Key+"/review_result.json"))
}

func TestOnSlideReviewedDuplicateResult(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "")
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, sub.Key))

	// 同一页回报两次不得提前完成
	require.NoError(t, f.orch.OnSlideReviewed(ctx, sub.Key, passResult(0), 2))
	require.NoError(t, f.orch.OnSlideReviewed(ctx, sub.Key, passResult(0), 2))

	stored, err := f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, stored.Status)

	require.NoError(t, f.orch.OnSlideReviewed(ctx, sub.Key, passResult(1), 2))
	stored, err = f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Len(t, stored.Results, 2)
}

// 最后一页可能在 REVIEWING 状态写入前完成，完成逻辑要能补上这一步
func TestFinalizeBeforeReviewingTransition(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	key := "1756400000_abcd1234_deck.pptx"
	require.NoError(t, f.store.CreateIfAbsent(ctx, &models.Submission{
		Key:        key,
		FileName:   "deck.pptx",
		Kind:       models.KindPresentation,
		Status:     models.StatusConverted,
		SlideCount: 1,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}))

	require.NoError(t, f.orch.OnSlideReviewed(ctx, key, passResult(0), 1))

	stored, err := f.store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestOnSlideReviewedAfterTerminal(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "")
	require.NoError(t, err)
	require.NoError(t, f.store.MarkError(ctx, sub.Key, "conversion timed out"))

	// 终态之后迟到的回报不改变任何东西
	require.NoError(t, f.orch.OnSlideReviewed(ctx, sub.Key, passResult(0), 1))

	stored, err := f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
	assert.Empty(t, stored.Results)
}

func TestOnSlideReviewedFailVerdict(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "")
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, sub.Key))

	failing := models.SlideResult{
		SlideIndex: 1,
		Checks: []models.CheckResult{
			{Name: "pii", Outcome: models.OutcomeFail, Explanation: "patient name visible"},
			{Name: "citation", Outcome: models.OutcomePass},
			{Name: "image_compliance", Outcome: models.OutcomePass},
		},
	}
	require.NoError(t, f.orch.OnSlideReviewed(ctx, sub.Key, passResult(0), 2))
	require.NoError(t, f.orch.OnSlideReviewed(ctx, sub.Key, failing, 2))

	stored, err := f.store.Read(ctx, sub.Key)
	require.NoError(t, err)
	require.NotNil(t, stored.Overall)
	assert.Equal(t, models.VerdictFail, stored.Overall.Status)
	assert.Equal(t, 1, stored.Overall.FlaggedSlides)
	assert.Contains(t, stored.Overall.Summary, "slide 1")
}

func TestGetStatusNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.orch.GetStatus(context.Background(), "missing")
	var notFound *apperr.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestSlideImage(t *testing.T) {
	f := newFixture(twoSlides()...)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, []byte("deck"), "deck.pptx", "")
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, sub.Key))

	data, contentType, err := f.orch.SlideImage(ctx, sub.Key, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("slide-1"), data)
	assert.Equal(t, "image/jpeg", contentType)

	var notFound *apperr.NotFoundError
	_, _, err = f.orch.SlideImage(ctx, sub.Key, 2)
	assert.ErrorAs(t, err, &notFound)
	_, _, err = f.orch.SlideImage(ctx, sub.Key, -1)
	assert.ErrorAs(t, err, &notFound)
}
