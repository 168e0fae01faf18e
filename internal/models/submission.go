package models

import (
	"time"
)

// ContentKind 上传内容类型
type ContentKind string

const (
	KindPresentation ContentKind = "presentation"
	KindImage        ContentKind = "image"
)

// Status 提交处理状态
type Status string

const (
	StatusReceived   Status = "RECEIVED"
	StatusProcessing Status = "PROCESSING"
	StatusConverted  Status = "CONVERTED"
	StatusReviewing  Status = "REVIEWING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

var statusRank = map[Status]int{
	StatusReceived:   0,
	StatusProcessing: 1,
	StatusConverted:  2,
	StatusReviewing:  3,
	StatusCompleted:  4,
	StatusError:      5,
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether moving from s to next is a forward move.
// ERROR is reachable from every non-terminal state; nothing leaves a
// terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	from, ok1 := statusRank[s]
	to, ok2 := statusRank[next]
	return ok1 && ok2 && to > from
}

// Outcome 单项审核结论
type Outcome string

const (
	OutcomePass         Outcome = "PASS"
	OutcomeFail         Outcome = "FAIL"
	OutcomeInconclusive Outcome = "INCONCLUSIVE"
)

// Verdict 整体审核结论
type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictFail    Verdict = "FAIL"
	VerdictPartial Verdict = "PARTIAL"
)

// SlideUnit 转换产出的一页幻灯片（或单张图片），审核的输入单元
type SlideUnit struct {
	Index    int    `json:"index"`
	ImageKey string `json:"imageKey"`
	Text     string `json:"text,omitempty"`
}

// CheckResult 单项检查结果
type CheckResult struct {
	Name        string  `json:"name"`
	Outcome     Outcome `json:"outcome"`
	Explanation string  `json:"explanation,omitempty"`
	ResponseKey string  `json:"responseKey,omitempty"`
}

// SlideResult 单页幻灯片的三项检查结果，创建后不再修改
type SlideResult struct {
	SlideIndex int           `json:"slideIndex"`
	Checks     []CheckResult `json:"checks"`
}

// Check returns the result for the named check, or nil.
func (r *SlideResult) Check(name string) *CheckResult {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}

// OverallResult 跨所有幻灯片聚合出的最终结论
type OverallResult struct {
	Status        Verdict `json:"status"`
	Summary       string  `json:"summary"`
	FlaggedSlides int     `json:"flaggedSlides"`
}

// Submission 一次上传的端到端处理记录，以存储键唯一标识
type Submission struct {
	Key        string         `json:"s3_key"`
	FileName   string         `json:"fileName"`
	Kind       ContentKind    `json:"kind"`
	Status     Status         `json:"status"`
	SlideCount int            `json:"slideCount"`
	Prompt     string         `json:"prompt,omitempty"`
	Error      string         `json:"error,omitempty"`
	Results    []SlideResult  `json:"results,omitempty"`
	Overall    *OverallResult `json:"overall,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}
