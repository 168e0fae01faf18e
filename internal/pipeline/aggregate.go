package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slideguard/slidereview/internal/models"
)

// Aggregate 把一次提交的全部幻灯片结果汇总为最终结论。输入顺序无关：
// 先按幻灯片序号排序再汇总，任何到达顺序都得到相同结果。
//
// 结论规则：任一检查 FAIL 则整体 FAIL；否则存在 INCONCLUSIVE 则
// PARTIAL；否则 PASS。
func Aggregate(results []models.SlideResult, summaryLimit int) *models.OverallResult {
	sorted := make([]models.SlideResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SlideIndex < sorted[j].SlideIndex
	})

	var failures []flaggedSlide
	inconclusive := 0

	for _, res := range sorted {
		var failedChecks []string
		for _, check := range res.Checks {
			switch check.Outcome {
			case models.OutcomeFail:
				failedChecks = append(failedChecks, check.Name)
			case models.OutcomeInconclusive:
				inconclusive++
			}
		}
		if len(failedChecks) > 0 {
			failures = append(failures, flaggedSlide{index: res.SlideIndex, checks: failedChecks})
		}
	}

	overall := &models.OverallResult{FlaggedSlides: len(failures)}
	switch {
	case len(failures) > 0:
		overall.Status = models.VerdictFail
		overall.Summary = failSummary(failures, len(sorted), summaryLimit)
	case inconclusive > 0:
		overall.Status = models.VerdictPartial
		overall.Summary = fmt.Sprintf("no failures; %d check(s) inconclusive across %d slide(s)",
			inconclusive, len(sorted))
	default:
		overall.Status = models.VerdictPass
		overall.Summary = fmt.Sprintf("all %d slide(s) passed review", len(sorted))
	}
	return overall
}

type flaggedSlide struct {
	index  int
	checks []string
}

func failSummary(failures []flaggedSlide, total, limit int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d slide(s) flagged: ", len(failures), total)

	shown := failures
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	parts := make([]string, 0, len(shown))
	for _, f := range shown {
		parts = append(parts, fmt.Sprintf("slide %d (%s)", f.index, strings.Join(f.checks, ", ")))
	}
	sb.WriteString(strings.Join(parts, ", "))
	if len(failures) > len(shown) {
		fmt.Fprintf(&sb, " and %d more", len(failures)-len(shown))
	}
	return sb.String()
}
