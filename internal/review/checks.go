package review

import (
	"fmt"
	"strings"
)

// 检查项名称
const (
	CheckPII             = "pii"
	CheckCitation        = "citation"
	CheckImageCompliance = "image_compliance"
)

const responseFormat = `Respond with JSON only, no markdown fences, in exactly this shape:
{"outcome": "PASS|FAIL|INCONCLUSIVE", "explanation": "short reasoning"}
PASS when nothing is found, FAIL when a violation is present, INCONCLUSIVE when you cannot tell.`

// checkSpec 一项审核检查：名称、适用条件和提示词构造。新增检查只需
// 往表里加一行。
type checkSpec struct {
	name       string
	needsImage bool
	// needsText 为真的检查在无文本时跳过（结论 INCONCLUSIVE）
	needsText bool
	prompt    func(text string) string
}

var checkTable = []checkSpec{
	{
		name:       CheckPII,
		needsImage: true,
		prompt: func(text string) string {
			var sb strings.Builder
			sb.WriteString("Review the attached slide image for personal information: ")
			sb.WriteString("personal names, patient or medical record IDs, facial photos, ")
			sb.WriteString("phone numbers, email addresses or other contact details.\n")
			if text != "" {
				fmt.Fprintf(&sb, "Extracted slide text for reference:\n%s\n", text)
			}
			sb.WriteString(responseFormat)
			return sb.String()
		},
	},
	{
		name:      CheckCitation,
		needsText: true,
		prompt: func(text string) string {
			var sb strings.Builder
			sb.WriteString("Review the following slide text for citation problems: ")
			sb.WriteString("referenced works that do not exist or cannot be verified, ")
			sb.WriteString("citations that misrepresent the referenced work, and citation ")
			sb.WriteString("format violations.\n")
			fmt.Fprintf(&sb, "Slide text:\n%s\n", text)
			sb.WriteString(responseFormat)
			return sb.String()
		},
	},
	{
		name:       CheckImageCompliance,
		needsImage: true,
		prompt: func(text string) string {
			var sb strings.Builder
			sb.WriteString("Review the attached slide image for brand compliance issues: ")
			sb.WriteString("unauthorized third-party logos or trademarks, and disallowed ")
			sb.WriteString("brand color usage.\n")
			sb.WriteString(responseFormat)
			return sb.String()
		},
	},
}
