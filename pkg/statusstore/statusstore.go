// pkg/statusstore/statusstore.go
package statusstore

import (
	"context"

	"github.com/slideguard/slidereview/internal/models"
)

// Update 条件更新要写入的字段。SlideCount 为 -1 表示不修改。
type Update struct {
	Status     models.Status
	SlideCount int
	Error      string
	Overall    *models.OverallResult
}

// Store 提交状态的持久化接口。所有写操作都是带条件的：状态变更以
// 期望当前状态做比较交换，结果追加按幻灯片序号去重。这是并发的幻灯
// 片审核回调和 at-least-once 重复投递不需要全局锁就能安全的原因。
type Store interface {
	// CreateIfAbsent 创建提交记录，键已存在返回 apperr.ErrConflict
	CreateIfAbsent(ctx context.Context, sub *models.Submission) error

	// ConditionalUpdate 仅当当前状态等于 expected 时应用 upd。
	// 状态不匹配或 expected → upd.Status 不是合法的前进方向时返回
	// apperr.ErrConflict，键不存在返回 NotFoundError。
	ConditionalUpdate(ctx context.Context, key string, expected models.Status, upd Update) error

	// MarkError 将提交置为终态 ERROR 并记录原因。已处于终态则为
	// 空操作（不报错），ERROR 可从任意非终态进入。
	MarkError(ctx context.Context, key string, cause string) error

	// AppendResult 原子追加一条幻灯片结果并返回当前结果总数。
	// 相同幻灯片序号的重复追加不生效，返回值不变。
	AppendResult(ctx context.Context, key string, res models.SlideResult) (int, error)

	// Read 读取提交记录快照，结果按幻灯片序号排序。
	Read(ctx context.Context, key string) (*models.Submission, error)
}
