package statusstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/internal/models"
	"github.com/slideguard/slidereview/pkg/logger"
)

// 非法方向的状态变更在发往 Redis 之前就被拒绝，client 为 nil 也不会被触碰
func TestConditionalUpdateRejectsIllegalTransition(t *testing.T) {
	store := NewRedisStore(nil, time.Hour, logger.NewTestLogger())
	ctx := context.Background()

	tests := []struct {
		name     string
		expected models.Status
		next     models.Status
	}{
		{"backward move", models.StatusReviewing, models.StatusConverted},
		{"out of completed", models.StatusCompleted, models.StatusReviewing},
		{"out of error", models.StatusError, models.StatusProcessing},
		{"self transition", models.StatusProcessing, models.StatusProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ConditionalUpdate(ctx, "some-key", tt.expected, Update{
				Status:     tt.next,
				SlideCount: -1,
			})
			assert.ErrorIs(t, err, apperr.ErrConflict)
		})
	}
}
