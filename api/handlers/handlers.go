package handlers

import (
	"fmt"
	"strconv"

	"github.com/slideguard/slidereview/internal/pipeline"
	"github.com/slideguard/slidereview/pkg/logger"
)

type Handlers struct {
	Review *ReviewHandler
}

func NewHandlers(
	orchestrator *pipeline.Orchestrator,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Review: NewReviewHandler(orchestrator, logger),
	}
}

func bindSlideIndex(raw string, out *int) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("negative slide index %d", n)
	}
	*out = n
	return nil
}
