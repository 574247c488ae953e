package port

import (
	"context"

	"github.com/berfenger/battexec/internal/core/domain"
)

// DecisionFeed pulls the current control plan for one installation.
type DecisionFeed interface {
	FetchPlan(ctx context.Context) (*domain.Plan, error)
}

type FeedbackSink interface {
	SendFeedback(ctx context.Context, feedback domain.Feedback) error
}
