package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/notify"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// emaAlpha is the weight of the newest observation in the success-rate
// moving average.
const emaAlpha = 0.3

// Evolution-score increments per outcome; failures cut deeper than
// successes build.
const (
	evolutionReward  = 0.05
	evolutionPenalty = 0.10
)

// RecordOutcome folds one applied-action outcome into the solution's
// statistics. The update is atomic per solution: two racing outcomes
// each contribute exactly one EMA step, in some serial order.
func (e *Engine) RecordOutcome(ctx context.Context, solutionID string, success bool, performance float64) error {
	ctx, span := e.tracer.Start(ctx, "engine.record_outcome")
	defer span.End()
	span.SetAttributes(
		attribute.String("solution_id", solutionID),
		attribute.Bool("success", success),
	)

	observation := 0.0
	if success {
		observation = 1.0
	}

	updated, err := e.store.Update(solutionID, func(sol *solution.Solution) {
		sol.SuccessRate = emaAlpha*observation + (1-emaAlpha)*sol.SuccessRate
		if success {
			sol.EvolutionScore = solution.Clamp01(sol.EvolutionScore + evolutionReward)
		} else {
			sol.EvolutionScore = solution.Clamp01(sol.EvolutionScore - evolutionPenalty)
		}
		sol.UsageCount++
		sol.LastUsed = time.Now()
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("recording outcome for %s: %w", solutionID, err)
	}

	e.persistAsync(updated)

	if e.outcomeCounter != nil {
		e.outcomeCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
	}
	if e.notifier != nil {
		e.notifier.PublishOutcome(notify.OutcomeEvent{
			SolutionID:     updated.ID,
			ErrorSignature: updated.ErrorSignature,
			Success:        success,
			Performance:    performance,
			RecordedAt:     updated.LastUsed,
		})
	}

	e.logger.Debug("outcome recorded",
		zap.String("solution_id", updated.ID),
		zap.Bool("success", success),
		zap.Float64("success_rate", updated.SuccessRate),
		zap.Float64("evolution_score", updated.EvolutionScore),
	)
	return nil
}
