package evolution

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// Engine evolves solutions through mutation and crossover.
type Engine struct {
	evaluator TrialEvaluator
	logger    *zap.Logger
}

// NewEngine creates an evolution engine. A nil evaluator falls back to
// the deterministic heuristic evaluator.
func NewEngine(evaluator TrialEvaluator, logger *zap.Logger) *Engine {
	if evaluator == nil {
		evaluator = NewHeuristicEvaluator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{evaluator: evaluator, logger: logger}
}

// Evolve generates mutations of base, evaluates each, and returns the
// highest-scoring passing mutation, or nil when none pass. The base is
// never modified.
func (e *Engine) Evolve(ctx context.Context, base *solution.Solution, sig signature.ProblemSignature) *solution.Solution {
	variants := generateMutations(base, sig)
	if len(variants) == 0 {
		return nil
	}

	var best *solution.Solution
	bestScore := -1.0
	for _, v := range variants {
		score, pass, err := e.evaluator.Evaluate(ctx, v, sig)
		if err != nil {
			e.logger.Warn("trial evaluation failed, skipping candidate",
				zap.String("candidate_id", v.ID),
				zap.Error(err),
			)
			continue
		}
		if !pass {
			continue
		}
		if score > bestScore {
			best = v
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}

	// The mutant inherits a damped copy of the parent's confidence and
	// starts its evolution score at the trial score.
	best.SuccessRate = solution.Clamp01(base.SuccessRate * 0.9)
	best.EvolutionScore = solution.Clamp01(bestScore)
	best.ErrorSignature = sig.CanonicalKey()
	best.ProblemPattern = sig.ErrorMessage
	best.Metadata.Tags = retagErrorType(best.Metadata.Tags, sig.ErrorType)

	e.logger.Debug("evolved solution",
		zap.String("base_id", base.ID),
		zap.String("mutant_id", best.ID),
		zap.Float64("trial_score", bestScore),
	)
	return best
}

// Crossover combines two same-kind solutions into one offspring:
// action and code content joined with a separator, evolution score
// averaged. Differing kinds are not supported and yield nil.
func (e *Engine) Crossover(a, b *solution.Solution) *solution.Solution {
	if a == nil || b == nil || a.Body.Kind != b.Body.Kind {
		return nil
	}

	offspring := a.Clone()
	offspring.ID = solution.OffspringID(a.ID, b.ID)
	offspring.Body.Action = joinDistinct(a.Body.Action, b.Body.Action, " + ")
	if a.Body.Code != "" || b.Body.Code != "" {
		offspring.Body.Code = joinDistinct(a.Body.Code, b.Body.Code, "\n# --- combined ---\n")
	}
	offspring.SuccessRate = (a.SuccessRate + b.SuccessRate) / 2
	offspring.EvolutionScore = (a.EvolutionScore + b.EvolutionScore) / 2
	offspring.UsageCount = 0
	offspring.Metadata.Tags = mergeTags(a.Metadata.Tags, b.Metadata.Tags)
	return offspring
}

// retagErrorType keeps the error type as the leading tag. A mutant now
// serves the new signature, so it must project into that signature's
// feature space, not its parent's.
func retagErrorType(tags []string, errType string) []string {
	t := strings.ToLower(strings.TrimSpace(errType))
	if t == "" {
		return tags
	}
	if len(tags) == 0 {
		return []string{t}
	}
	out := append([]string(nil), tags...)
	out[0] = t
	return out
}

func joinDistinct(a, b, sep string) string {
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	default:
		return a + sep + b
	}
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string(nil), a...), b...) {
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
