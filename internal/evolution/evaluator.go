// Package evolution produces new candidate solutions from existing ones
// via parameter and code mutations and same-kind crossover.
//
// Candidate mutations are scored by a pluggable TrialEvaluator before
// acceptance. The default evaluator is deterministic: it scores static
// resilience properties of the candidate rather than flipping coins, so
// the same base and signature always evolve the same way. A canary
// harness that replays the candidate in a sandbox can be plugged in
// through the same interface.
package evolution

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// TrialEvaluator scores a candidate mutation before it is accepted.
type TrialEvaluator interface {
	// Evaluate returns a score in [0, 1] and whether the candidate
	// passes. Higher scores are preferred among passing candidates.
	Evaluate(ctx context.Context, candidate *solution.Solution, sig signature.ProblemSignature) (score float64, pass bool, err error)
}

// HeuristicEvaluator is the default deterministic evaluator. It scores
// candidates on static resilience properties relevant to the failure.
type HeuristicEvaluator struct {
	// PassThreshold is the minimum passing score. Default: 0.5.
	PassThreshold float64
}

// NewHeuristicEvaluator returns an evaluator with the default threshold.
func NewHeuristicEvaluator() *HeuristicEvaluator {
	return &HeuristicEvaluator{PassThreshold: 0.5}
}

// Evaluate implements TrialEvaluator.
func (e *HeuristicEvaluator) Evaluate(_ context.Context, candidate *solution.Solution, sig signature.ProblemSignature) (float64, bool, error) {
	threshold := e.PassThreshold
	if threshold == 0 {
		threshold = 0.5
	}

	score := 0.4
	body := candidate.Body
	text := body.Code
	if text == "" {
		text = body.Action
	}
	lower := strings.ToLower(text)

	if isTransient(sig.ErrorType) && strings.Contains(lower, "retry") {
		score += 0.2
	}
	if body.Kind == solution.KindCode && hasErrorHandling(lower) {
		score += 0.15
	}
	if body.Kind == solution.KindCommand && commandParamsSane(text) {
		score += 0.1
	}
	if body.Kind == solution.KindCode && strings.TrimSpace(body.Code) == "" {
		score -= 0.3
	}

	score = solution.Clamp01(score)
	return score, score >= threshold, nil
}

// isTransient reports whether the error type suggests a transient
// failure worth retrying.
func isTransient(errType string) bool {
	t := strings.ToLower(errType)
	return strings.Contains(t, "timeout") || strings.Contains(t, "connection")
}

// errorHandlingPattern matches structured error-handling constructs.
// Word boundaries keep "retry" from counting as "try".
var errorHandlingPattern = regexp.MustCompile(`\b(try|catch|rescue)\b|if err`)

// hasErrorHandling reports whether the text already contains a
// structured error-handling construct.
func hasErrorHandling(lower string) bool {
	return errorHandlingPattern.MatchString(lower)
}

// commandParamsSane checks recognized numeric parameters for sanity:
// timeouts at most 600 seconds, ports within the valid range.
func commandParamsSane(text string) bool {
	for _, m := range timeoutPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.Atoi(m[2])
		if err != nil || v <= 0 || v > 600 {
			return false
		}
	}
	for _, m := range portPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.Atoi(m[2])
		if err != nil || v < 1 || v > 65535 {
			return false
		}
	}
	return true
}
