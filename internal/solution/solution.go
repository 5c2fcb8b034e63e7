// Package solution defines the remediation record stored and evolved by
// the engine.
package solution

import (
	"fmt"
	"time"
)

// Kind is the tagged variant of a solution body.
type Kind string

const (
	// KindCode is a code change or snippet.
	KindCode Kind = "code"
	// KindConfig is a configuration change.
	KindConfig Kind = "config"
	// KindRestart is a service restart.
	KindRestart Kind = "restart"
	// KindCommand is a shell command.
	KindCommand Kind = "command"
	// KindOnline is a solution sourced from external knowledge search.
	KindOnline Kind = "online"
)

// Body is the corrective action a solution carries.
type Body struct {
	// Kind tags the variant.
	Kind Kind `json:"kind"`

	// Action is a human-readable description of what to do.
	Action string `json:"action"`

	// Code is optional code or command text.
	Code string `json:"code,omitempty"`

	// Source is an optional traceable attribution for online solutions
	// (repository URL, question URL).
	Source string `json:"source,omitempty"`
}

// Metadata carries descriptive labels for a solution.
type Metadata struct {
	Service   string   `json:"service,omitempty"`
	Language  string   `json:"language,omitempty"`
	Framework string   `json:"framework,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Solution is a stored remediation record with confidence statistics.
type Solution struct {
	// ID is the unique identifier. Derived solutions carry a lineage
	// suffix on the parent ID.
	ID string `json:"id"`

	// ProblemPattern describes the originating problem.
	ProblemPattern string `json:"problem_pattern"`

	// ErrorSignature is the canonical key of the problem this solution
	// was created for.
	ErrorSignature string `json:"error_signature"`

	// Body is the corrective action.
	Body Body `json:"body"`

	// SuccessRate is an exponential moving average of observed outcomes,
	// in [0, 1].
	SuccessRate float64 `json:"success_rate"`

	// UsageCount is how many times this solution has been applied.
	UsageCount int64 `json:"usage_count"`

	// LastUsed is when this solution was last applied.
	LastUsed time.Time `json:"last_used"`

	// EvolutionScore is a secondary, more volatile fitness signal
	// in [0, 1], adjusted by fixed increments per outcome.
	EvolutionScore float64 `json:"evolution_score"`

	// Metadata carries descriptive labels.
	Metadata Metadata `json:"metadata"`
}

// Fitness is the pruning and ranking score: SuccessRate × EvolutionScore.
func (s *Solution) Fitness() float64 {
	return s.SuccessRate * s.EvolutionScore
}

// Clone returns a deep copy. Mutations and crossover always operate on
// copies; parents are never modified in place.
func (s *Solution) Clone() *Solution {
	cp := *s
	if s.Metadata.Tags != nil {
		cp.Metadata.Tags = append([]string(nil), s.Metadata.Tags...)
	}
	return &cp
}

// MutantID derives a lineage-suffixed ID for the nth mutation of parent.
func MutantID(parentID string, n int) string {
	return fmt.Sprintf("%s-mut-%d", parentID, n)
}

// OffspringID derives a lineage ID for a crossover of two parents.
func OffspringID(aID, bID string) string {
	return fmt.Sprintf("%s+%s-x", aID, bID)
}

// Clamp01 clamps v to the [0, 1] range used by both confidence signals.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
