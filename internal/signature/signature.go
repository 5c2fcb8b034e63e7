// Package signature normalizes raw failure reports into canonical keys and
// fixed-length feature vectors for similarity matching.
//
// A ProblemSignature is the engine's only input. The builder derives two
// things from it: a canonical key used for exact lookup, and a numeric
// feature vector used for cosine-similarity ranking. Both derivations are
// pure and deterministic for identical input.
package signature

import (
	"errors"
	"math"
	"strings"
)

var (
	// ErrMissingErrorMessage indicates the signature has no error message.
	ErrMissingErrorMessage = errors.New("error message is required")

	// ErrMissingErrorType indicates the signature has no error type.
	ErrMissingErrorType = errors.New("error type is required")

	// ErrMissingService indicates the signature has no service identifier.
	ErrMissingService = errors.New("service is required")
)

// SystemState captures resource readings at the time of failure.
type SystemState struct {
	// MemoryPercent is memory usage in [0, 100].
	MemoryPercent float64 `json:"memory"`

	// CPUPercent is CPU usage in [0, 100].
	CPUPercent float64 `json:"cpu"`

	// DiskPercent is disk usage in [0, 100].
	DiskPercent float64 `json:"disk_space"`
}

// ProblemSignature is a normalized description of an observed failure.
type ProblemSignature struct {
	// ErrorMessage is the raw error text.
	ErrorMessage string `json:"error_message"`

	// ErrorType is a short category string (e.g. "timeout", "http").
	ErrorType string `json:"error_type"`

	// Service identifies the failing service.
	Service string `json:"service"`

	// Context carries auxiliary string-keyed data.
	Context map[string]string `json:"context,omitempty"`

	// StackTrace is an optional stack trace.
	StackTrace string `json:"stack_trace,omitempty"`

	// SystemState holds resource readings at the time of failure.
	SystemState SystemState `json:"system_state"`
}

// Validate checks that the required fields are present.
// A malformed signature aborts the pipeline before any mutation.
func (s *ProblemSignature) Validate() error {
	if strings.TrimSpace(s.ErrorMessage) == "" {
		return ErrMissingErrorMessage
	}
	if strings.TrimSpace(s.ErrorType) == "" {
		return ErrMissingErrorType
	}
	if strings.TrimSpace(s.Service) == "" {
		return ErrMissingService
	}
	return nil
}

// CanonicalKey returns the exact-lookup key for this signature:
// service-errortype-errormessage, lower-cased, whitespace runs collapsed.
func (s *ProblemSignature) CanonicalKey() string {
	raw := s.Service + "-" + s.ErrorType + "-" + s.ErrorMessage
	return strings.Join(strings.Fields(strings.ToLower(raw)), "-")
}

// errorTypeBuckets are the known error-type categories, in vector order.
// Fixed-size arrays so VectorSize stays a true constant.
var errorTypeBuckets = [...]string{
	"timeout",
	"connection",
	"memory",
	"syntax",
	"http",
	"io",
	"auth",
}

// serviceKeywords are service-name tokens encoded as boolean flags,
// in vector order.
var serviceKeywords = [...]string{
	"api",
	"db",
	"cache",
	"queue",
	"go",
	"node",
	"python",
	"java",
}

// VectorSize is the fixed length of every feature vector: one-hot
// error-type buckets plus a catch-all bucket, three resource readings,
// and the service keyword flags.
const VectorSize = len(errorTypeBuckets) + 1 + 3 + len(serviceKeywords)

// FeatureVector encodes the signature as a fixed-length numeric vector.
//
// Layout: one-hot error-type flags (with a trailing "other" bucket for
// unrecognized types), normalized memory/cpu/disk readings, then service
// keyword flags.
func (s *ProblemSignature) FeatureVector() []float64 {
	vec := make([]float64, VectorSize)

	errType := strings.ToLower(s.ErrorType)
	matched := false
	for i, bucket := range errorTypeBuckets {
		if strings.Contains(errType, bucket) {
			vec[i] = 1
			matched = true
		}
	}
	if !matched {
		vec[len(errorTypeBuckets)] = 1
	}

	base := len(errorTypeBuckets) + 1
	vec[base] = s.SystemState.MemoryPercent / 100
	vec[base+1] = s.SystemState.CPUPercent / 100
	vec[base+2] = s.SystemState.DiskPercent / 100

	service := strings.ToLower(s.Service)
	for i, kw := range serviceKeywords {
		if strings.Contains(service, kw) {
			vec[base+3+i] = 1
		}
	}

	return vec
}

// Cosine returns the cosine similarity between two vectors.
// Returns 0 when either vector has zero magnitude.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// StackIdentifiers extracts up to max identifier-looking tokens from the
// stack trace, used to build search queries. Tokens shorter than four
// characters or without letters are skipped.
func (s *ProblemSignature) StackIdentifiers(max int) []string {
	if s.StackTrace == "" || max <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.FieldsFunc(s.StackTrace, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '.')
	}) {
		tok = strings.Trim(tok, ".")
		if len(tok) < 4 || seen[tok] {
			continue
		}
		hasLetter := false
		for _, r := range tok {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				hasLetter = true
				break
			}
		}
		if !hasLetter {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == max {
			break
		}
	}
	return out
}
