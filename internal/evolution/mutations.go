package evolution

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// Recognized command parameters for numeric substitution.
var (
	timeoutPattern = regexp.MustCompile(`(?i)(timeout[=\s:-]+)(\d+)`)
	portPattern    = regexp.MustCompile(`(?i)((?:--port|-p|port)[=\s:]+)(\d+)`)
	memoryPattern  = regexp.MustCompile(`(?i)((?:--memory|--max-memory|-m|mem(?:ory)?_limit)[=\s:]+)(\d+)`)
)

// generateMutations produces candidate variants of base for the given
// failure. Parents are never modified; each variant is a clone with the
// transform applied and a lineage-suffixed ID.
func generateMutations(base *solution.Solution, sig signature.ProblemSignature) []*solution.Solution {
	var variants []*solution.Solution

	switch base.Body.Kind {
	case solution.KindCommand, solution.KindRestart:
		variants = append(variants, parameterMutations(base)...)
	case solution.KindCode, solution.KindOnline:
		variants = append(variants, codeMutations(base, sig)...)
	}

	for i, v := range variants {
		v.ID = solution.MutantID(base.ID, i)
		v.UsageCount = 0
	}
	return variants
}

// parameterMutations substitutes recognized numeric parameters in the
// command string: timeouts doubled and halved, ports shifted, memory
// limits doubled.
func parameterMutations(base *solution.Solution) []*solution.Solution {
	text := base.Body.Code
	if text == "" {
		text = base.Body.Action
	}

	var out []*solution.Solution
	appendVariant := func(mutated, transform string) {
		if mutated == text {
			return
		}
		v := base.Clone()
		if base.Body.Code != "" {
			v.Body.Code = mutated
		} else {
			v.Body.Action = mutated
		}
		v.Body.Action = annotate(v.Body.Action, transform)
		out = append(out, v)
	}

	appendVariant(scaleParam(text, timeoutPattern, 2), "timeout doubled")
	appendVariant(scaleParam(text, timeoutPattern, 0.5), "timeout halved")
	appendVariant(shiftParam(text, portPattern, 1), "port shifted")
	appendVariant(scaleParam(text, memoryPattern, 2), "memory limit doubled")
	return out
}

// codeMutations applies resilience transforms to code-kind solutions.
func codeMutations(base *solution.Solution, sig signature.ProblemSignature) []*solution.Solution {
	var out []*solution.Solution

	if !hasErrorHandling(strings.ToLower(base.Body.Code)) {
		v := base.Clone()
		v.Body.Code = wrapErrorHandling(base.Body.Code)
		v.Body.Action = annotate(v.Body.Action, "error handling added")
		out = append(out, v)
	}

	if isTransient(sig.ErrorType) && !strings.Contains(strings.ToLower(base.Body.Code), "retry") {
		v := base.Clone()
		v.Body.Code = wrapBoundedRetry(base.Body.Code)
		v.Body.Action = annotate(v.Body.Action, "bounded retry added")
		out = append(out, v)
	}

	if strings.Contains(base.Body.Code, ".then(") {
		v := base.Clone()
		v.Body.Code = flattenAsyncChain(base.Body.Code)
		v.Body.Action = annotate(v.Body.Action, "async chain flattened")
		out = append(out, v)
	}

	return out
}

func annotate(action, transform string) string {
	if action == "" {
		return transform
	}
	return action + " (" + transform + ")"
}

// scaleParam multiplies the numeric value of every pattern match.
func scaleParam(text string, pattern *regexp.Regexp, factor float64) string {
	return pattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := pattern.FindStringSubmatch(m)
		v, err := strconv.Atoi(sub[2])
		if err != nil {
			return m
		}
		scaled := int(float64(v) * factor)
		if scaled < 1 {
			scaled = 1
		}
		return sub[1] + strconv.Itoa(scaled)
	})
}

// shiftParam adds delta to the numeric value of every pattern match.
func shiftParam(text string, pattern *regexp.Regexp, delta int) string {
	return pattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := pattern.FindStringSubmatch(m)
		v, err := strconv.Atoi(sub[2])
		if err != nil {
			return m
		}
		return sub[1] + strconv.Itoa(v+delta)
	})
}

// wrapErrorHandling wraps code in a structured error-handling block.
func wrapErrorHandling(code string) string {
	return fmt.Sprintf("try {\n%s\n} catch (err) {\n  log.error(\"remediation failed\", err)\n}", indent(code))
}

// wrapBoundedRetry wraps code in a three-attempt retry loop with
// linear backoff.
func wrapBoundedRetry(code string) string {
	return fmt.Sprintf("for attempt in 1..3 {  // retry transient failure\n%s\n  if ok { break }\n  sleep(attempt * 1s)\n}", indent(code))
}

// flattenAsyncChain restructures promise chains to a uniform
// sequential-await style.
func flattenAsyncChain(code string) string {
	flat := strings.ReplaceAll(code, ".then(", "\nawait (")
	return strings.ReplaceAll(flat, ".catch(", "\nonError (")
}

func indent(code string) string {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
