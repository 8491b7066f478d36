// Package validate implements ValidationPort as a set of red-flag rules.
package validate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/wave"
)

// Rule inspects one candidate output. A rule returns violations for content
// it rejects and an error only when it could not run.
type Rule interface {
	Name() string
	Check(ctx context.Context, out domain.CandidateOutput) ([]string, error)
}

// RuleSet runs every rule and concatenates their violations.
type RuleSet struct {
	rules []Rule
}

var _ domain.ValidationPort = (*RuleSet)(nil)

// NewRuleSet creates a RuleSet over rules.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// Len returns the number of rules.
func (s *RuleSet) Len() int { return len(s.rules) }

// Validate implements domain.ValidationPort.
func (s *RuleSet) Validate(ctx context.Context, out domain.CandidateOutput) ([]string, error) {
	var violations []string
	for _, r := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := r.Check(ctx, out)
		if err != nil {
			return nil, domain.WrapEngineError(domain.ErrValidatorFailed.Code, "rule "+r.Name(), err)
		}
		for _, msg := range v {
			violations = append(violations, r.Name()+": "+msg)
		}
	}
	return violations, nil
}

// EmptyOutputRule rejects outputs that are blank after trimming.
type EmptyOutputRule struct{}

func (EmptyOutputRule) Name() string { return "empty_output" }

func (EmptyOutputRule) Check(_ context.Context, out domain.CandidateOutput) ([]string, error) {
	if strings.TrimSpace(out.Raw) == "" {
		return []string{"output is empty"}, nil
	}
	return nil, nil
}

// MaxBytesRule rejects outputs longer than Limit bytes.
type MaxBytesRule struct {
	Limit int
}

func (MaxBytesRule) Name() string { return "max_bytes" }

func (r MaxBytesRule) Check(_ context.Context, out domain.CandidateOutput) ([]string, error) {
	if r.Limit > 0 && len(out.Raw) > r.Limit {
		return []string{fmt.Sprintf("output is %d bytes, limit %d", len(out.Raw), r.Limit)}, nil
	}
	return nil, nil
}

// ForbiddenReferenceRule rejects outputs that mention any pattern,
// compared case-insensitively.
type ForbiddenReferenceRule struct {
	Patterns []string
}

func (ForbiddenReferenceRule) Name() string { return "forbidden_reference" }

func (r ForbiddenReferenceRule) Check(_ context.Context, out domain.CandidateOutput) ([]string, error) {
	lower := strings.ToLower(out.Raw)
	var violations []string
	for _, p := range r.Patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			violations = append(violations, fmt.Sprintf("references %q", p))
		}
	}
	return violations, nil
}

// SecretRule rejects outputs that leak credentials, using the default
// gitleaks rule pack. Findings never echo the secret itself.
type SecretRule struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewSecretRule loads the default gitleaks configuration.
func NewSecretRule() (*SecretRule, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks config: %w", err)
	}
	return &SecretRule{detector: d}, nil
}

func (*SecretRule) Name() string { return "secret" }

func (r *SecretRule) Check(_ context.Context, out domain.CandidateOutput) ([]string, error) {
	r.mu.Lock()
	findings := r.detector.DetectString(out.Raw)
	r.mu.Unlock()

	violations := make([]string, 0, len(findings))
	for _, f := range findings {
		violations = append(violations, fmt.Sprintf("possible %s at line %d", f.RuleID, f.StartLine))
	}
	return violations, nil
}

// DependencyCycleRule rejects outputs whose declared dependency edges form a
// cycle, alone or combined with Existing. Edges are declared one per line as
// "depends: <task> -> <dependency>".
type DependencyCycleRule struct {
	// Existing maps task ID to the IDs it already depends on.
	Existing map[string][]string
}

func (DependencyCycleRule) Name() string { return "dependency_cycle" }

func (r DependencyCycleRule) Check(_ context.Context, out domain.CandidateOutput) ([]string, error) {
	declared := ParseDependsEdges(out.Raw)
	if len(declared) == 0 {
		return nil, nil
	}

	edges := make(map[string][]string)
	add := func(from string, to ...string) {
		if _, ok := edges[from]; !ok {
			edges[from] = nil
		}
		for _, t := range to {
			edges[from] = append(edges[from], t)
			if _, ok := edges[t]; !ok {
				edges[t] = nil
			}
		}
	}
	for from, to := range r.Existing {
		add(from, to...)
	}
	for _, e := range declared {
		add(e[0], e[1])
	}

	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, domain.Task{ID: id, DependsOn: edges[id]})
	}

	_, err := wave.BuildGraph(tasks)
	var cerr *wave.CycleError
	if errors.As(err, &cerr) {
		return []string{"introduces cycle " + strings.Join(cerr.Witness, " -> ")}, nil
	}
	return nil, err
}

// ParseDependsEdges extracts "depends: a -> b" declarations as [a, b] pairs.
func ParseDependsEdges(raw string) [][2]string {
	var out [][2]string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < len("depends:") || !strings.EqualFold(line[:len("depends:")], "depends:") {
			continue
		}
		from, to, ok := strings.Cut(line[len("depends:"):], "->")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			continue
		}
		out = append(out, [2]string{from, to})
	}
	return out
}
