package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

// Query is the rule every ingest policy bundle must define. It evaluates to
// {"allow": bool, "deny": [{"code": ..., "message": ...}]} for input
// {"record": <telemetry record>, "source": "http"|"mqtt", "parameters": [...]}
// where parameters lists the record's distinct measurement parameters, sorted.
const Query = "data.sensorgw.ingest.result"

const (
	// DenyCodePolicy replaces an empty code in a deny entry.
	DenyCodePolicy = "POLICY_DENIED"
	// DenyCodeNotAllowed is reported when allow is false and no entry says why.
	DenyCodeNotAllowed = "INGEST_NOT_ALLOWED"
)

type evalInput struct {
	Record     domain.TelemetryRecord `json:"record"`
	Source     string                 `json:"source,omitempty"`
	Parameters []string               `json:"parameters"`
}

func newEvalInput(input domain.PolicyInput) evalInput {
	seen := make(map[string]struct{}, len(input.Record.Measurements))
	params := make([]string, 0, len(input.Record.Measurements))
	for _, m := range input.Record.Measurements {
		if _, ok := seen[m.Parameter]; ok {
			continue
		}
		seen[m.Parameter] = struct{}{}
		params = append(params, m.Parameter)
	}
	sort.Strings(params)
	return evalInput{Record: input.Record, Source: input.Source, Parameters: params}
}

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("hash policy bundle: %w", err)
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(Query),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy bundle: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared, bundleHash: bundleHash}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(newEvalInput(input)))
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, errors.New("empty policy result")
	}
	result, err := decodePolicyResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	return domain.PolicyEvaluation{BundleHash: e.bundleHash, Result: normalizeResult(result)}, nil
}

func normalizeResult(result domain.PolicyResult) domain.PolicyResult {
	for i := range result.Deny {
		if strings.TrimSpace(result.Deny[i].Code) == "" {
			result.Deny[i].Code = DenyCodePolicy
		}
	}
	sort.Slice(result.Deny, func(i, j int) bool {
		if result.Deny[i].Code == result.Deny[j].Code {
			return result.Deny[i].Message < result.Deny[j].Message
		}
		return result.Deny[i].Code < result.Deny[j].Code
	})
	if len(result.Deny) > 0 {
		result.Allow = false
	}
	if !result.Allow && len(result.Deny) == 0 {
		result.Deny = []domain.PolicyDeny{{Code: DenyCodeNotAllowed}}
	}
	return result
}

func decodePolicyResult(value any) (domain.PolicyResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.PolicyResult{}, err
	}
	var result domain.PolicyResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.PolicyResult{}, fmt.Errorf("decode policy result: %w", err)
	}
	return result, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
