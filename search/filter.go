package search

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/pythseq/compleconta"
)

// HitFilter is a compiled CEL expression deciding which tabular rows take
// part in top-hit reduction.
//
// The expression sees one row through the variables query and subject
// (string), pident, evalue and bitscore (double), and length, mismatch and
// gapopen (int). It must evaluate to a bool:
//
//	pident >= 30.0 && evalue < 1e-5 && length >= 50
//
// A compiled filter is safe for concurrent use.
type HitFilter struct {
	expr string
	prg  cel.Program
}

// NewHitFilter compiles expr.
func NewHitFilter(expr string) (*HitFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("query", cel.StringType),
		cel.Variable("subject", cel.StringType),
		cel.Variable("pident", cel.DoubleType),
		cel.Variable("evalue", cel.DoubleType),
		cel.Variable("bitscore", cel.DoubleType),
		cel.Variable("length", cel.IntType),
		cel.Variable("mismatch", cel.IntType),
		cel.Variable("gapopen", cel.IntType),
	)
	if err != nil {
		return nil, compleconta.NewInternalError("search.NewHitFilter", err)
	}

	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, compleconta.NewConfigurationError("search.NewHitFilter",
			fmt.Errorf("%w: hit filter: %w", compleconta.ErrInvalidConfig, iss.Err()))
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, compleconta.NewConfigurationError("search.NewHitFilter",
			fmt.Errorf("%w: hit filter must be a bool expression, got %s", compleconta.ErrInvalidConfig, ast.OutputType()))
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, compleconta.NewConfigurationError("search.NewHitFilter",
			fmt.Errorf("%w: hit filter: %w", compleconta.ErrInvalidConfig, err))
	}
	return &HitFilter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *HitFilter) String() string {
	return f.expr
}

// Keep evaluates the filter on h.
func (f *HitFilter) Keep(h Hit) (bool, error) {
	out, _, err := f.prg.Eval(map[string]any{
		"query":    h.Query,
		"subject":  h.Subject,
		"pident":   h.PIdent,
		"evalue":   h.EValue,
		"bitscore": h.BitScore,
		"length":   int64(h.Length),
		"mismatch": int64(h.Mismatch),
		"gapopen":  int64(h.GapOpen),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate hit filter on %s/%s: %w", h.Query, h.Subject, err)
	}
	keep, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("hit filter returned %T, want bool", out.Value())
	}
	return keep, nil
}

// Apply returns the hits the filter keeps. A nil filter keeps everything.
func (f *HitFilter) Apply(hits []Hit) ([]Hit, error) {
	if f == nil {
		return hits, nil
	}
	out := hits[:0:0]
	for _, h := range hits {
		keep, err := f.Keep(h)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, h)
		}
	}
	return out, nil
}
