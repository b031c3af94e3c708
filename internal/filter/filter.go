// Package filter selects fixture records with CEL expressions over metadata, server_info and packets.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/woozymasta/fixtura/internal/fixture"
)

var errNotBool = errors.New("filter expression must evaluate to bool")

var dynMap = cel.MapType(cel.StringType, cel.DynType)

var envOptions = []cel.EnvOption{
	cel.Variable(fixture.KeyMetadata, dynMap),
	cel.Variable(fixture.KeyServerInfo, dynMap),
	cel.Variable(fixture.KeyPackets, cel.StringType),
	cel.CrossTypeNumericComparisons(true),

	// "Chernarus".icontains("chern")
	cel.Function("icontains",
		cel.MemberOverload("string_icontains_string",
			[]*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				s, ok := lhs.(types.String)
				if !ok {
					return types.ValOrErr(lhs, "unexpected type '%v' passed to icontains", lhs.Type())
				}
				sub, ok := rhs.(types.String)
				if !ok {
					return types.ValOrErr(rhs, "unexpected type '%v' passed to icontains", rhs.Type())
				}
				return types.Bool(strings.Contains(strings.ToLower(string(s)), strings.ToLower(string(sub))))
			}),
		),
	),
}

// Filter is a compiled record predicate. It is safe for concurrent use.
type Filter struct {
	program cel.Program
	expr    string
}

// Compile parses and type-checks expr.
func Compile(expr string) (*Filter, error) {
	env, err := cel.NewEnv(envOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile filter %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w, got %s", errNotBool, t)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter program: %w", err)
	}

	return &Filter{expr: expr, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the filter against a record as returned by fixture.Storage.ListAll.
// Missing sections are bound as empty values.
func (f *Filter) Match(record map[string]any) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		fixture.KeyMetadata:   section(record, fixture.KeyMetadata),
		fixture.KeyServerInfo: section(record, fixture.KeyServerInfo),
		fixture.KeyPackets:    packets(record),
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter %q: %w", f.expr, err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w, got %s", errNotBool, out.Type())
	}

	return matched, nil
}

func section(record map[string]any, key string) map[string]any {
	if m, ok := record[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func packets(record map[string]any) string {
	s, _ := record[fixture.KeyPackets].(string)
	return s
}
