package kernel

import (
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// ToolResult is the sealed outcome of one tool call. args_hash binds the
// call deterministically into EPACK payloads.
type ToolResult struct {
	OK       bool           `json:"ok"`
	Tool     string         `json:"tool"`
	ArgsHash string         `json:"args_hash"`
	Output   map[string]any `json:"output"`
}

func argsHash(tool string, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	h, err := stablehash.Hash(map[string]any{"tool": tool, "args": args})
	if err != nil {
		return ""
	}
	return h
}

const calcAllowedChars = "0123456789.+-*/() "

// SafeCalc evaluates a basic arithmetic expression over a whitelisted
// syntax tree. No identifiers, calls, or indexing ever evaluate; the
// character allow-list rejects them before parsing even starts.
func SafeCalc(expr string) ToolResult {
	ah := argsHash("safe_calc", map[string]any{"expr": expr})
	fail := func(reason string) ToolResult {
		return ToolResult{OK: false, Tool: "safe_calc", ArgsHash: ah, Output: map[string]any{"error": reason}}
	}

	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return fail("empty_expr")
	}
	for _, ch := range expr {
		if !strings.ContainsRune(calcAllowedChars, ch) {
			return fail("invalid_chars")
		}
	}

	node, err := parser.ParseExpr(trimmed)
	if err != nil {
		return fail("eval_failed")
	}
	val, evalErr := evalCalcNode(node)
	if evalErr != "" {
		return fail(evalErr)
	}
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fail("nonfinite")
	}
	return ToolResult{OK: true, Tool: "safe_calc", ArgsHash: ah, Output: map[string]any{"value": val}}
}

func evalCalcNode(node ast.Expr) (float64, string) {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return evalCalcNode(n.X)
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, "eval_failed"
		}
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, "eval_failed"
		}
		return v, ""
	case *ast.UnaryExpr:
		v, errs := evalCalcNode(n.X)
		if errs != "" {
			return 0, errs
		}
		switch n.Op {
		case token.ADD:
			return v, ""
		case token.SUB:
			return -v, ""
		}
		return 0, "eval_failed"
	case *ast.BinaryExpr:
		left, errs := evalCalcNode(n.X)
		if errs != "" {
			return 0, errs
		}
		right, errs := evalCalcNode(n.Y)
		if errs != "" {
			return 0, errs
		}
		switch n.Op {
		case token.ADD:
			return left + right, ""
		case token.SUB:
			return left - right, ""
		case token.MUL:
			return left * right, ""
		case token.QUO:
			if right == 0 {
				return 0, "division_by_zero"
			}
			return left / right, ""
		}
		return 0, "eval_failed"
	}
	return 0, "eval_failed"
}

// ToolFunc executes one allow-listed tool.
type ToolFunc func(args map[string]any) ToolResult

// ToolRegistry is the single choke point for tool dispatch. Tools not on
// the allow list never execute.
type ToolRegistry struct {
	tools map[string]ToolFunc
}

// NewToolRegistry returns a registry with the built-in calculator. Search
// tools register at startup when their providers are configured.
func NewToolRegistry() *ToolRegistry {
	r := &ToolRegistry{tools: map[string]ToolFunc{}}
	r.Register("safe_calc", func(args map[string]any) ToolResult {
		expr, _ := args["expr"].(string)
		return SafeCalc(expr)
	})
	return r
}

// Register adds a tool to the allow list.
func (r *ToolRegistry) Register(name string, fn ToolFunc) {
	r.tools[name] = fn
}

// Call dispatches an allow-listed tool. Unknown tools fail closed.
func (r *ToolRegistry) Call(tool string, args map[string]any) ToolResult {
	fn, ok := r.tools[tool]
	if !ok {
		return ToolResult{
			OK:       false,
			Tool:     tool,
			ArgsHash: argsHash(tool, args),
			Output:   map[string]any{"error": "tool_not_allowed"},
		}
	}
	return fn(args)
}
