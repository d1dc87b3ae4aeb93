// Package calculator provides a safe arithmetic evaluator exposed to the
// LLM as a function-calling tool and used directly by answer verification.
package calculator

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

var ErrInvalidExpression = goerr.New("invalid expression")

// env is the complete set of names an expression may reference. Everything
// else fails compilation, which keeps evaluation safe against arbitrary input.
var env = map[string]any{
	"sqrt":  math.Sqrt,
	"cbrt":  math.Cbrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"log":   math.Log,
	"log10": math.Log10,
	"log2":  math.Log2,
	"exp":   math.Exp,
	"abs":   math.Abs,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.Round,
	"pow":   math.Pow,
	"pi":    math.Pi,
	"e":     math.E,
	"factorial": func(n float64) float64 {
		if n < 0 || n != math.Trunc(n) {
			return math.NaN()
		}
		result := 1.0
		for i := 2.0; i <= n; i++ {
			result *= i
		}
		return result
	},
}

var tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|\d+(\.\d+)?`)

// normalize rewrites common math notation into evaluator syntax
func normalize(expression string) string {
	replacer := strings.NewReplacer(
		"×", "*",
		"÷", "/",
		"√", "sqrt",
		"π", "pi",
		"−", "-",
	)
	expression = replacer.Replace(expression)

	// Integer literals become float literals so division is never truncated
	return tokenPattern.ReplaceAllStringFunc(expression, func(token string) string {
		if token[0] >= '0' && token[0] <= '9' && !strings.Contains(token, ".") {
			return token + ".0"
		}
		return token
	})
}

// Evaluate computes a math expression and returns its numeric value
func Evaluate(expression string) (float64, error) {
	normalized := normalize(expression)

	program, err := expr.Compile(normalized, expr.Env(env))
	if err != nil {
		return 0, goerr.Wrap(ErrInvalidExpression, "failed to compile expression",
			goerr.V("expression", expression))
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to evaluate expression", goerr.V("expression", expression))
	}

	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, goerr.Wrap(ErrInvalidExpression, "expression is not numeric",
			goerr.V("expression", expression), goerr.V("result", out))
	}
}

// VerifyEquation evaluates both sides of "lhs = rhs" and reports whether
// they agree within the tolerance (relative to the magnitude of the sides)
func VerifyEquation(equation string, tolerance float64) (bool, float64, float64, error) {
	normalized := strings.ReplaceAll(equation, "==", "=")
	parts := strings.Split(normalized, "=")
	if len(parts) != 2 {
		return false, 0, 0, goerr.Wrap(ErrInvalidExpression, "equation must have exactly one '='",
			goerr.V("equation", equation))
	}

	lhs, err := Evaluate(parts[0])
	if err != nil {
		return false, 0, 0, err
	}
	rhs, err := Evaluate(parts[1])
	if err != nil {
		return false, 0, 0, err
	}

	scale := math.Max(1, math.Max(math.Abs(lhs), math.Abs(rhs)))
	return math.Abs(lhs-rhs) <= tolerance*scale, lhs, rhs, nil
}

// Calculator is the function-calling tool wrapper
type Calculator struct{}

func New() *Calculator {
	return &Calculator{}
}

func (x *Calculator) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "calculate",
				Description: "Evaluate a math expression and return its numeric value. Supports sqrt, trig, log, exp, abs, factorial, pi and e.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"expression": {
							Type:        genai.TypeString,
							Description: "Math expression to evaluate, e.g. 'sqrt(25) + 3^2'",
						},
					},
					Required: []string{"expression"},
				},
			},
			{
				Name:        "verify_equation",
				Description: "Check whether an equation of the form 'lhs = rhs' holds numerically.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"equation": {
							Type:        genai.TypeString,
							Description: "Equation to verify, e.g. '2^2 - 5*2 + 6 = 0'",
						},
					},
					Required: []string{"equation"},
				},
			},
		},
	}
}

func (x *Calculator) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	switch fc.Name {
	case "calculate":
		expression, ok := fc.Args["expression"].(string)
		if !ok {
			return nil, goerr.New("calculate requires an expression argument")
		}
		value, err := Evaluate(expression)
		if err != nil {
			return &genai.FunctionResponse{
				Name:     fc.Name,
				Response: map[string]any{"error": err.Error()},
			}, nil
		}
		return &genai.FunctionResponse{
			Name:     fc.Name,
			Response: map[string]any{"result": fmt.Sprintf("%g", value)},
		}, nil

	case "verify_equation":
		equation, ok := fc.Args["equation"].(string)
		if !ok {
			return nil, goerr.New("verify_equation requires an equation argument")
		}
		holds, lhs, rhs, err := VerifyEquation(equation, 1e-6)
		if err != nil {
			return &genai.FunctionResponse{
				Name:     fc.Name,
				Response: map[string]any{"error": err.Error()},
			}, nil
		}
		return &genai.FunctionResponse{
			Name: fc.Name,
			Response: map[string]any{
				"result": fmt.Sprintf("holds=%t lhs=%g rhs=%g", holds, lhs, rhs),
			},
		}, nil

	default:
		return nil, goerr.New("unknown function", goerr.V("name", fc.Name))
	}
}

func (x *Calculator) Prompt(ctx context.Context) string {
	return "Use the calculate tool for any non-trivial arithmetic instead of computing it yourself, and verify_equation to double-check candidate solutions."
}

func (x *Calculator) Flags() []cli.Flag {
	return nil
}
