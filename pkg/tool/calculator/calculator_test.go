package calculator_test

import (
	"context"
	"math"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sensei/pkg/tool/calculator"
	"google.golang.org/genai"
)

func TestEvaluate(t *testing.T) {
	testCases := []struct {
		name       string
		expression string
		want       float64
	}{
		{"addition", "1 + 2", 3},
		{"integer division is not truncated", "5 / 2", 2.5},
		{"power operator", "3 ^ 2", 9},
		{"sqrt", "sqrt(25)", 5},
		{"nested functions", "abs(log(exp(2)) - 2)", 0},
		{"unicode multiply", "3 × 4", 12},
		{"unicode divide", "10 ÷ 4", 2.5},
		{"unicode sqrt", "√(16)", 4},
		{"pi constant", "cos(pi)", -1},
		{"factorial", "factorial(5)", 120},
		{"quadratic discriminant", "5^2 - 4 * 1 * 6", 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := gt.R1(calculator.Evaluate(tc.expression)).NoError(t)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expression, got, tc.want)
			}
		})
	}
}

func TestEvaluateRejectsUnknownNames(t *testing.T) {
	_, err := calculator.Evaluate("os.Getenv('HOME')")
	gt.Error(t, err)

	_, err = calculator.Evaluate("unknownFunc(1)")
	gt.Error(t, err)
}

func TestVerifyEquation(t *testing.T) {
	t.Run("holds", func(t *testing.T) {
		holds, lhs, rhs, err := calculator.VerifyEquation("2^2 - 5*2 + 6 = 0", 1e-6)
		gt.NoError(t, err)
		gt.True(t, holds)
		gt.V(t, lhs).Equal(0)
		gt.V(t, rhs).Equal(0)
	})

	t.Run("does not hold", func(t *testing.T) {
		holds, _, _, err := calculator.VerifyEquation("3^2 = 10", 1e-6)
		gt.NoError(t, err)
		gt.False(t, holds)
	})

	t.Run("double equals accepted", func(t *testing.T) {
		holds, _, _, err := calculator.VerifyEquation("sqrt(2) * sqrt(2) == 2", 1e-6)
		gt.NoError(t, err)
		gt.True(t, holds)
	})

	t.Run("no equals sign", func(t *testing.T) {
		_, _, _, err := calculator.VerifyEquation("1 + 1", 1e-6)
		gt.Error(t, err)
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	calc := calculator.New()

	t.Run("calculate", func(t *testing.T) {
		resp := gt.R1(calc.Execute(ctx, genai.FunctionCall{
			Name: "calculate",
			Args: map[string]any{"expression": "sqrt(144)"},
		})).NoError(t)
		gt.V(t, resp.Response["result"]).Equal("12")
	})

	t.Run("calculate reports invalid expression as payload", func(t *testing.T) {
		resp := gt.R1(calc.Execute(ctx, genai.FunctionCall{
			Name: "calculate",
			Args: map[string]any{"expression": "1 +"},
		})).NoError(t)
		gt.V(t, resp.Response["error"]).NotNil()
	})

	t.Run("verify_equation", func(t *testing.T) {
		resp := gt.R1(calc.Execute(ctx, genai.FunctionCall{
			Name: "verify_equation",
			Args: map[string]any{"equation": "2 + 2 = 4"},
		})).NoError(t)
		gt.S(t, resp.Response["result"].(string)).Contains("holds=true")
	})

	t.Run("unknown function", func(t *testing.T) {
		_, err := calc.Execute(ctx, genai.FunctionCall{Name: "nope"})
		gt.Error(t, err)
	})
}

func TestSpec(t *testing.T) {
	spec := calculator.New().Spec()
	gt.V(t, spec).NotNil()
	gt.A(t, spec.FunctionDeclarations).Length(2)
	gt.V(t, spec.FunctionDeclarations[0].Name).Equal("calculate")
	gt.V(t, spec.FunctionDeclarations[1].Name).Equal("verify_equation")
}
