package dispatch

import "context"

// Budget threads recursion depth and accumulated ancestor cost through
// ambient context across nested sub-agent dispatches, mirroring the
// teacher's run-context/ParentRunID propagation: a child dispatch reads its
// parent's Budget to know how deep it already is and how much of the
// shared cost ceiling ancestors have already spent.
type Budget struct {
	Depth int
	Cost  float64
}

type budgetKey struct{}

// WithBudget attaches b to ctx for propagation into nested dispatch calls.
func WithBudget(ctx context.Context, b Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFromContext returns the ambient Budget, or the zero value if none
// was attached (a top-level dispatch with no ancestors).
func BudgetFromContext(ctx context.Context) Budget {
	b, _ := ctx.Value(budgetKey{}).(Budget)
	return b
}
