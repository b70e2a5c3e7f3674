// ABOUTME: Request context helpers for the signed-in console operator
// ABOUTME: Provides WithOperator/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Operator is the identity behind a console session.
type Operator struct {
	Name string
}

// operatorContextKey is the key type for storing Operator in context.Context.
type operatorContextKey struct{}

// WithOperator returns a new context with the Operator attached.
func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, op)
}

// FromContext retrieves the Operator from the context, returning nil if not present.
func FromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorContextKey{}).(*Operator)
	return op
}
