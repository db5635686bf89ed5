package service

import "context"

type contextKey string

const operatorKey contextKey = "operator"

// OperatorInfo is the authenticated caller of an admin request.
type OperatorInfo struct {
	UserID string
	Name   string
	Role   string
}

func WithOperator(ctx context.Context, op *OperatorInfo) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}

func GetOperatorInfo(ctx context.Context) *OperatorInfo {
	val, ok := ctx.Value(operatorKey).(*OperatorInfo)
	if !ok {
		return nil
	}
	return val
}

// CallerID returns the id idempotency keys are scoped to, or "" for anonymous requests.
func CallerID(ctx context.Context) string {
	op := GetOperatorInfo(ctx)
	if op == nil {
		return ""
	}
	return op.UserID
}
