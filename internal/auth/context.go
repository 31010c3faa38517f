package auth

import "context"

// callerKey 是上下文中存储 Caller 的键类型。
type callerKey struct{}

// WithCaller 将解析出的调用方信息存储到上下文中。
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext 从上下文中提取调用方信息。
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
