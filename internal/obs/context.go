package obs

import "context"

type routePatternKey struct{}

// WithRoutePattern records the matched chi route pattern so downstream
// middleware can label metrics and spans without re-walking the router.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the recorded pattern, or "" when the
// request never matched a route.
func RoutePatternFromContext(ctx context.Context) string {
	v, _ := ctx.Value(routePatternKey{}).(string)
	return v
}
