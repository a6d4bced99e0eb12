package logging

import (
	"context"

	"go.uber.org/zap"
)

type requestKey struct{}

// ForRequest derives a logger tagged with requestID and returns it along
// with a context carrying it. An empty requestID leaves base untagged.
func ForRequest(ctx context.Context, base *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	l := OrNop(base)
	if requestID != "" {
		l = l.With(zap.String("request_id", requestID))
	}
	return context.WithValue(ctx, requestKey{}, l), l
}

// FromContext returns the request logger stored by ForRequest, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	l, _ := ctx.Value(requestKey{}).(*zap.Logger)
	return OrNop(l)
}
