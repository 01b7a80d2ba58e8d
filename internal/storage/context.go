package storage

import (
	"context"
	"time"
)

// DefaultQueryTimeout bounds database calls whose context carries no deadline.
const DefaultQueryTimeout = 5 * time.Second

// withQueryTimeout adds DefaultQueryTimeout unless ctx already has a deadline.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
