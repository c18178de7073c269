package httpapi

import (
	"context"
	"time"
)

// serverBaseCtx is canceled on shutdown so in-flight /runsync jobs stop too.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// jobContext returns a context that ends when the request ends, the server
// base context ends, or the configured job timeout elapses.
func jobContext(req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(serverBaseCtx, cancel)
	if jobTimeout <= 0 {
		return ctx, func() { stop(); cancel() }
	}
	tctx, tcancel := context.WithTimeout(ctx, jobTimeout)
	return tctx, func() { tcancel(); stop(); cancel() }
}

// readyTimeout bounds the upstream health check behind /readyz.
const readyTimeout = 2 * time.Second
