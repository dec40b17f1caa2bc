package events

import (
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/router"
)

// DefaultHandlerTimeout is ROUTER_HANDLER_ROUTINE_TIMEOUT's default: the
// wall-clock budget a registered handler gets to answer one request
// before the chain falls through to the default action.
const DefaultHandlerTimeout = 60 * time.Second

// WrapWithTimeout adapts fn into a router.HandlerFunc that enforces
// timeout. If fn has not produced a Result by the deadline, Run returns
// VerdictDefault instead and fn's eventual result, if it arrives later,
// is discarded. A non-positive timeout falls back to
// DefaultHandlerTimeout.
func WrapWithTimeout(timeout time.Duration, fn func(req router.Request) router.Result) router.HandlerFunc {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return func(req router.Request) router.Result {
		resultCh := make(chan router.Result, 1)
		go func() { resultCh <- fn(req) }()
		select {
		case result := <-resultCh:
			return result
		case <-time.After(timeout):
			return router.Result{Verdict: router.VerdictDefault}
		}
	}
}
