package loop

import (
	"context"
	"net"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/internal/rlog"
	"go.uber.org/zap"
)

// Executor runs a callable off-loop; RunInExecutor bridges its result back
// into a loop-owned Future via CallSoonThreadsafe. A nil Executor makes
// RunInExecutor spawn a bare goroutine per call, standing in for an
// unconfigured default executor.
type Executor interface {
	Submit(fn func() (interface{}, error))
}

type goroutinePoolExecutor struct{}

func (goroutinePoolExecutor) Submit(fn func() (interface{}, error)) {
	go fn()
}

var defaultExecutor Executor = goroutinePoolExecutor{}

// RunInExecutor submits fn to executor (or the default executor if nil) and
// returns a Future resolved on this loop once fn completes. The done
// callback crosses from the executor's goroutine back to the loop thread
// via CallSoonThreadsafe, never touching loop state directly.
func (l *Loop) RunInExecutor(executor Executor, fn func() (interface{}, error)) *future.Future {
	fut := l.NewFuture()
	if executor == nil {
		executor = defaultExecutor
	}
	executor.Submit(func() (interface{}, error) {
		v, err := fn()
		_, cerr := l.CallSoonThreadsafe(func() {
			if err != nil {
				fut.SetException(err)
			} else {
				fut.SetResult(v)
			}
		})
		if cerr != nil {
			rlog.L().Warn("run_in_executor: loop closed before result delivery", zap.Error(cerr))
		}
		return v, err
	})
	return fut
}

// GetAddrInfo offloads net.DefaultResolver.LookupHost (the blocking
// getaddrinfo(3) equivalent) to the executor, the same way a DNS resolver
// gets delegated to a blocking helper on a worker thread.
func (l *Loop) GetAddrInfo(ctx context.Context, host string) *future.Future {
	return l.RunInExecutor(nil, func() (interface{}, error) {
		return net.DefaultResolver.LookupHost(ctx, host)
	})
}

// GetNameInfo offloads a reverse lookup the same way.
func (l *Loop) GetNameInfo(ctx context.Context, addr string) *future.Future {
	return l.RunInExecutor(nil, func() (interface{}, error) {
		names, err := net.DefaultResolver.LookupAddr(ctx, addr)
		if err != nil {
			return nil, aioerr.Wrap(err, "lookup addr")
		}
		return names, nil
	})
}
