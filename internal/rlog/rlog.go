// Package rlog wraps go.uber.org/zap the way trpc-group-tnet's internal
// packages do: a package-level logger that defaults to a no-op sink so the
// library stays silent until an embedding application opts in.
package rlog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log *zap.Logger = zap.NewNop()
)

// Set installs the logger used by every package in the module. Passing nil
// restores the no-op sink.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	log = l
}

// L returns the current logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Sugar returns a SugaredLogger view of the current logger, for call sites
// that want printf-style fields without building zap.Field slices.
func Sugar() *zap.SugaredLogger {
	return L().Sugar()
}
