package extensions

import (
	"log/slog"
	"sync"

	taski "github.com/taski-go/taski"
)

// GraphDebugObserver records which tasks failed and, when a scope stops
// with an error, logs one slog error record carrying the scope id, the
// failed task names and the error. It does not render the dependency tree.
// Adapted from the teacher's GraphDebugExtension
// (extensions/graph_debug.go), which logs on OnError; here it fires once
// per scope on the final OnStop with an error.
type GraphDebugObserver struct {
	taski.BaseObserver
	logger *slog.Logger

	mu     sync.Mutex
	failed map[string]bool
}

// NewGraphDebugObserver creates a graph-debug observer logging through
// handler (use slog.NewJSONHandler, a human-readable handler, or nil for
// the default logger).
func NewGraphDebugObserver(handler slog.Handler) *GraphDebugObserver {
	var l *slog.Logger
	if handler == nil {
		l = slog.Default()
	} else {
		l = slog.New(handler)
	}
	return &GraphDebugObserver{logger: l, failed: make(map[string]bool)}
}

func (o *GraphDebugObserver) OnTaskUpdated(scope *taski.ExecutionScope, ev taski.Event) {
	if ev.Err == nil || ev.Task == nil {
		return
	}
	o.mu.Lock()
	o.failed[ev.Task.Name()] = true
	o.mu.Unlock()
}

func (o *GraphDebugObserver) OnStop(scope *taski.ExecutionScope, err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	failedNames := make([]string, 0, len(o.failed))
	for name := range o.failed {
		failedNames = append(failedNames, name)
	}
	o.mu.Unlock()

	o.logger.Error("taski run failed",
		"scope", scope.ID,
		"failed_tasks", failedNames,
		"err", err,
	)
}
