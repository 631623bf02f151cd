// Package extensions holds optional Observer implementations that plug
// into a taski.ExecutionScope (spec.md §4.9).
package extensions

import (
	"log/slog"
	"reflect"

	taski "github.com/taski-go/taski"
)

// LoggingObserver logs every task state transition via slog, adapted from
// the teacher's LoggingExtension (logging.go) which wraps every operation
// with a start/duration/result fmt.Printf triplet; generalized here to
// structured slog fields instead of printf and to the task lifecycle
// events spec.md §4.9 defines instead of the teacher's resolve/update
// operation kinds.
type LoggingObserver struct {
	taski.BaseObserver
	logger *slog.Logger
}

// NewLoggingObserver creates a logging observer writing to logger.
func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnReady(scope *taski.ExecutionScope) {
	o.logger.Info("taski scope ready", "scope", scope.ID)
}

func (o *LoggingObserver) OnStart(scope *taski.ExecutionScope) {
	o.logger.Info("taski run started", "scope", scope.ID)
}

func (o *LoggingObserver) OnStop(scope *taski.ExecutionScope, err error) {
	if err != nil {
		o.logger.Error("taski run finished with errors", "scope", scope.ID, "err", err)
		return
	}
	o.logger.Info("taski run finished", "scope", scope.ID)
}

func (o *LoggingObserver) OnTaskUpdated(scope *taski.ExecutionScope, ev taski.Event) {
	attrs := []any{"scope", scope.ID, "state", ev.State.String(), "phase", ev.Phase}
	if ev.Task != nil {
		attrs = append(attrs, "task", ev.Task.Name())
	}
	if ev.Err != nil {
		attrs = append(attrs, "err", ev.Err)
		o.logger.Error("task updated", attrs...)
		return
	}
	o.logger.Debug("task updated", attrs...)
}

func (o *LoggingObserver) OnGroupStarted(scope *taski.ExecutionScope, task reflect.Type, group string) {
	o.logger.Debug("group started", "task", task.Name(), "group", group)
}

func (o *LoggingObserver) OnGroupCompleted(scope *taski.ExecutionScope, task reflect.Type, group string) {
	o.logger.Debug("group completed", "task", task.Name(), "group", group)
}
