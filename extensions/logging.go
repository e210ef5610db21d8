package extensions

import (
	"context"
	"log/slog"
	"time"

	graphrt "github.com/graphrt/graphrt"
)

// LoggingExtension logs every resolve/update/subflow/journal/parallel
// operation passing through a scope. Grounded on logging.go's
// LoggingExtension, ported from fmt.Printf onto log/slog to match the
// structured-logging ambient stack used throughout this module.
type LoggingExtension struct {
	graphrt.BaseExtension
	logger *slog.Logger
}

// NewLoggingExtension creates a logging extension writing through logger.
// Pass slog.Default() for the package's previous behavior of logging to
// stderr.
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	return &LoggingExtension{
		BaseExtension: graphrt.NewBaseExtension("logging"),
		logger:        logger,
	}
}

func (e *LoggingExtension) Wrap(ctx context.Context, next func() (any, error), op *graphrt.Operation) (any, error) {
	start := time.Now()
	name := "?"
	if op.Executor != nil {
		name = op.Executor.Name()
	} else if op.Flow != nil {
		name = op.Flow.Name()
	}

	result, err := next()
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Error("operation failed", "extension", e.Name(), "kind", string(op.Kind), "target", name, "elapsed", elapsed, "error", err)
	} else {
		e.logger.Info("operation completed", "extension", e.Name(), "kind", string(op.Kind), "target", name, "elapsed", elapsed)
	}

	return result, err
}
