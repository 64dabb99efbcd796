// Package logger builds the *slog.Logger shared by the task manager's
// components and defines the attribute names they log with.
//
// New takes functional options. An environment preset picks level and
// format (debug/text for development, info/json for staging and
// production). Static attributes, process attributes (host and pid) and
// context extractors are layered on top. FromConfig converts a Config loaded
// by pkg/config into options and always registers TaskIDExtractor, so a
// handler that logs with its task context gets "task_id" for free.
//
//	log := logger.New(logger.FromConfig(cfg.Log)...)
//	logger.SetAsDefault(log)
//
//	ctx = logger.WithTaskID(ctx, task.ID)
//	log.InfoContext(ctx, "task completed",
//	    logger.WorkerType(task.WorkerType),
//	    logger.Duration(time.Since(start)),
//	)
//
// Attribute helpers fix the key names used across packages. Error, Errors
// and TaskID return an empty slog.Attr for nil or empty input, which slog
// drops, so callers can pass them without a check.
package logger
