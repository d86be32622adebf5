// Package logging provides structured logging for nbfix.
//
// It wraps Zap with a custom Trace level, console or JSON output on stderr,
// an optional OpenTelemetry bridge, secret redaction, level-aware sampling
// and automatic context fields (trace_id, session.id, notebook.path,
// request.id).
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	ctx = logging.WithNotebookPath(ctx, path)
//	logger.Info(ctx, "repair started", zap.Int("max_iterations", 3))
//
// Components that only need a plain *zap.Logger receive Underlying().
package logging
