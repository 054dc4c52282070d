// Package logging provides structured zap logging for corpora.
//
// Components take a *zap.Logger directly and fall back to zap.NewNop() when
// handed nil. Logger wraps zap with context-aware methods that attach trace
// correlation and operation fields:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithOperation(ctx, "ingest")
//	ctx = logging.WithCollection(ctx, "documents")
//	logger.Info(ctx, "batch complete", zap.Int("inserted", n))
//
// Tests use NewTestLogger, which records entries in memory.
package logging
