// Package logging builds the daemon's zap logger.
//
// Output goes to stdout (JSON or console) and optionally to an OpenTelemetry
// log provider through the otelzap bridge. Levels below error are sampled.
// ContextFields pulls correlation data (trace, request, document) from a
// context so services holding a plain *zap.Logger can attach it:
//
//	logger.Info("index committed", logging.ContextFields(ctx)...)
//
// Tests use NewTestLogger, which records entries through zaptest/observer.
package logging
