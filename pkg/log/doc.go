/*
Package log provides structured logging for Strata using zerolog.

Every engine component logs through a component-scoped child logger rather
than the bare global Logger, so a single commit or recovery pass can be
traced by component, run, txn, or segment:

	wal := log.WithComponent("wal")
	log.WithSegment(wal, 3).Debug().Msg("rollover")
	log.WithRun(log.WithComponent("runindex"), runID).Info().Msg("run archived")

Init must run once before any logging that should honor a chosen level or
output; a package-level init() sets a console-format Info default so tests
and short-lived tools never see a nil Logger.
*/
package log
