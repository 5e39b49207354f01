/*
Package log provides structured logging for karapace-operator using zerolog.

A single package-level zerolog.Logger is configured once through Init and
shared by every manager. Managers derive child loggers with WithComponent so
that every line carries the emitting component, and the reconciler adds the
unit name with WithUnit.

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	logger := log.WithComponent("auth")
	logger.Info().Str("user", "operator").Msg("internal user created")

Until Init is called the global logger discards everything, which keeps
package tests quiet.

Replica statuses carry their own level (see types.Status.LogLevel); the
reconciler logs every status transition at that level, so running with
--log-level=info hides the chatty waiting states while still reporting
blocked ones.
*/
package log
