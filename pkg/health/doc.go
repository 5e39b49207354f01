/*
Package health provides the probes the operator uses to judge the registry
and its dependencies.

Every probe implements Checker and reports a Result with a message and the
time it took:

	HTTPChecker   GET http://localhost:8081/_health, healthy on 200-399
	TCPChecker    dial the registry port
	ExecChecker   run a command in the workload (e.g. "karapace --version")

kafka.Checker implements the same interface for the broker dependency.

A Tracker smooths results: a component only turns unhealthy after
Config.Retries consecutive failures, and turns healthy again on the first
success. Failures inside Config.StartPeriod are not counted.

	checker := health.NewHTTPChecker("http://localhost:8081/_health").
		WithTimeout(2 * time.Second)
	tracker := health.NewTracker(health.DefaultConfig())
	healthy := tracker.Observe(checker.Check(ctx))
*/
package health
