/*
Package metrics exposes Prometheus metrics and the health endpoints of the
operator.

# Metrics

All metrics are registered on the default registry at init and served by
Handler():

	karapace_operator_status{status,severity}          current replica status (one series)
	karapace_operator_is_leader                        1 on the leader
	karapace_operator_workload_up                      1 while Karapace runs
	karapace_operator_peer_units                       units with peer data
	karapace_operator_client_relations                 active client relations
	karapace_operator_component_healthy{component}     last reported component health
	karapace_operator_events_total{type,result}        handled events
	karapace_operator_reconcile_duration_seconds{type} handler latency
	karapace_operator_restarts_total                   workload restarts
	karapace_operator_restart_lock_waits_total         restarts postponed by the lock
	karapace_operator_dependency_checks_total{result}  Kafka probes
	karapace_operator_api_requests_total{method,status}
	karapace_operator_api_request_duration_seconds{method}

Gauges that describe the replica are refreshed by a Collector from a
Sampler; counters are updated where the work happens.

Timer Helper:

	timer := metrics.NewTimer()
	result := handle(event)
	timer.ObserveDurationVec(metrics.ReconcileDuration, string(event.Type))

# Health

The sampler reports each component with UpdateComponent. GetHealth is
unhealthy when any component is. GetReadiness requires every critical
component (workload and kafka by default) to be reported and healthy.
*/
package metrics
