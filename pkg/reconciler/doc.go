/*
Package reconciler is the per-replica state machine of the operator.

A Controller owns the managers (cluster state, workload, auth, TLS,
renderer, Kafka checker) and sequences them in response to lifecycle
events. Handlers are looked up in a dispatch map keyed by event type and
return a Result:

	Done      the event was handled
	Continue  handled; a ConfigChanged reconciliation follows
	Defer     redeliver the same event after DeferDelay

Handlers never reschedule themselves. Run owns the queue, the periodic
UpdateStatus tick and redelivery, and processes one event at a time.
An event type already queued or awaiting redelivery is not queued again.

# Readiness

Readiness is a pure function of a Snapshot. The first failing condition
decides the status:

	peer group formed        NO_PEER_GROUP
	kafka related            KAFKA_NOT_RELATED
	kafka payload complete   KAFKA_NO_DATA
	tls posture matches      KAFKA_TLS_MISMATCH
	credentials exist        NO_CREDS
	certificate installed    NO_CERT (tls only)

# Restarts

ConfigChanged restarts the workload only when the rendered configuration
differs from the deployed one. Restarts take the rolling restart lock;
when another replica holds it the restart is retried as a
RestartRequested event.

# Actions

GetPassword, SetPassword and SetTLSPrivateKey run on the loop goroutine
between events, so they never race a handler.
*/
package reconciler
