/*
Package api serves the operator's admin HTTP API.

Public routes report process health:

	GET /health    liveness, always 200 while the process serves
	GET /ready     200 only when the replica is ACTIVE and its workload
	               and Kafka checks pass
	GET /live      liveness in the metrics package format
	GET /metrics   Prometheus exposition

Routes under /v1 require an HS256 bearer token signed with the shared
API secret (see IssueToken). Tokens carry a scope: "read" tokens may
call GET /v1/status and GET /v1/events, "admin" tokens may also run
actions:

	GET  /v1/actions/get-password         admin password of the cluster
	POST /v1/actions/set-password         rotate a password (leader only)
	POST /v1/actions/set-tls-private-key  install a private key for TLS

Action errors map to status codes: 409 when the action needs the leader,
400 for invalid input, 404 for unknown users, 412 when TLS is disabled
and 503 while credentials are not created yet.

GET /v1/events streams operator events as newline delimited JSON until
the client disconnects. ?type=workload.restarted,status.changed limits the
stream to those types.
*/
package api
