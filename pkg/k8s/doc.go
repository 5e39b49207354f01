/*
Package k8s holds the operator's Kubernetes integrations: client
construction, the StatefulSet service-link patch, Lease based leader
election and the rolling restart lock.

Leadership is never computed by the operator itself. The LeaderElector
holds a coordination/v1 Lease through client-go's leaderelection package
and reports the result through IsLeader, which satisfies
state.Leadership.

The restart lock is a second, short lived Lease. A replica acquires it
before restarting Karapace and releases it afterwards, so at most one
replica of the application restarts at a time.
*/
package k8s
