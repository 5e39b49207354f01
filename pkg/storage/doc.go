/*
Package storage holds the peer state shared by all replicas of the
schema registry.

The state is two-level: an app-scoped databag that every replica reads and
only the elected leader writes, and one databag per unit that only its
owner writes. This package stores bytes and does not enforce who may write;
that discipline lives in package state, which wraps a Store together with a
leadership query.

Two implementations are provided:

  - BoltStore keeps both levels in a local BoltDB file ("app" bucket plus a
    nested bucket per unit under "units"). Values can be sealed at rest with
    security.SecretsManager. It suits single-replica installs and tests.
  - SecretStore keeps the app databag in the Secret "<app>-peers" and each
    unit databag in "<app>-peers-<unit>", making the state visible to every
    replica through the Kubernetes API. Writes retry on resource version
    conflicts.

The peer group "exists" once the app databag exists. Form creates it and is
idempotent; until then every read and write returns ErrNotFormed.
*/
package storage
