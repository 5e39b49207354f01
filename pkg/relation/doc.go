// Package relation reads the data other applications exchange with the
// schema registry: the Kafka connection payload and the client relations
// that receive registry credentials.
package relation
