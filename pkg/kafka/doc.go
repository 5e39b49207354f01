// Package kafka checks that the Kafka cluster backing the registry is
// reachable with the relation credentials. Unreachability is an expected
// condition: it is logged and reported as false, never as an error.
package kafka
