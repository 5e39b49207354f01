// Package state is a replica's view of the shared peer data. App-scoped
// writes require leadership and unit-scoped writes require ownership; both
// violations are reported with sentinel errors.
package state
