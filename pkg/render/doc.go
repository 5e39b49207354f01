// Package render derives the Karapace configuration from cluster state and
// compares it with what is deployed. A restart is only warranted when the
// canonical encodings differ.
package render
