// Package tracker implements the progress-tracking domain: the lifecycle of a
// single tracked operation, batch aggregation over child trackers, retention
// sweeps, and fleet statistics.
//
// Trackers and batches are independent records in a store.Store, serialized
// as JSON and kept under a sliding TTL. Updates to a child tracker never touch
// its batch; callers invoke RecomputeBatch explicitly after changing children.
package tracker
