// Package eventlog implements the EventLog content primitive: a per-run,
// append-only journal with a single global sequence and a SHA-256 hash
// chain covering every event regardless of stream (spec.md §4.7, I5, I9).
//
// Sequence numbers are global within a run; streams are logical filters
// used for O(1) per-stream counts and head lookups via a meta record kept
// alongside the log, not separate partitions. Every append — single or
// batched — goes through one storage.Txn so the event record and the meta
// update land in the same commit.
package eventlog
