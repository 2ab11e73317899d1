// Package strata is the public entry point: one Database handle gluing
// the storage engine (pkg/storage) to every content primitive (KV, JSON
// documents, state cells, EventLog, VectorStore, the run registry) plus
// the two operations that cross a database's boundary, run bundles and
// WAL replay. Grounded on teacher's pkg/manager.Manager — a single struct
// built in one constructor, holding each subsystem's already-open handle
// as a field, exposing lifecycle methods (Checkpoint/Compact/Close) that
// fan out to them — generalized from Manager's node/raft/DNS/ingress
// subsystems to this engine's storage/content-primitive subsystems.
package strata
