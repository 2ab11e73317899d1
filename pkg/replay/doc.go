// Package replay reconstructs a run's logical state by scanning the WAL
// directly, independent of any live storage.Database. It is a pure
// function over on-disk state: it opens segment files read-only and never
// touches a TxnManager's counter, a Substrate's cache, or the WAL writer.
// Per spec.md §4.9's literal definition, replay scans WAL records only —
// it does not merge in snapshot state the way storage.Recover does, so a
// run whose earliest WAL segments have since been compacted away will
// replay a truncated view. That is a documented limitation of this pure
// function, not a bug: Recover already owns the snapshot+WAL merge path
// for bringing a live database up to date, and replay is deliberately the
// narrower, WAL-only operation spec.md names.
package replay
