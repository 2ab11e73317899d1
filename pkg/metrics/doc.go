/*
Package metrics exposes Strata's internal Prometheus metrics: commit/conflict
counters, WAL bytes and fsync latency, snapshot/recovery/compaction counts,
and per-collection vector search latency. Metrics are registered at package
init against the default registry; a host process scrapes them the normal
promhttp way. Search and other read paths only ever increment these
counters — they never touch WAL or version state, so instrumentation cannot
violate read-only invariants like R10.
*/
package metrics
