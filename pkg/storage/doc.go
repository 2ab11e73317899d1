/*
Package storage implements the MVCC storage substrate shared by every
content primitive: a sharded, versioned key space, an optimistic
concurrency transaction manager, a write-ahead log, a snapshot/recovery
pipeline, and retention-driven compaction.

# Architecture

	┌─────────────────────── DATABASE ────────────────────────┐
	│                                                            │
	│  ┌──────────────┐   begin/commit   ┌───────────────────┐ │
	│  │  TxnManager   │◄────────────────│  primitive callers │ │
	│  │ (OCC, commit  │                  │ KV / JSON / Event /│ │
	│  │  order mutex) │                  │ State / Run /      │ │
	│  └──────┬───────┬┘                  │ Vector             │ │
	│         │       │                   └───────────────────┘ │
	│   install│       │append                                   │
	│         ▼       ▼                                         │
	│  ┌───────────┐ ┌────────────┐                              │
	│  │ Substrate │ │    WAL     │   wal-000000.seg, ...         │
	│  │ (sharded  │ │ (segments, │                              │
	│  │  by run)  │ │  durability│                              │
	│  └─────┬─────┘ │  modes)    │                              │
	│        │       └─────┬──────┘                              │
	│        │  checkpoint  │  recover                            │
	│        ▼              ▼                                    │
	│  ┌────────────────────────────┐                             │
	│  │     Snapshot + Manifest     │  SNAPSHOTS/*.dat,           │
	│  │  (atomic temp+rename files) │  MANIFEST.json              │
	│  └────────────────────────────┘                             │
	└────────────────────────────────────────────────────────────┘

# Core components

Substrate: a run-sharded map from Key to an append-only, newest-first
version chain. Reads take a SnapshotView (a cheap watermark handle) and
never block on writers; install is the only mutating operation and is
always called from inside the commit-order section.

TxnManager: issues Txn handles (Begin), buffers reads and writes on them,
and under a single commit-order mutex validates the read-set, allocates
the next transaction version, appends WAL records, and installs writes —
in that order, so nothing durable is ever left uninstalled.

WAL: length-prefixed, CRC32-framed records across rolling segment files.
Durability is one of InMemory (no persistence), Buffered (a background
flusher owns the fsync cadence), or Strict (fsync inline with commit).

Snapshot + Manifest: a snapshot materializes the committed state at a
watermark into one CRC-checked file via temp+rename; the manifest is the
small, frequently rewritten pointer to the active segment and the latest
snapshot, also written via temp+rename.

Recovery: loads the manifest, applies the newest valid snapshot, replays
WAL records after its watermark grouped by transaction id, and restores
the transaction counter strictly above the highest id it saw.

Retention + Compaction: per-run, per-primitive policies (KeepAll,
KeepLast, KeepFor, Composite) bound history size; WALOnly compaction
reclaims fully-applied segments, Full compaction additionally trims
version chains and records a retained-floor marker so trimmed reads return
HistoryTrimmed rather than silently vanishing.

# Record types

Record type bytes are grouped into reserved ranges so each primitive has
room to grow: 0x00-0x02 are transaction control (commit, abort,
snapshot-marker); 0x10-0x1F KV; 0x20-0x2F JSON; 0x30-0x3F Event; 0x40-0x4F
State; 0x50-0x5F Trace (reserved, unused); 0x60-0x6F Run lifecycle;
0x70-0x7F Vector. KV/JSON/Event/State/Run share one generic body encoding
and install through the Substrate directly; Vector keeps its own heap and
backend state and is replayed by the vectorstore package using the raw
records this package hands back from recovery.
*/
package storage
