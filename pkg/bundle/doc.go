// Package bundle implements spec.md §4.10's run bundle: a deterministic
// <run_id>.runbundle.tar.zst export/import format with a MANIFEST.json,
// a RUN.json metadata snapshot, and a WAL.runlog binary holding every WAL
// record belonging to the run, each record CRC32-framed; the manifest
// carries an xxh3 checksum of each archive member.
// Grounded on AKJUS-bsc-erigon's klauspost/compress/zstd usage for its own
// snapshot/seg-file format and on the pack's zeebo/xxh3 manifests for the
// checksum algorithm spec.md names.
package bundle
