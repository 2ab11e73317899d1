package bundle

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/runindex"
	"github.com/cuemby/strata/pkg/storage"
)

// DefaultZstdLevel matches spec.md §4.10's "configurable, default 3".
const DefaultZstdLevel = 3

const (
	memberManifest = "MANIFEST.json"
	memberRun      = "RUN.json"
	memberWAL      = "WAL.runlog"
)

func zstdLevel(n int) zstd.EncoderLevel {
	switch {
	case n <= 0:
		return zstd.SpeedDefault
	case n == 1:
		return zstd.SpeedFastest
	case n <= 3:
		return zstd.SpeedDefault
	case n <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func checksumHex(b []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(b))
}

// ExportRun builds runID's <run_id>.runbundle.tar.zst at destPath: every
// WAL record belonging to runID (in ascending txn_id order, filtered from
// the live database's WAL directory), the run's registry snapshot, and a
// manifest of checksums over both. The run must be in a terminal state
// (spec.md §4.10: "Cannot export a run that is still active").
func ExportRun(dbDir string, idx *runindex.RunIndex, runID, destPath string, zstdLevelN int) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BundleExportDuration)

	meta, ok, err := idx.Get(runID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.NotFound, "bundle.ExportRun", "run not found").WithDetails("run_id", runID)
	}
	if !meta.State.IsTerminal() {
		return errs.New(errs.NotTerminal, "bundle.ExportRun", "run must be in a terminal state to export").
			WithDetails("run_id", runID).WithDetails("state", meta.State.String())
	}

	records, err := collectRunRecords(dbDir, runID)
	if err != nil {
		return err
	}

	runMeta, err := runMetaFromMetadata(meta)
	if err != nil {
		return err
	}
	runJSON, err := json.MarshalIndent(runMeta, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Serialization, "bundle.ExportRun", "encoding RUN.json", err)
	}

	walBytes := encodeWALRunlog(records)

	contents := ManifestContents{RunID: runID, RecordCount: len(records)}
	if len(records) > 0 {
		contents.FirstTxnID = records[0].TxnID
		contents.LastTxnID = records[len(records)-1].TxnID
	}
	manifest := Manifest{
		FormatVersion:   manifestFormatVersion,
		SoftwareVersion: softwareVersion,
		// Derived from the run's own last-update time, not wall-clock
		// export time, so exporting the same terminal run twice (or
		// re-exporting an imported run) produces a byte-identical bundle.
		CreatedAtMicro:    meta.UpdatedAt,
		ChecksumAlgorithm: checksumAlgorithm,
		Checksums: map[string]string{
			memberRun: checksumHex(runJSON),
			memberWAL: checksumHex(walBytes),
		},
		Contents: contents,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Serialization, "bundle.ExportRun", "encoding MANIFEST.json", err)
	}

	return writeArchive(destPath, zstdLevelN, map[string][]byte{
		memberManifest: manifestJSON,
		memberRun:      runJSON,
		memberWAL:      walBytes,
	})
}

// collectRunRecords scans dbDir's WAL and returns every record belonging
// to runID, in ascending txn_id / within-txn order, including that run's
// own commit markers (so WAL.runlog is replayable on its own — an import
// target re-derives grouping from the same RecCommit markers
// storage.GroupCommitted relies on).
func collectRunRecords(dbDir, runID string) ([]storage.Record, error) {
	walDir := filepath.Join(dbDir, "WAL")
	raw, _, err := storage.ScanWAL(walDir, 0, storage.PolicyDefault)
	if err != nil {
		return nil, err
	}
	groups, _ := storage.GroupCommitted(raw)

	var out []storage.Record
	for _, g := range groups {
		belongsToRun := false
		for _, rec := range g.Records {
			if rec.RunID == runID {
				belongsToRun = true
				break
			}
		}
		if !belongsToRun {
			continue
		}
		out = append(out, g.Records...)
		out = append(out, storage.Record{Type: storage.RecCommit, TxnID: g.TxnID, RunID: runID})
	}
	return out, nil
}

// writeArchive streams members into a tar stream, zstd-compresses it, and
// atomically renames the result into place at destPath.
func writeArchive(destPath string, zstdLevelN int, members map[string][]byte) error {
	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, ".runbundle-*.tmp")
	if err != nil {
		return errs.Wrap(errs.IO, "bundle.writeArchive", "creating temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	zw, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstdLevel(zstdLevelN)))
	if err != nil {
		tmp.Close()
		return errs.Wrap(errs.IO, "bundle.writeArchive", "creating zstd writer", err)
	}
	tw := tar.NewWriter(zw)

	order := []string{memberManifest, memberRun, memberWAL}
	for _, name := range order {
		body := members[name]
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return errs.Wrap(errs.IO, "bundle.writeArchive", "writing tar header", err)
		}
		if _, err := tw.Write(body); err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return errs.Wrap(errs.IO, "bundle.writeArchive", "writing tar member", err)
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		tmp.Close()
		return errs.Wrap(errs.IO, "bundle.writeArchive", "closing tar writer", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.IO, "bundle.writeArchive", "closing zstd writer", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.IO, "bundle.writeArchive", "fsyncing archive", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.IO, "bundle.writeArchive", "closing temp file", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return errs.Wrap(errs.IO, "bundle.writeArchive", "renaming archive into place", err)
	}
	return nil
}

// readArchive reverses writeArchive: decompress, untar, return each
// member's raw bytes keyed by name.
func readArchive(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "bundle.readArchive", "opening archive", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "bundle.readArchive", "creating zstd reader", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	out := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.Serialization, "bundle.readArchive", "reading tar entry", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, errs.Wrap(errs.Serialization, "bundle.readArchive", "reading tar member body", err)
		}
		out[hdr.Name] = body
	}
	return out, nil
}
