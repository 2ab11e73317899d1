package bundle

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/strata/pkg/runindex"
)

// manifestFormatVersion is this package's own bundle format version,
// independent of storage.Manifest's database-pointer format version —
// the two manifests describe different things at different layers.
const manifestFormatVersion = 1

// softwareVersion is stamped into every bundle's MANIFEST.json so an older
// strata build can at least report what produced an archive it can't read.
const softwareVersion = "strata/1"

// checksumAlgorithm names the hash used for every per-file checksum in
// MANIFEST.json (spec.md §4.10).
const checksumAlgorithm = "xxh3"

// Manifest is the bundle-level MANIFEST.json: format/software identity,
// creation time, the checksum algorithm in force, and one checksum per
// archive member. This is distinct from storage.Manifest, which is the
// live database's small pointer file (active segment, snapshot watermark,
// txn counter) — a bundle has no txn counter or segment of its own, just
// the two members it ships plus their checksums.
type Manifest struct {
	FormatVersion     int               `json:"format_version"`
	SoftwareVersion   string            `json:"software_version"`
	CreatedAtMicro    int64             `json:"created_at_micro"`
	ChecksumAlgorithm string            `json:"checksum_algorithm"`
	Checksums         map[string]string `json:"checksums"`
	Contents          ManifestContents  `json:"contents"`
}

// ManifestContents summarizes what RUN.json/WAL.runlog carry, so an
// inspector can sanity-check an archive without decompressing WAL.runlog.
type ManifestContents struct {
	RunID        string `json:"run_id"`
	RecordCount  int    `json:"record_count"`
	FirstTxnID   uint64 `json:"first_txn_id"`
	LastTxnID    uint64 `json:"last_txn_id"`
}

// RunMeta is the bundle's RUN.json: the run registry snapshot captured at
// export time. It is authoritative for the run's lifecycle metadata even
// if WAL.runlog's own lifecycle records were pruned by compaction or
// retention by the time of export (pkg/replay documents the same
// compacted-history limitation for its WAL-only reconstruction).
type RunMeta struct {
	RunID       string          `json:"run_id"`
	Name        string          `json:"name"`
	State       string          `json:"state"`
	CreatedAt   int64           `json:"created_at_micro"`
	UpdatedAt   int64           `json:"updated_at_micro"`
	ParentRunID string          `json:"parent_run_id,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func runMetaFromMetadata(m runindex.Metadata) (RunMeta, error) {
	var raw json.RawMessage
	if !m.UserMetadata.IsNull() {
		enc, err := valueToJSON(m.UserMetadata)
		if err != nil {
			return RunMeta{}, err
		}
		raw = enc
	}
	return RunMeta{
		RunID: m.ID, Name: m.Name, State: m.State.String(),
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
		ParentRunID: m.ParentRunID, Tags: m.Tags, Metadata: raw, Error: m.Error,
	}, nil
}

func (rm RunMeta) toMetadata() (runindex.Metadata, error) {
	state, ok := runindex.ParseState(rm.State)
	if !ok {
		return runindex.Metadata{}, fmt.Errorf("bundle: unrecognized run state %q", rm.State)
	}
	userMeta, err := jsonToValue(rm.Metadata)
	if err != nil {
		return runindex.Metadata{}, err
	}
	return runindex.Metadata{
		ID: rm.RunID, Name: rm.Name, State: state,
		Tags: append([]string(nil), rm.Tags...), ParentRunID: rm.ParentRunID,
		UserMetadata: userMeta, CreatedAt: rm.CreatedAt, UpdatedAt: rm.UpdatedAt, Error: rm.Error,
	}, nil
}
