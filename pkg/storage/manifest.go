package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cuemby/strata/pkg/errs"
)

const manifestFormatVersion = 1

// Manifest is the small, frequently-rewritten pointer file: format
// version, database identity, the active WAL segment, and the latest
// snapshot's id and watermark. It is always updated via temp-file+rename.
type Manifest struct {
	FormatVersion     int    `json:"format_version"`
	DatabaseID        string `json:"database_id"`
	ActiveSegment     uint32 `json:"active_segment"`
	SnapshotID        string `json:"snapshot_id,omitempty"`
	SnapshotWatermark uint64 `json:"snapshot_watermark"`
	TxnCounter        uint64 `json:"txn_counter"`
}

// NewManifest creates a fresh manifest for a newly initialized database.
func NewManifest() *Manifest {
	return &Manifest{
		FormatVersion: manifestFormatVersion,
		DatabaseID:    uuid.NewString(),
	}
}

const manifestFileName = "MANIFEST.json"

// LoadManifest reads the manifest from dir, or returns ok=false if it
// doesn't exist (a fresh database).
func LoadManifest(dir string) (*Manifest, bool, error) {
	path := filepath.Join(dir, manifestFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.IO, "storage.LoadManifest", "reading manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, errs.Wrap(errs.Serialization, "storage.LoadManifest", "parsing manifest", err)
	}
	if m.FormatVersion != manifestFormatVersion {
		return nil, false, errs.New(errs.UnsupportedVersion, "storage.LoadManifest", "unsupported manifest format version")
	}
	return &m, true, nil
}

// Save writes m to dir atomically via temp-file + rename.
func (m *Manifest) Save(dir string) error {
	path := filepath.Join(dir, manifestFileName)
	tmp := path + ".tmp"
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Serialization, "storage.Manifest.Save", "marshaling manifest", err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errs.Wrap(errs.IO, "storage.Manifest.Save", "writing temp manifest", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.IO, "storage.Manifest.Save", "renaming manifest into place", err)
	}
	return nil
}
