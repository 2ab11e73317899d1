package bundle

import (
	"encoding/json"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
)

// VerifiedBundle is a bundle whose checksums and WAL.runlog CRCs have all
// been checked, ready for import or inspection.
type VerifiedBundle struct {
	Manifest Manifest
	RunMeta  RunMeta
	Records  []storage.Record
}

// VerifyBundle opens path, checks MANIFEST.json's declared checksums
// against RUN.json and WAL.runlog's actual bytes, and checks every
// WAL.runlog record's own CRC32. It does not touch any database.
func VerifyBundle(path string) (VerifiedBundle, error) {
	members, err := readArchive(path)
	if err != nil {
		return VerifiedBundle{}, err
	}

	manifestJSON, ok := members[memberManifest]
	if !ok {
		return VerifiedBundle{}, errs.New(errs.Serialization, "bundle.VerifyBundle", "archive missing MANIFEST.json")
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return VerifiedBundle{}, errs.Wrap(errs.Serialization, "bundle.VerifyBundle", "parsing MANIFEST.json", err)
	}
	if manifest.FormatVersion != manifestFormatVersion {
		return VerifiedBundle{}, errs.New(errs.UnsupportedVersion, "bundle.VerifyBundle", "unsupported bundle format version")
	}
	if manifest.ChecksumAlgorithm != checksumAlgorithm {
		return VerifiedBundle{}, errs.New(errs.UnsupportedVersion, "bundle.VerifyBundle", "unsupported checksum algorithm").
			WithDetails("algorithm", manifest.ChecksumAlgorithm)
	}

	runJSON, ok := members[memberRun]
	if !ok {
		return VerifiedBundle{}, errs.New(errs.Serialization, "bundle.VerifyBundle", "archive missing RUN.json")
	}
	if err := checkMember(manifest, memberRun, runJSON); err != nil {
		return VerifiedBundle{}, err
	}

	walBytes, ok := members[memberWAL]
	if !ok {
		return VerifiedBundle{}, errs.New(errs.Serialization, "bundle.VerifyBundle", "archive missing WAL.runlog")
	}
	if err := checkMember(manifest, memberWAL, walBytes); err != nil {
		return VerifiedBundle{}, err
	}

	var runMeta RunMeta
	if err := json.Unmarshal(runJSON, &runMeta); err != nil {
		return VerifiedBundle{}, errs.Wrap(errs.Serialization, "bundle.VerifyBundle", "parsing RUN.json", err)
	}

	records, err := decodeWALRunlog(walBytes)
	if err != nil {
		return VerifiedBundle{}, err
	}
	if len(records) != manifest.Contents.RecordCount {
		return VerifiedBundle{}, errs.New(errs.ChecksumMismatch, "bundle.VerifyBundle", "record count does not match manifest").
			WithDetails("manifest_count", manifest.Contents.RecordCount).WithDetails("actual_count", len(records))
	}

	return VerifiedBundle{Manifest: manifest, RunMeta: runMeta, Records: records}, nil
}

func checkMember(manifest Manifest, name string, body []byte) error {
	want, ok := manifest.Checksums[name]
	if !ok {
		return errs.New(errs.Serialization, "bundle.checkMember", "manifest missing checksum").WithDetails("member", name)
	}
	got := checksumHex(body)
	if got != want {
		return errs.New(errs.ChecksumMismatch, "bundle.checkMember", "checksum mismatch").
			WithDetails("member", name).WithDetails("want", want).WithDetails("got", got)
	}
	return nil
}
