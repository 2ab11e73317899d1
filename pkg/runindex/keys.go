package runindex

import "github.com/cuemby/strata/pkg/storage"

const metaKeySuffix = "meta"

func metaKey(runID string) storage.Key {
	return storage.NewKey(runID, storage.TagRun, []byte(metaKeySuffix))
}
