package eventlog

import (
	"fmt"

	"github.com/cuemby/strata/pkg/storage"
)

// Event keys are zero-padded decimal sequences so the substrate's
// lexicographic prefix scan also sorts them in sequence order. Meta and
// consumer cursors live under the same tag (TagEvent) but outside the
// "ev/" prefix, so a scan over "ev/" only ever returns event records.
const (
	eventKeyPrefix    = "ev/"
	metaKeySuffix     = "meta"
	cursorKeyPrefix   = "cursor/"
	seqDigits         = 20
)

func eventKey(run string, seq uint64) storage.Key {
	return storage.NewKey(run, storage.TagEvent, []byte(fmt.Sprintf("%s%0*d", eventKeyPrefix, seqDigits, seq)))
}

func metaKey(run string) storage.Key {
	return storage.NewKey(run, storage.TagEvent, []byte(metaKeySuffix))
}

func consumerKey(run, consumerID string) storage.Key {
	return storage.NewKey(run, storage.TagEvent, []byte(cursorKeyPrefix+consumerID))
}
