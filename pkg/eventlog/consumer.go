package eventlog

import (
	"encoding/binary"
	"sort"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
)

// Consumer cursors are a thin bookkeeping layer over the same tag as
// events and meta: an 8-byte big-endian sequence, nothing else. They do
// not participate in the hash chain and are never replayed against it.

// ConsumerGetPosition returns consumerID's last acknowledged sequence for
// run. A consumer with no recorded position returns (0, false).
func (e *EventLog) ConsumerGetPosition(run, consumerID string) (uint64, bool, error) {
	sv, ok := e.substrate.Get(consumerKey(run, consumerID))
	if !ok {
		return 0, false, nil
	}
	if len(sv.Payload) != 8 {
		return 0, false, errs.New(errs.Serialization, "eventlog.ConsumerGetPosition", "malformed cursor record")
	}
	return binary.BigEndian.Uint64(sv.Payload), true, nil
}

// ConsumerSetPosition records consumerID's position in run as seq.
func (e *EventLog) ConsumerSetPosition(run, consumerID string, seq uint64) error {
	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, seq)
	_, err := e.txn.WithRetry(run, func(t *storage.Txn) error {
		return t.PutAs(consumerKey(run, consumerID), body, storage.RecEventAppend)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	return err
}

// ConsumerList returns every consumer id with a recorded position in run,
// sorted.
func (e *EventLog) ConsumerList(run string) ([]string, error) {
	snap := e.substrate.Snapshot()
	rows, _ := e.substrate.ScanPrefix(run, storage.TagEvent, []byte(cursorKeyPrefix), snap, 0, "")
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		uk := string(row.Key.UserKey)
		ids = append(ids, uk[len(cursorKeyPrefix):])
	}
	sort.Strings(ids)
	return ids, nil
}
