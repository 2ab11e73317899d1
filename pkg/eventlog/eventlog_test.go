package eventlog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

func newTestLog(t *testing.T) *EventLog {
	t.Helper()
	sub := storage.NewSubstrate()
	wal, err := storage.OpenWAL(t.TempDir(), storage.DurabilityInMemory, 0, nil, nil)
	require.NoError(t, err)
	mgr := storage.NewTxnManager(sub, wal, 0)
	return New(sub, mgr)
}

func obj(kv ...interface{}) value.Value {
	m := make(map[string]value.Value, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1].(value.Value)
	}
	return value.Object(m)
}

func TestAppendAssignsAscendingSequences(t *testing.T) {
	el := newTestLog(t)

	seq0, err := el.Append("run-1", "orders", obj("id", value.Int(1)))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq0)

	seq1, err := el.Append("run-1", "orders", obj("id", value.Int(2)))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq1)

	n, err := el.Len("run-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestAppendRejectsEmptyStream(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-1", "", obj("a", value.Int(1)))
	assert.Error(t, err)
}

func TestAppendRejectsNonObjectPayload(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-1", "orders", value.Int(5))
	assert.Error(t, err)
}

func TestAppendRejectsNonFinitePayload(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-1", "orders", obj("x", value.Float(math.NaN())))
	assert.Error(t, err)
}

func TestReadReturnsAppendedEvent(t *testing.T) {
	el := newTestLog(t)
	seq, err := el.Append("run-1", "orders", obj("id", value.Int(42)))
	require.NoError(t, err)

	ev, ok, err := el.Read("run-1", seq)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "orders", ev.Stream)
	id, _ := ev.Payload.AsObject()["id"].AsInt()
	assert.Equal(t, int64(42), id)
}

func TestReadMissingSequenceReturnsFalse(t *testing.T) {
	el := newTestLog(t)
	_, ok, err := el.Read("run-1", 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashChainLinksAcrossStreams(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-1", "orders", obj("a", value.Int(1)))
	require.NoError(t, err)
	_, err = el.Append("run-1", "payments", obj("b", value.Int(2)))
	require.NoError(t, err)

	ev0, _, err := el.Read("run-1", 0)
	require.NoError(t, err)
	ev1, _, err := el.Read("run-1", 1)
	require.NoError(t, err)

	assert.Equal(t, zeroHash, ev0.PrevHash)
	assert.Equal(t, ev0.Hash, ev1.PrevHash)
	assert.NotEqual(t, ev0.Hash, ev1.Hash)
}

func TestVerifyChainValidOnFreshAppends(t *testing.T) {
	el := newTestLog(t)
	for i := 0; i < 5; i++ {
		_, err := el.Append("run-1", "orders", obj("i", value.Int(int64(i))))
		require.NoError(t, err)
	}

	verdict, err := el.VerifyChain("run-1")
	require.NoError(t, err)
	assert.True(t, verdict.IsValid)
	assert.Equal(t, uint64(5), verdict.Length)
	assert.Nil(t, verdict.FirstInvalid)
}

func TestVerifyChainDetectsTamperedPayload(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-1", "orders", obj("a", value.Int(1)))
	require.NoError(t, err)
	_, err = el.Append("run-1", "orders", obj("b", value.Int(2)))
	require.NoError(t, err)

	key := eventKey("run-1", 0)
	sv, ok := el.substrate.Get(key)
	require.True(t, ok)
	ev, err := decodeEvent(sv.Payload)
	require.NoError(t, err)
	ev.Payload = obj("a", value.Int(999))
	tampered, err := encodeEvent(ev)
	require.NoError(t, err)
	el.substrate.Install(sv.Version, sv.TimeMicro, []storage.Write{{Key: key, Payload: tampered}})

	verdict, err := el.VerifyChain("run-1")
	require.NoError(t, err)
	assert.False(t, verdict.IsValid)
	require.NotNil(t, verdict.FirstInvalid)
	assert.Equal(t, uint64(0), *verdict.FirstInvalid)
}

func TestAppendBatchIsAtomicAndConsecutive(t *testing.T) {
	el := newTestLog(t)
	seqs, err := el.AppendBatch("run-1", []BatchItem{
		{Stream: "orders", Payload: obj("a", value.Int(1))},
		{Stream: "orders", Payload: obj("b", value.Int(2))},
		{Stream: "payments", Payload: obj("c", value.Int(3))},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, seqs)

	verdict, err := el.VerifyChain("run-1")
	require.NoError(t, err)
	assert.True(t, verdict.IsValid)
}

func TestAppendBatchEmptyIsNoop(t *testing.T) {
	el := newTestLog(t)
	seqs, err := el.AppendBatch("run-1", nil)
	require.NoError(t, err)
	assert.Nil(t, seqs)

	n, err := el.Len("run-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestRangeFiltersByStartEndAndLimit(t *testing.T) {
	el := newTestLog(t)
	for i := 0; i < 10; i++ {
		_, err := el.Append("run-1", "orders", obj("i", value.Int(int64(i))))
		require.NoError(t, err)
	}

	events, err := el.Range("run-1", 3, 7, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, uint64(3), events[0].Seq)
	assert.Equal(t, uint64(6), events[3].Seq)

	limited, err := el.Range("run-1", 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, uint64(0), limited[0].Seq)
	assert.Equal(t, uint64(1), limited[1].Seq)
}

func TestRangeReverseReturnsDescending(t *testing.T) {
	el := newTestLog(t)
	for i := 0; i < 5; i++ {
		_, err := el.Append("run-1", "orders", obj("i", value.Int(int64(i))))
		require.NoError(t, err)
	}

	events, err := el.RangeReverse("run-1", 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(4-i), ev.Seq)
	}
}

func TestReadByTypeReturnsOnlyMatchingStream(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-1", "orders", obj("a", value.Int(1)))
	require.NoError(t, err)
	_, err = el.Append("run-1", "payments", obj("b", value.Int(2)))
	require.NoError(t, err)
	_, err = el.Append("run-1", "orders", obj("c", value.Int(3)))
	require.NoError(t, err)

	events, err := el.ReadByType("run-1", "orders")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(0), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
}

func TestStreamInfoAndStreamsReportO1Summary(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-1", "orders", obj("a", value.Int(1)))
	require.NoError(t, err)
	_, err = el.Append("run-1", "orders", obj("b", value.Int(2)))
	require.NoError(t, err)
	_, err = el.Append("run-1", "payments", obj("c", value.Int(3)))
	require.NoError(t, err)

	info, ok, err := el.StreamInfoOf("run-1", "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), info.Count)
	assert.Equal(t, uint64(0), info.FirstSeq)
	assert.Equal(t, uint64(1), info.LastSeq)

	streams, err := el.Streams("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "payments"}, streams)
}

func TestHeadAndHeadByType(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-1", "orders", obj("a", value.Int(1)))
	require.NoError(t, err)
	_, err = el.Append("run-1", "payments", obj("b", value.Int(2)))
	require.NoError(t, err)

	head, ok, err := el.Head("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payments", head.Stream)

	headOrders, ok, err := el.HeadByType("run-1", "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0), headOrders.Seq)
}

func TestHeadOnEmptyRunReturnsFalse(t *testing.T) {
	el := newTestLog(t)
	_, ok, err := el.Head("run-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumerPositionRoundTrip(t *testing.T) {
	el := newTestLog(t)
	_, ok, err := el.ConsumerGetPosition("run-1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, el.ConsumerSetPosition("run-1", "c1", 7))

	pos, ok, err := el.ConsumerGetPosition("run-1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), pos)
}

func TestConsumerListReturnsSortedIDs(t *testing.T) {
	el := newTestLog(t)
	require.NoError(t, el.ConsumerSetPosition("run-1", "zeta", 1))
	require.NoError(t, el.ConsumerSetPosition("run-1", "alpha", 2))

	ids, err := el.ConsumerList("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, ids)
}

func TestRunsAreIndependentHashChains(t *testing.T) {
	el := newTestLog(t)
	_, err := el.Append("run-a", "orders", obj("x", value.Int(1)))
	require.NoError(t, err)
	_, err = el.Append("run-b", "orders", obj("x", value.Int(1)))
	require.NoError(t, err)

	evA, _, err := el.Read("run-a", 0)
	require.NoError(t, err)
	evB, _, err := el.Read("run-b", 0)
	require.NoError(t, err)

	assert.Equal(t, zeroHash, evA.PrevHash)
	assert.Equal(t, zeroHash, evB.PrevHash)
}
