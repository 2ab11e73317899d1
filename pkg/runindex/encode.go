package runindex

import (
	"encoding/binary"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/value"
)

// genericBody mirrors storage's unexported genericBody framing
// (u32(len(userKey)) | userKey | payload) — duplicated locally because
// storage does not export it, the same convention pkg/replay and
// pkg/eventlog already follow for their own local binary-framing needs.
func genericBody(userKey, payload []byte) []byte {
	buf := make([]byte, 0, 4+len(userKey)+len(payload))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(userKey)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, userKey...)
	buf = append(buf, payload...)
	return buf
}

// RunRecordBody encodes m the same way a live Create/UpdateMetadata WAL
// record's body is framed, so a caller writing directly into the WAL
// (pkg/bundle's import path) produces a record storage.Recover installs
// through the exact same generic path any other run-lifecycle record
// takes.
func RunRecordBody(m Metadata) ([]byte, error) {
	payload, err := encodeMetadata(m)
	if err != nil {
		return nil, err
	}
	return genericBody([]byte(metaKeySuffix), payload), nil
}

func toValue(m Metadata) value.Value {
	tags := make([]value.Value, len(m.Tags))
	for i, t := range m.Tags {
		tags[i] = value.String(t)
	}
	userMeta := m.UserMetadata
	if userMeta.IsNull() {
		userMeta = value.Object(nil)
	}
	return value.Object(map[string]value.Value{
		"id":             value.String(m.ID),
		"name":           value.String(m.Name),
		"state":          value.String(m.State.String()),
		"tags":           value.Array(tags...),
		"parent_run_id":  value.String(m.ParentRunID),
		"metadata":       userMeta,
		"created_at":     value.Int(m.CreatedAt),
		"updated_at":     value.Int(m.UpdatedAt),
		"error":          value.String(m.Error),
	})
}

func fromValue(v value.Value) (Metadata, error) {
	obj, ok := v.AsObject()
	if !ok {
		return Metadata{}, errs.New(errs.Serialization, "runindex.fromValue", "run metadata record is not an Object")
	}
	var m Metadata
	m.ID, _ = obj["id"].AsString()
	m.Name, _ = obj["name"].AsString()
	stateStr, _ := obj["state"].AsString()
	state, ok := ParseState(stateStr)
	if !ok {
		return Metadata{}, errs.New(errs.Serialization, "runindex.fromValue", "unknown run state").WithDetails("state", stateStr)
	}
	m.State = state
	if tagVals, ok := obj["tags"].AsArray(); ok {
		m.Tags = make([]string, len(tagVals))
		for i, tv := range tagVals {
			m.Tags[i], _ = tv.AsString()
		}
	}
	m.ParentRunID, _ = obj["parent_run_id"].AsString()
	m.UserMetadata = obj["metadata"]
	m.CreatedAt, _ = obj["created_at"].AsInt()
	m.UpdatedAt, _ = obj["updated_at"].AsInt()
	m.Error, _ = obj["error"].AsString()
	return m, nil
}

func encodeMetadata(m Metadata) ([]byte, error) {
	b, err := value.MarshalJSON(toValue(m))
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "runindex.encodeMetadata", "encoding run metadata", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (Metadata, error) {
	v, err := value.UnmarshalJSON(b)
	if err != nil {
		return Metadata{}, errs.Wrap(errs.Serialization, "runindex.decodeMetadata", "decoding run metadata", err)
	}
	return fromValue(v)
}
