package jsondoc

import (
	"encoding/binary"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/value"
)

// encodePayload frames a document's counter version alongside its JSON
// encoding: u64(counter) | json bytes.
func encodePayload(counter uint64, v value.Value) ([]byte, error) {
	body, err := value.MarshalJSON(v)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "jsondoc.encodePayload", "encoding document", err)
	}
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(out[:8], counter)
	copy(out[8:], body)
	return out, nil
}

// decodePayload is encodePayload's inverse.
func decodePayload(payload []byte) (uint64, value.Value, error) {
	if len(payload) < 8 {
		return 0, value.Value{}, errs.New(errs.Serialization, "jsondoc.decodePayload", "payload too short")
	}
	counter := binary.BigEndian.Uint64(payload[:8])
	v, err := value.UnmarshalJSON(payload[8:])
	if err != nil {
		return 0, value.Value{}, errs.Wrap(errs.Serialization, "jsondoc.decodePayload", "decoding document", err)
	}
	return counter, v, nil
}
