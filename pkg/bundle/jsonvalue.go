package bundle

import (
	"encoding/json"

	"github.com/cuemby/strata/pkg/value"
)

// valueToJSON and jsonToValue adapt RUN.json's free-form "metadata" field
// to value.Value using the same canonical wire encoding every other
// primitive's payload uses, so a run's user metadata round-trips through
// a bundle exactly as it would through a live Set/Get.
func valueToJSON(v value.Value) (json.RawMessage, error) {
	raw, err := value.MarshalJSON(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func jsonToValue(raw json.RawMessage) (value.Value, error) {
	if len(raw) == 0 {
		return value.Null(), nil
	}
	return value.UnmarshalJSON(raw)
}
