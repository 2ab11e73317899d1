package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/strata/pkg/errs"
)

func TestKeyValidateRejectsEmptyNULAndReservedPrefix(t *testing.T) {
	cases := []struct {
		name     string
		key      Key
		internal bool
		wantKind errs.Kind
	}{
		{"empty", NewKey("r", TagKV, nil), false, errs.InvalidKey},
		{"nul byte", NewKey("r", TagKV, []byte{'a', 0, 'b'}), false, errs.InvalidKey},
		{"reserved prefix", NewKey("r", TagKV, append(append([]byte(nil), ReservedPrefix...), "x"...)), false, errs.InvalidKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.key.Validate(DefaultMaxKeyLength, tc.internal)
			assert.Error(t, err)
			assert.True(t, errs.Is(err, tc.wantKind))
		})
	}
}

func TestKeyValidateAllowsReservedPrefixWhenInternal(t *testing.T) {
	key := reservedKey("r", TagKV, "retention/kv")
	assert.NoError(t, key.Validate(DefaultMaxKeyLength, true))
	assert.Error(t, key.Validate(DefaultMaxKeyLength, false))
}

func TestKeyValidateEnforcesMaxLength(t *testing.T) {
	key := NewKey("r", TagKV, make([]byte, 10))
	assert.NoError(t, key.Validate(10, false))
	assert.Error(t, key.Validate(9, false))
}

func TestKeyLessOrdersByRunThenTagThenUserKey(t *testing.T) {
	a := NewKey("run-a", TagKV, []byte("x"))
	b := NewKey("run-b", TagKV, []byte("a"))
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))

	sameRunLowerTag := NewKey("run-a", TagKV, []byte("z"))
	sameRunHigherTag := NewKey("run-a", TagJSON, []byte("a"))
	assert.True(t, sameRunLowerTag.Less(sameRunHigherTag))

	sameTagLowerKey := NewKey("run-a", TagKV, []byte("a"))
	sameTagHigherKey := NewKey("run-a", TagKV, []byte("b"))
	assert.True(t, sameTagLowerKey.Less(sameTagHigherKey))
}
