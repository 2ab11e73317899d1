package vectorstore

import (
	"strings"

	"github.com/cuemby/strata/pkg/errs"
)

const (
	maxCollectionNameLen = 256
	maxUserKeyLen        = 1024
)

func isNameChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		return true
	default:
		return false
	}
}

// validateCollectionName enforces spec.md §4.8's create_collection
// contract: non-empty, at most 256 bytes, [A-Za-z0-9_-], not starting
// with an underscore (that namespace is reserved for internal use).
func validateCollectionName(name string) error {
	if name == "" {
		return errs.New(errs.InvalidInput, "vectorstore.validateCollectionName", "collection name must not be empty")
	}
	if len(name) > maxCollectionNameLen {
		return errs.New(errs.InvalidInput, "vectorstore.validateCollectionName", "collection name exceeds 256 bytes")
	}
	if strings.HasPrefix(name, "_") {
		return errs.New(errs.InvalidInput, "vectorstore.validateCollectionName", "collection name must not start with an underscore")
	}
	for _, r := range name {
		if !isNameChar(r) {
			return errs.New(errs.InvalidInput, "vectorstore.validateCollectionName", "collection name must match [A-Za-z0-9_-]")
		}
	}
	return nil
}

func validateUserKey(key string) error {
	if key == "" {
		return errs.New(errs.InvalidInput, "vectorstore.validateUserKey", "user key must not be empty")
	}
	if len(key) > maxUserKeyLen {
		return errs.New(errs.InvalidInput, "vectorstore.validateUserKey", "user key exceeds 1024 bytes")
	}
	return nil
}
