// Package kv is the key/value primitive: a thin, validated facade over
// storage.Substrate/storage.TxnManager's TagKV namespace. Unlike the
// JSON document and state-cell primitives, KV uses the substrate's own
// txn version directly (spec.md §3.2) rather than a primitive-local
// counter, so there is nothing for this package to encode beyond the
// caller's value.Value.
package kv
