// Package jsondoc is the JSON document primitive: whole-document-replace
// storage for Object/Array values, keyed like the key/value primitive but
// versioned with a primitive-local counter (spec.md §3.2's "counter
// version") instead of the substrate's txn version. The counter is
// embedded in the stored payload itself, since storage.StoredValue.Version
// always carries the substrate's own txn version.
package jsondoc
