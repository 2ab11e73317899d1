// Package statecell is the single-cell state primitive: one Value per
// (run, name), versioned with the same primitive-local counter version as
// pkg/jsondoc, plus a compare_and_set operation for optimistic updates
// keyed off that counter rather than the substrate's own txn version.
package statecell
