// Package runindex is the run registry: one RunMetadata record per run,
// keyed inside the run's own partition (TagRun) so that storage.Substrate's
// cross-run ListRunIDs/DropRun back listing and cascade deletion directly,
// with the state machine spec.md §4.9 requires for lifecycle transitions.
package runindex
