package runindex

import (
	"sort"
	"time"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

// DefaultRetryAttempts bounds every mutating op's OCC retry loop.
const DefaultRetryAttempts = 5

var logger = log.WithComponent("runindex")

func currentTimeMicro() int64 { return time.Now().UnixMicro() }

// RunIndex is the per-database handle for the run registry. Each run's
// RunMetadata lives as a single record inside that run's own partition
// (TagRun), so storage.Substrate.ListRunIDs/DropRun give the cross-run
// listing and cascade deletion this primitive needs without a separate
// index structure.
type RunIndex struct {
	substrate *storage.Substrate
	txn       *storage.TxnManager
}

// New builds a RunIndex over an already-open storage database.
func New(substrate *storage.Substrate, txn *storage.TxnManager) *RunIndex {
	return &RunIndex{substrate: substrate, txn: txn}
}

func (r *RunIndex) load(t *storage.Txn, runID string) (Metadata, bool, error) {
	sv, ok := t.Read(metaKey(runID))
	if !ok {
		return Metadata{}, false, nil
	}
	m, err := decodeMetadata(sv.Payload)
	return m, true, err
}

// Create registers runID with state Active, rejecting a duplicate id with
// errs.RunAlreadyExists.
func (r *RunIndex) Create(runID, name string, parentRunID string, tags []string, userMetadata value.Value) (Metadata, error) {
	if runID == "" {
		return Metadata{}, errs.New(errs.InvalidInput, "runindex.Create", "run id must not be empty")
	}

	now := currentTimeMicro()
	m := Metadata{
		ID: runID, Name: name, State: Active, Tags: append([]string(nil), tags...),
		ParentRunID: parentRunID, UserMetadata: userMetadata, CreatedAt: now, UpdatedAt: now,
	}

	_, err := r.txn.WithRetry(runID, func(t *storage.Txn) error {
		if _, exists, err := r.load(t, runID); err != nil {
			return err
		} else if exists {
			return errs.New(errs.RunAlreadyExists, "runindex.Create", "run already exists").WithDetails("run_id", runID)
		}
		body, err := encodeMetadata(m)
		if err != nil {
			return err
		}
		return t.PutAs(metaKey(runID), body, storage.RecRunCreate)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	if err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Get returns runID's registry entry.
func (r *RunIndex) Get(runID string) (Metadata, bool, error) {
	sv, ok := r.substrate.Get(metaKey(runID))
	if !ok {
		return Metadata{}, false, nil
	}
	m, err := decodeMetadata(sv.Payload)
	if err != nil {
		return Metadata{}, false, err
	}
	return m, true, nil
}

// List returns every run's registry entry, ordered by run id.
func (r *RunIndex) List() ([]Metadata, error) {
	var out []Metadata
	for _, id := range r.substrate.ListRunIDs() {
		m, ok, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// QueryByState returns every run currently in state, ordered by run id.
func (r *RunIndex) QueryByState(state State) ([]Metadata, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(all))
	for _, m := range all {
		if m.State == state {
			out = append(out, m)
		}
	}
	return out, nil
}

// QueryByTag returns every run carrying tag, ordered by run id.
func (r *RunIndex) QueryByTag(tag string) ([]Metadata, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(all))
	for _, m := range all {
		for _, t := range m.Tags {
			if t == tag {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

// Count returns the number of registered runs.
func (r *RunIndex) Count() (int, error) {
	all, err := r.List()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// UpdateMetadata replaces name and user metadata in place, leaving state
// and tags untouched.
func (r *RunIndex) UpdateMetadata(runID, name string, userMetadata value.Value) (Metadata, error) {
	var result Metadata
	_, err := r.txn.WithRetry(runID, func(t *storage.Txn) error {
		m, ok, err := r.load(t, runID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.NotFound, "runindex.UpdateMetadata", "run not found").WithDetails("run_id", runID)
		}
		m.Name = name
		m.UserMetadata = userMetadata
		m.UpdatedAt = currentTimeMicro()
		body, err := encodeMetadata(m)
		if err != nil {
			return err
		}
		result = m
		return t.PutAs(metaKey(runID), body, storage.RecRunUpdate)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	return result, err
}

func mergeTags(existing []string, add []string) []string {
	set := make(map[string]bool, len(existing)+len(add))
	for _, t := range existing {
		set[t] = true
	}
	for _, t := range add {
		set[t] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func removeTags(existing []string, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	out := make([]string, 0, len(existing))
	for _, t := range existing {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}

// AddTags adds tags (de-duplicated, sorted) to runID's tag set.
func (r *RunIndex) AddTags(runID string, tags []string) (Metadata, error) {
	return r.updateTags(runID, func(existing []string) []string { return mergeTags(existing, tags) })
}

// RemoveTags removes tags from runID's tag set, ignoring ones not present.
func (r *RunIndex) RemoveTags(runID string, tags []string) (Metadata, error) {
	return r.updateTags(runID, func(existing []string) []string { return removeTags(existing, tags) })
}

func (r *RunIndex) updateTags(runID string, f func([]string) []string) (Metadata, error) {
	var result Metadata
	_, err := r.txn.WithRetry(runID, func(t *storage.Txn) error {
		m, ok, err := r.load(t, runID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.NotFound, "runindex.updateTags", "run not found").WithDetails("run_id", runID)
		}
		m.Tags = f(m.Tags)
		m.UpdatedAt = currentTimeMicro()
		body, err := encodeMetadata(m)
		if err != nil {
			return err
		}
		result = m
		return t.PutAs(metaKey(runID), body, storage.RecRunUpdate)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	return result, err
}

// SetState transitions runID to to, rejecting a transition not present in
// the permitted-transition matrix with errs.ConstraintViolation.
// runError is recorded when to is Failed; pass "" otherwise.
func (r *RunIndex) SetState(runID string, to State, runError string) (Metadata, error) {
	var result Metadata
	_, err := r.txn.WithRetry(runID, func(t *storage.Txn) error {
		m, ok, err := r.load(t, runID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.NotFound, "runindex.SetState", "run not found").WithDetails("run_id", runID)
		}
		if !CanTransition(m.State, to) {
			return errs.New(errs.ConstraintViolation, "runindex.SetState", "transition not permitted").
				WithDetails("from", m.State.String()).WithDetails("to", to.String())
		}
		m.State = to
		m.UpdatedAt = currentTimeMicro()
		if to == Failed {
			m.Error = runError
		}
		body, err := encodeMetadata(m)
		if err != nil {
			return err
		}
		result = m
		return t.PutAs(metaKey(runID), body, storage.RecRunSetState)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	if err == nil {
		log.WithRun(logger, runID).Info().Str("to", to.String()).Msg("run state transition")
	}
	return result, err
}

// Delete removes runID's registry entry and cascades to every other
// record in its partition (spec.md §4.9: "cascades only to run-scoped
// data").
func (r *RunIndex) Delete(runID string) error {
	_, err := r.txn.WithRetry(runID, func(t *storage.Txn) error {
		if _, ok, err := r.load(t, runID); err != nil {
			return err
		} else if !ok {
			return errs.New(errs.NotFound, "runindex.Delete", "run not found").WithDetails("run_id", runID)
		}
		return t.DeleteAs(metaKey(runID), storage.RecRunDelete)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	if err != nil {
		return err
	}
	r.substrate.DropRun(runID)
	return nil
}
