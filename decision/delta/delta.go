// Package delta computes action-minus-no-action differences and files them
// under composite option identifiers.
package delta

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"hdv-bca/decision/fleet"
	"hdv-bca/decision/summary"
	"hdv-bca/decision/weighted"
	bcaerrors "hdv-bca/pkg/errors"
)

// OptionID concatenates the decimal digits of the action and no-action option
// IDs, e.g. OptionID(1, 0) == 10 and OptionID(2, 1) == 21.
func OptionID(action, noAction int) (int, error) {
	if action < 0 || noAction < 0 {
		return 0, bcaerrors.NewInputError("delta option id", fmt.Sprintf("negative option id in %d/%d", action, noAction))
	}
	id, err := strconv.Atoi(strconv.Itoa(action) + strconv.Itoa(noAction))
	if err != nil {
		return 0, fmt.Errorf("failed to compose delta option id: %w", err)
	}
	return id, nil
}

// CheckOptionIDs fails with INVALID_CONFIG when the delta option ID of any
// action option in options equals an option that is already present.
func CheckOptionIDs(options []int, noAction int) error {
	taken := make(map[int]bool, len(options))
	for _, id := range options {
		taken[id] = true
	}
	for _, id := range options {
		if id == noAction {
			continue
		}
		if _, err := compose(id, noAction, taken); err != nil {
			return err
		}
	}
	return nil
}

// compose returns the delta option ID of action and refuses IDs in taken.
func compose(action, noAction int, taken map[int]bool) (int, error) {
	id, err := OptionID(action, noAction)
	if err != nil {
		return 0, err
	}
	if taken[id] {
		return 0, bcaerrors.NewConfigError("options",
			fmt.Sprintf("delta option %d (%d minus %d) collides with an existing option", id, action, noAction))
	}
	return id, nil
}

// OptionName names a delta option "{action}_minus_{noAction}".
func OptionName(action, noAction string) string {
	return action + "_minus_" + noAction
}

// Engine computes deltas against one no-action option. Each store must be
// passed through the engine exactly once per run: a second pass would
// difference the delta options as well.
type Engine struct {
	NoActionOptionID int
	Logger           zerolog.Logger
}

// difference returns a - z over the union of both field sets.
func difference(a, z map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(a))
	for f, v := range a {
		out[f] = v - z[f]
	}
	for f, v := range z {
		if _, ok := a[f]; !ok {
			out[f] = -v
		}
	}
	return out
}

type optionMeta struct {
	id   int
	name string
}

// composite resolves the delta option of action. taken holds the options
// present in the store before any delta was added.
func (e *Engine) composite(action int, actionName, noActionName string, taken map[int]bool, cache map[int]optionMeta) (optionMeta, error) {
	if m, ok := cache[action]; ok {
		return m, nil
	}
	id, err := compose(action, e.NoActionOptionID, taken)
	if err != nil {
		return optionMeta{}, err
	}
	if actionName == "" {
		actionName = strconv.Itoa(action)
	}
	if noActionName == "" {
		noActionName = strconv.Itoa(e.NoActionOptionID)
	}
	m := optionMeta{id: id, name: OptionName(actionName, noActionName)}
	cache[action] = m
	return m, nil
}

// Fleet adds a delta record for every action-option fleet record at every
// rate. A missing no-action counterpart is a MISSING_KEY failure; a delta
// option ID that matches an option already in the store is INVALID_CONFIG.
func (e *Engine) Fleet(fs *fleet.Store) (int, error) {
	noActionName, _ := fs.OptionName(e.NoActionOptionID)
	taken := make(map[int]bool)
	for _, id := range fs.Options() {
		taken[id] = true
	}
	cache := make(map[int]optionMeta)

	var out []*fleet.Record
	for _, rec := range fs.Records() {
		if rec.Key.OptionID == e.NoActionOptionID {
			continue
		}
		base, err := fs.Get(rec.Key.WithOption(e.NoActionOptionID))
		if err != nil {
			return 0, fmt.Errorf("failed to difference fleet record %s: %w", rec.Key, err)
		}
		actionName, _ := fs.OptionName(rec.Key.OptionID)
		meta, err := e.composite(rec.Key.OptionID, actionName, noActionName, taken, cache)
		if err != nil {
			return 0, err
		}
		d := fleet.NewRecord(rec.Key.WithOption(meta.id), meta.name)
		d.Values = difference(rec.Values, base.Values)
		out = append(out, d)
	}

	for _, m := range cache {
		fs.SetOptionName(m.id, m.name)
	}
	fs.PutAll(out)
	e.Logger.Info().Int("records", len(out)).Int("no_action", e.NoActionOptionID).Msg("computed fleet deltas")
	return len(out), nil
}

// Summary adds a delta record for every action-option summary record.
func (e *Engine) Summary(ss *summary.Store) (int, error) {
	taken := make(map[int]bool)
	for _, rec := range ss.Records() {
		taken[rec.Key.OptionID] = true
	}
	cache := make(map[int]optionMeta)

	var out []*summary.Record
	for _, rec := range ss.Records() {
		if rec.Key.OptionID == e.NoActionOptionID {
			continue
		}
		base, err := ss.Get(rec.Key.WithOption(e.NoActionOptionID))
		if err != nil {
			return 0, fmt.Errorf("failed to difference summary record %s: %w", rec.Key, err)
		}
		meta, err := e.composite(rec.Key.OptionID, rec.OptionName, base.OptionName, taken, cache)
		if err != nil {
			return 0, err
		}
		d := summary.NewRecord(rec.Key.WithOption(meta.id), meta.name)
		d.Periods = rec.Periods
		d.Values = difference(rec.Values, base.Values)
		out = append(out, d)
	}

	ss.PutAll(out)
	e.Logger.Info().Int("records", len(out)).Msg("computed summary deltas")
	return len(out), nil
}

// Weighted adds a delta record for every action-option weighted record.
// Identifier strings are carried over from the action record; only the
// option name is replaced.
func (e *Engine) Weighted(ws *weighted.Store) (int, error) {
	taken := make(map[int]bool)
	for _, rec := range ws.Records() {
		taken[rec.Key.OptionID] = true
	}
	cache := make(map[int]optionMeta)

	var out []*weighted.Record
	for _, rec := range ws.Records() {
		if rec.Key.OptionID == e.NoActionOptionID {
			continue
		}
		base, err := ws.Get(rec.Key.WithOption(e.NoActionOptionID))
		if err != nil {
			return 0, fmt.Errorf("failed to difference weighted record %s: %w", rec.Key, err)
		}
		meta, err := e.composite(rec.Key.OptionID,
			rec.Identifiers[weighted.IdentOptionName], base.Identifiers[weighted.IdentOptionName], taken, cache)
		if err != nil {
			return 0, err
		}
		d := &weighted.Record{
			Key:         rec.Key.WithOption(meta.id),
			Identifiers: make(map[string]string, len(rec.Identifiers)),
			Values:      difference(rec.Values, base.Values),
		}
		for k, v := range rec.Identifiers {
			d.Identifiers[k] = v
		}
		d.Identifiers[weighted.IdentOptionName] = meta.name
		out = append(out, d)
	}

	for _, r := range out {
		ws.Put(r)
	}
	e.Logger.Info().Int("records", len(out)).Msg("computed weighted cost-per-mile deltas")
	return len(out), nil
}
