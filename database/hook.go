package database

import (
	"sort"
	"sync"

	"github.com/keeldb/keel/record"
)

// HookType names the record lifecycle event a hook is invoked for.
type HookType uint8

// Hook types.
const (
	HookBeforeRead HookType = iota
	HookAfterRead
	HookBeforeCreate
	HookAfterCreate
	HookCreateFailed
	HookCreateReplicated
	HookBeforeUpdate
	HookAfterUpdate
	HookUpdateFailed
	HookUpdateReplicated
	HookBeforeDelete
	HookAfterDelete
	HookDeleteFailed
	HookDeleteReplicated
)

// HookResult is what a hook reports back to the pipeline.
type HookResult uint8

// Hook results. Skip, SkipIO and RecordReplaced short-circuit the
// pipeline; RecordChanged accumulates while later hooks still run.
const (
	RecordNotChanged HookResult = iota
	RecordChanged
	Skip
	SkipIO
	RecordReplaced
)

// HookPosition orders hook execution. Within a position, insertion
// order is preserved.
type HookPosition uint8

// Hook positions in dispatch order.
const (
	PositionFirst HookPosition = iota
	PositionEarly
	PositionRegular
	PositionLate
	PositionLast
)

// DistributedMode restricts where a hook runs when the storage is
// distributed.
type DistributedMode uint8

// Distributed execution modes.
const (
	// RunAnywhere executes on every node.
	RunAnywhere DistributedMode = iota
	// RunOnSourceNode executes only where the operation originated.
	RunOnSourceNode
	// RunOnTargetNode executes only where the record lives.
	RunOnTargetNode
)

// RunMode is the execution scenario of the current operation.
type RunMode uint8

// Run modes.
const (
	RunDefault RunMode = iota
	RunDistributed
)

// A Hook is a callback invoked around record lifecycle events. When the
// result is RecordReplaced the replacement record is returned alongside.
type Hook interface {
	// OnTrigger handles one lifecycle event for one record.
	OnTrigger(event HookType, rec *record.Record) (HookResult, *record.Record, error)
	// DistributedMode restricts execution in distributed setups.
	DistributedMode() DistributedMode
	// OnUnregister is called when the hook leaves the registry.
	OnUnregister()
}

// HookBase implements the Hook interface with no-op defaults.
type HookBase struct{}

// OnTrigger implements the Hook interface.
func (b *HookBase) OnTrigger(event HookType, rec *record.Record) (HookResult, *record.Record, error) {
	return RecordNotChanged, nil, nil
}

// DistributedMode implements the Hook interface.
func (b *HookBase) DistributedMode() DistributedMode {
	return RunAnywhere
}

// OnUnregister implements the Hook interface.
func (b *HookBase) OnUnregister() {}

type hookEntry struct {
	hook     Hook
	position HookPosition
	seq      int
}

// hookRegistry keeps hooks sorted by position, then insertion order.
// The entry slice is copy-on-write: dispatch reads a snapshot without
// holding the lock.
type hookRegistry struct {
	lock    sync.Mutex
	entries []hookEntry
	nextSeq int
}

func (r *hookRegistry) register(h Hook, position HookPosition) {
	r.lock.Lock()
	defer r.lock.Unlock()

	updated := make([]hookEntry, 0, len(r.entries)+1)
	replaced := false
	for _, e := range r.entries {
		if e.hook == h {
			// re-registration moves the hook to the new position,
			// keeping its original insertion order within it
			e.position = position
			replaced = true
		}
		updated = append(updated, e)
	}
	if !replaced {
		updated = append(updated, hookEntry{hook: h, position: position, seq: r.nextSeq})
		r.nextSeq++
	}
	sort.SliceStable(updated, func(i, j int) bool {
		if updated[i].position != updated[j].position {
			return updated[i].position < updated[j].position
		}
		return updated[i].seq < updated[j].seq
	})
	r.entries = updated
}

func (r *hookRegistry) unregister(h Hook) {
	r.lock.Lock()
	defer r.lock.Unlock()

	updated := make([]hookEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.hook == h {
			h.OnUnregister()
			continue
		}
		updated = append(updated, e)
	}
	r.entries = updated
}

func (r *hookRegistry) clear() {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, e := range r.entries {
		e.hook.OnUnregister()
	}
	r.entries = nil
}

func (r *hookRegistry) snapshot() []hookEntry {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.entries
}

// CallbackHooks runs the registered hooks for the given event. Re-entry
// for the same record returns RecordNotChanged without invoking any
// hook. The returned record is non-nil only for RecordReplaced.
func (db *Database) CallbackHooks(event HookType, rec *record.Record) (HookResult, *record.Record, error) {
	if rec == nil {
		return RecordNotChanged, nil, nil
	}

	rid := rec.RID()
	db.hookGuardLock.Lock()
	if _, reentry := db.hookGuard[rid]; reentry {
		db.hookGuardLock.Unlock()
		return RecordNotChanged, nil, nil
	}
	db.hookGuard[rid] = struct{}{}
	db.hookGuardLock.Unlock()

	defer func() {
		db.hookGuardLock.Lock()
		delete(db.hookGuard, rid)
		db.hookGuardLock.Unlock()
	}()

	distributed := db.storage.IsDistributed()
	changed := false
	for _, entry := range db.hooks.snapshot() {
		switch db.runMode {
		case RunDefault:
			if distributed && entry.hook.DistributedMode() == RunOnTargetNode {
				continue
			}
		case RunDistributed:
			if entry.hook.DistributedMode() == RunOnSourceNode {
				continue
			}
		}

		result, replacement, err := entry.hook.OnTrigger(event, rec)
		if err != nil {
			return RecordNotChanged, nil, err
		}
		switch result {
		case RecordChanged:
			changed = true
		case Skip, SkipIO:
			return result, nil, nil
		case RecordReplaced:
			return result, replacement, nil
		}
	}

	if changed {
		return RecordChanged, nil, nil
	}
	return RecordNotChanged, nil, nil
}

// RegisterHook adds a hook at the given position. Registering the same
// hook again moves it.
func (db *Database) RegisterHook(h Hook, position HookPosition) {
	db.hooks.register(h, position)
}

// UnregisterHook removes a hook from the registry.
func (db *Database) UnregisterHook(h Hook) {
	db.hooks.unregister(h)
}
