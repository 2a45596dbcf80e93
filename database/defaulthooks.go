package database

import (
	"fmt"

	"github.com/keeldb/keel/record"
)

// Restricted-access document fields. A document listing principals in
// one of these arrays is only visible/mutable to them.
const (
	allowAllField    = "_allow"
	allowReadField   = "_allowRead"
	allowUpdateField = "_allowUpdate"
	allowDeleteField = "_allowDelete"
)

// restrictedAccessHook enforces per-record ACLs carried in the
// document itself. Installed FIRST on every non-remote database.
type restrictedAccessHook struct {
	HookBase
	db *Database
}

func newRestrictedAccessHook(db *Database) Hook {
	return &restrictedAccessHook{db: db}
}

func (h *restrictedAccessHook) OnTrigger(event HookType, rec *record.Record) (HookResult, *record.Record, error) {
	if rec.Type() != record.TypeDocument {
		return RecordNotChanged, nil, nil
	}

	var field string
	switch event {
	case HookBeforeRead:
		field = allowReadField
	case HookBeforeUpdate:
		field = allowUpdateField
	case HookBeforeDelete:
		field = allowDeleteField
	default:
		return RecordNotChanged, nil, nil
	}

	if h.allowed(rec, field) && h.allowed(rec, allowAllField) {
		return RecordNotChanged, nil, nil
	}
	if event != HookBeforeRead {
		return RecordNotChanged, nil, fmt.Errorf("record %s is restricted: %w", rec.RID(), ErrAccessDenied)
	}
	return Skip, nil, nil
}

func (h *restrictedAccessHook) allowed(rec *record.Record, field string) bool {
	data := rec.Bytes()
	acc := record.NewDocumentAccessor(&data)
	principals, restricted := acc.GetStrings(field)
	if !restricted {
		return true
	}
	user := h.db.User()
	if user == nil {
		return false
	}
	for _, p := range principals {
		if p == user.Name {
			return true
		}
		for _, role := range user.Roles {
			if p == "role:"+role.Name {
				return true
			}
		}
	}
	return false
}

// ridbagDeleteHook releases the bonsai collections referenced by a
// deleted record. Installed LAST so it sees the final document state.
type ridbagDeleteHook struct {
	HookBase
	db *Database
}

func newRIDBagDeleteHook(db *Database) Hook {
	return &ridbagDeleteHook{db: db}
}

func (h *ridbagDeleteHook) OnTrigger(event HookType, rec *record.Record) (HookResult, *record.Record, error) {
	if event != HookAfterDelete || rec.Type() != record.TypeDocument {
		return RecordNotChanged, nil, nil
	}
	manager := h.db.CollectionManager()
	if manager == nil {
		return RecordNotChanged, nil, nil
	}
	for _, ptr := range record.ExtractCollectionPointers(rec.Bytes()) {
		manager.ReleaseCollection(CollectionPointer{
			FileID:     ptr.FileID,
			PageIndex:  ptr.PageIndex,
			PageOffset: ptr.PageOffset,
		})
	}
	return RecordNotChanged, nil, nil
}
