package storage

import (
	"errors"
	"fmt"

	"github.com/keeldb/keel/record"
)

// Errors.
var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrClusterNotFound = errors.New("cluster not found")
	ErrClusterExists   = errors.New("cluster already exists")
	ErrFrozen          = errors.New("storage is frozen")
	ErrClosed          = errors.New("storage is closed")
	ErrExists          = errors.New("storage already exists")
	ErrNotExists       = errors.New("storage does not exist")
	ErrNotImplemented  = errors.New("not implemented")
)

// A ConflictError reports an MVCC version mismatch.
type ConflictError struct {
	RID             record.RID
	StoredVersion   record.Version
	ProposedVersion record.Version
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot update record %s: stored version is %s, proposed version is %s",
		e.RID, e.StoredVersion, e.ProposedVersion)
}

// IsConflict reports whether err is an MVCC conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
