package database

import (
	"errors"
)

// Errors.
var (
	ErrClosed           = errors.New("database is closed")
	ErrOpen             = errors.New("database is already open")
	ErrAccessDenied     = errors.New("access to resource denied")
	ErrInvalidUser      = errors.New("user or password not valid")
	ErrNoRoles          = errors.New("user has no roles defined")
	ErrNoIdentity       = errors.New("record has no identity")
	ErrNoTx             = errors.New("no active transaction")
	ErrTxActive         = errors.New("transaction already active")
	ErrShuttingDown     = errors.New("database system is shutting down")
	ErrNotRegistered    = errors.New("database not registered")
	ErrNoCommandSupport = errors.New("command executor not configured")
	ErrTxAborted        = errors.New("transaction aborted by the client")
	ErrInvalidName      = errors.New("database name must only contain alphanumeric and `_-` characters")
)
