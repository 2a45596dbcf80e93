package database

import (
	"time"

	"github.com/keeldb/keel/record"
)

// A CommandRequest is a query or command to be executed by the command
// compiler collaborator.
type CommandRequest struct {
	Text      string
	FetchPlan string
	Timeout   time.Duration
	Params    map[string]interface{}
	Async     bool
}

// CommandResultKind discriminates command results on the wire.
type CommandResultKind byte

// Command result kinds, matching the wire discriminator bytes.
const (
	ResultNull    CommandResultKind = 'n'
	ResultRecord  CommandResultKind = 'r'
	ResultList    CommandResultKind = 'l'
	ResultLiteral CommandResultKind = 'a'
)

// A CommandResult is what a command execution yields.
type CommandResult struct {
	Kind    CommandResultKind
	Records []*record.Record
	Literal string
	// FetchedRecords are side records to push into the client cache.
	FetchedRecords []*record.Record
}

// A CommandExecutor compiles and executes commands. The SQL compiler is
// an external collaborator implementing this contract.
type CommandExecutor interface {
	Execute(db *Database, req *CommandRequest) (*CommandResult, error)
}

// Command executes a request through the configured executor after a
// command READ check. The caller clamps the timeout to the server
// maximum before handing the request over.
func (db *Database) Command(req *CommandRequest) (*CommandResult, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if err := db.CheckSecurity(ResourceCommand, PermissionRead); err != nil {
		return nil, err
	}
	if db.executor == nil {
		return nil, ErrNoCommandSupport
	}
	return db.executor.Execute(db, req)
}
