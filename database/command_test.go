package database

import (
	"errors"
	"testing"
	"time"
)

type stubExecutor struct {
	lastReq *CommandRequest
	result  *CommandResult
}

func (e *stubExecutor) Execute(db *Database, req *CommandRequest) (*CommandResult, error) {
	e.lastReq = req
	return e.result, nil
}

func TestCommandWithoutExecutor(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.Command(&CommandRequest{Text: "select from default"})
	if !errors.Is(err, ErrNoCommandSupport) {
		t.Fatalf("command without executor = %v", err)
	}
}

func TestCommandDelegatesToExecutor(t *testing.T) {
	db := newTestDatabase(t)

	stub := &stubExecutor{result: &CommandResult{Kind: ResultLiteral, Literal: "3"}}
	db.SetCommandExecutor(stub)

	result, err := db.Command(&CommandRequest{
		Text:    "select count(*) from default",
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != ResultLiteral || result.Literal != "3" {
		t.Errorf("result = %+v", result)
	}
	if stub.lastReq.Text != "select count(*) from default" {
		t.Errorf("request text = %q", stub.lastReq.Text)
	}
}

func TestCommandRequiresPermission(t *testing.T) {
	db := newTestDatabase(t)
	db.SetCommandExecutor(&stubExecutor{result: &CommandResult{Kind: ResultNull}})

	limited, err := NewUser("reader", "pw", NewRole("reader", map[string]byte{
		ResourceCluster + "." + ResourceAll: PermissionRead,
	}))
	if err != nil {
		t.Fatal(err)
	}
	db.SetUser(limited)

	if _, err := db.Command(&CommandRequest{Text: "select"}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("command without permission = %v", err)
	}
}
