package wire

import (
	"errors"
	"strings"
)

// Exception class names carried in error frames. Clients key retry
// behavior off the class name, so these are part of the protocol.
const (
	ClassDatabase               = "DatabaseException"
	ClassSecurityAccess         = "SecurityAccessException"
	ClassConcurrentModification = "ConcurrentModificationException"
	ClassRecordNotFound         = "RecordNotFoundException"
	ClassClusterNotFound        = "ClusterNotFoundException"
	ClassCommandNotSupported    = "CommandNotSupportedException"
	ClassConfiguration          = "ConfigurationException"
	ClassTransactionAborted     = "TransactionAbortedException"
	ClassIO                     = "IOException"
)

// An ErrorDetail is one link of the exception chain in an error frame.
type ErrorDetail struct {
	Class   string
	Message string
}

// A RemoteError is the decoded form of an error frame: the exception
// chain plus the optional serialized blob.
type RemoteError struct {
	Chain []ErrorDetail
	Blob  []byte
}

func (e *RemoteError) Error() string {
	if len(e.Chain) == 0 {
		return "remote error"
	}
	parts := make([]string, 0, len(e.Chain))
	for _, d := range e.Chain {
		parts = append(parts, d.Class+": "+d.Message)
	}
	return strings.Join(parts, " <- ")
}

// Is matches remote errors by their outermost class.
func (e *RemoteError) Is(target error) bool {
	var other *RemoteError
	if !errors.As(target, &other) {
		return false
	}
	return len(e.Chain) > 0 && len(other.Chain) > 0 && e.Chain[0].Class == other.Chain[0].Class
}

// WriteErrorChain writes the (1, class, message)* 0 chain for err. The
// chain unwraps nested errors so the client sees the full cause list.
func (c *Channel) WriteErrorChain(err error) error {
	current := err
	for current != nil {
		if werr := c.WriteByte(1); werr != nil {
			return werr
		}
		if werr := c.WriteString(ExceptionClass(current)); werr != nil {
			return werr
		}
		if werr := c.WriteString(current.Error()); werr != nil {
			return werr
		}
		current = errors.Unwrap(current)
	}
	return c.WriteByte(0)
}

// ReadErrorChain decodes an error frame body into a RemoteError. The
// caller reads the blob separately when the protocol version carries
// one.
func (c *Channel) ReadErrorChain() (*RemoteError, error) {
	remote := &RemoteError{}
	for {
		more, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		if more == 0 {
			return remote, nil
		}
		class, err := c.ReadString()
		if err != nil {
			return nil, err
		}
		message, err := c.ReadString()
		if err != nil {
			return nil, err
		}
		remote.Chain = append(remote.Chain, ErrorDetail{Class: class, Message: message})
	}
}

// A ClassedError pins the exception class reported for an error.
type ClassedError struct {
	Class string
	Err   error
}

func (e *ClassedError) Error() string { return e.Err.Error() }

// Unwrap exposes the cause beneath the wrapped error, so the chain does
// not list the wrapped error's own message twice.
func (e *ClassedError) Unwrap() error { return errors.Unwrap(e.Err) }

// NewClassedError wraps err under the given exception class.
func NewClassedError(class string, err error) error {
	return &ClassedError{Class: class, Err: err}
}

// ExceptionClass maps an error to the class name sent on the wire.
func ExceptionClass(err error) string {
	var classed *ClassedError
	if errors.As(err, &classed) {
		return classed.Class
	}
	return ClassDatabase
}
