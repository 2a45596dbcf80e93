// Package client implements the remote binary channel and the per-URL
// bounded connection pool multiplexing authenticated channels.
package client

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keeldb/keel/wire"
)

// Config carries the client-side channel settings.
type Config struct {
	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration
	// RequestTimeout is carried with the settings; the channel sets no
	// read or write deadline from it, so a request round trip is not
	// bounded by it.
	RequestTimeout time.Duration
	// MaxPool overrides the per-URL pool capacity when positive.
	MaxPool int
}

// A Channel is one authenticated client connection to a server. It is
// borrowed from the pool between Acquire and Release and must not be
// shared while borrowed.
type Channel struct {
	*wire.Channel

	url             string
	serverProtocol  int16
	sessionID       int32
	protocolVersion int16
}

// Dial connects a channel to the given URL ("host:port" or
// "host:port/database") and reads the server's protocol version, which
// arrives as the first two bytes of every connection.
func Dial(url string, cfg Config) (*Channel, error) {
	if url == "" {
		return nil, fmt.Errorf("server url is empty")
	}
	address := url
	if sep := strings.Index(address, "/"); sep > -1 {
		address = address[:sep]
	}

	logrus.Debugf("client: trying to connect to the remote host %s", address)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("error on connecting to %s: %w", url, err)
	}

	ch := &Channel{
		Channel:         wire.NewChannel(conn),
		url:             url,
		sessionID:       -1,
		protocolVersion: wire.CurrentProtocolVersion,
	}

	serverProtocol, err := ch.ReadShort()
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("error on reading server protocol version from %s: %w", url, err)
	}
	ch.serverProtocol = serverProtocol
	if serverProtocol < ch.protocolVersion {
		// speak the older dialect
		ch.protocolVersion = serverProtocol
	}
	if ch.protocolVersion < wire.MinProtocolVersion {
		_ = ch.Close()
		return nil, fmt.Errorf("server %s speaks protocol %d, minimum supported is %d",
			url, serverProtocol, wire.MinProtocolVersion)
	}
	return ch, nil
}

// URL returns the url the channel was dialed for.
func (c *Channel) URL() string { return c.url }

// ServerProtocol returns the raw protocol version the server
// announced.
func (c *Channel) ServerProtocol() int16 { return c.serverProtocol }

// ProtocolVersion returns the negotiated protocol version.
func (c *Channel) ProtocolVersion() int16 { return c.protocolVersion }

// SessionID returns the server-assigned session id, -1 before CONNECT
// or DB_OPEN.
func (c *Channel) SessionID() int32 { return c.sessionID }

// SetSessionID binds the server-assigned session id.
func (c *Channel) SetSessionID(id int32) { c.sessionID = id }

// BeginRequest takes the write lock and writes the request envelope.
func (c *Channel) BeginRequest(op byte) error {
	c.AcquireWriteLock()
	if err := c.WriteByte(op); err != nil {
		c.ReleaseWriteLock()
		return err
	}
	if err := c.WriteInt(c.sessionID); err != nil {
		c.ReleaseWriteLock()
		return err
	}
	return nil
}

// EndRequest flushes the request and releases the write lock.
func (c *Channel) EndRequest() error {
	err := c.Flush()
	c.ReleaseWriteLock()
	return err
}

// BeginResponse reads the response envelope. An error status decodes
// the exception chain (and blob on protocol 19+) into a RemoteError.
func (c *Channel) BeginResponse() error {
	status, err := c.ReadByte()
	if err != nil {
		return err
	}
	if _, err := c.ReadInt(); err != nil { // correlation id
		return err
	}
	switch status {
	case wire.ResponseStatusOK:
		return nil
	case wire.ResponseStatusError:
		remote, err := c.ReadErrorChain()
		if err != nil {
			return err
		}
		if c.protocolVersion >= wire.ProtocolVersion19 {
			remote.Blob, err = c.ReadBytes()
			if err != nil {
				return err
			}
		}
		return remote
	default:
		return fmt.Errorf("unexpected response status %d", status)
	}
}

// Unlock force-releases the write lock, used when a borrowed channel is
// evicted mid-request.
func (c *Channel) Unlock() {
	if c.TryAcquireWriteLock() {
		c.ReleaseWriteLock()
		return
	}
	c.ReleaseWriteLock()
}
