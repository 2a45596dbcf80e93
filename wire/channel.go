package wire

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tevino/abool"

	"github.com/keeldb/keel/record"
)

// A Channel frames fixed-endian primitives over a duplex byte stream.
// Reads are single-threaded per connection; writes are serialized by
// the channel write lock so exactly one response is in flight at a
// time.
type Channel struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	writeLock sync.Mutex
	connected *abool.AtomicBool

	closeListeners []func(*Channel)
}

// NewChannel wraps an established connection.
func NewChannel(conn net.Conn) *Channel {
	return &Channel{
		conn:      conn,
		r:         bufio.NewReader(conn),
		w:         bufio.NewWriter(conn),
		connected: abool.NewBool(true),
	}
}

// IsConnected reports whether the channel is still usable.
func (c *Channel) IsConnected() bool {
	return c.connected.IsSet()
}

// RemoteAddr returns the peer address.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetReadDeadline forwards to the underlying connection.
func (c *Channel) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RegisterCloseListener subscribes to channel shutdown. The connection
// pool listens on every channel it hands out.
func (c *Channel) RegisterCloseListener(fn func(*Channel)) {
	c.closeListeners = append(c.closeListeners, fn)
}

// Close tears the channel down and notifies close listeners once.
func (c *Channel) Close() error {
	if !c.connected.SetToIf(true, false) {
		return nil
	}
	err := c.conn.Close()
	for _, fn := range c.closeListeners {
		fn(c)
	}
	return err
}

// AcquireWriteLock blocks until this caller is the only writer.
func (c *Channel) AcquireWriteLock() {
	c.writeLock.Lock()
}

// ReleaseWriteLock releases the writer slot.
func (c *Channel) ReleaseWriteLock() {
	c.writeLock.Unlock()
}

// TryAcquireWriteLock attempts to become the writer without blocking.
func (c *Channel) TryAcquireWriteLock() bool {
	return c.writeLock.TryLock()
}

// Flush pushes buffered output to the socket.
func (c *Channel) Flush() error {
	return c.w.Flush()
}

// ReadByte reads a single byte.
func (c *Channel) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadBool reads a byte and interprets any non-zero value as true.
func (c *Channel) ReadBool() (bool, error) {
	b, err := c.ReadByte()
	return b > 0, err
}

// ReadShort reads a big-endian i16.
func (c *Channel) ReadShort() (int16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(buf[:])), nil
}

// ReadInt reads a big-endian i32.
func (c *Channel) ReadInt() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// ReadLong reads a big-endian i64.
func (c *Channel) ReadLong() (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// ReadString reads a length-prefixed UTF-8 string. A negative length
// yields the empty string (wire null).
func (c *Channel) ReadString() (string, error) {
	b, err := c.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads a length-prefixed byte array. A negative length
// yields nil (wire null).
func (c *Channel) ReadBytes() ([]byte, error) {
	n, err := c.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRID reads a record id as (i16 cluster, fixed-width position).
func (c *Channel) ReadRID() (record.RID, error) {
	clusterID, err := c.ReadShort()
	if err != nil {
		return record.RID{}, err
	}
	pos, err := c.ReadClusterPosition()
	if err != nil {
		return record.RID{}, err
	}
	return record.NewRID(clusterID, pos), nil
}

// ReadClusterPosition reads the fixed-width cluster position.
func (c *Channel) ReadClusterPosition() (int64, error) {
	return c.ReadLong()
}

// ReadVersion reads and validates a record version.
func (c *Channel) ReadVersion() (record.Version, error) {
	wireVersion, err := c.ReadInt()
	if err != nil {
		return record.Version{}, err
	}
	return record.DecodeVersion(wireVersion)
}

// WriteByte writes a single byte.
func (c *Channel) WriteByte(b byte) error {
	return c.w.WriteByte(b)
}

// WriteBool writes a bool as one byte.
func (c *Channel) WriteBool(v bool) error {
	if v {
		return c.WriteByte(1)
	}
	return c.WriteByte(0)
}

// WriteShort writes a big-endian i16.
func (c *Channel) WriteShort(v int16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(v))
	_, err := c.w.Write(buf[:])
	return err
}

// WriteInt writes a big-endian i32.
func (c *Channel) WriteInt(v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := c.w.Write(buf[:])
	return err
}

// WriteLong writes a big-endian i64.
func (c *Channel) WriteLong(v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := c.w.Write(buf[:])
	return err
}

// WriteString writes a length-prefixed UTF-8 string.
func (c *Channel) WriteString(s string) error {
	if err := c.WriteInt(int32(len(s))); err != nil {
		return err
	}
	_, err := c.w.WriteString(s)
	return err
}

// WriteBytes writes a length-prefixed byte array, nil as length -1.
func (c *Channel) WriteBytes(b []byte) error {
	if b == nil {
		return c.WriteInt(-1)
	}
	if err := c.WriteInt(int32(len(b))); err != nil {
		return err
	}
	_, err := c.w.Write(b)
	return err
}

// WriteRID writes a record id.
func (c *Channel) WriteRID(rid record.RID) error {
	if err := c.WriteShort(rid.ClusterID); err != nil {
		return err
	}
	return c.WriteClusterPosition(rid.ClusterPosition)
}

// WriteClusterPosition writes the fixed-width cluster position.
func (c *Channel) WriteClusterPosition(pos int64) error {
	return c.WriteLong(pos)
}

// WriteVersion writes a record version.
func (c *Channel) WriteVersion(v record.Version) error {
	return c.WriteInt(v.Encode())
}
