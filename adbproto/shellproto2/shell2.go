// Package shellproto2 implements the Shell Protocol v2 packet framing used by
// shell,v2: sessions: a 5-byte header (id + little-endian length) followed by
// the payload.
package shellproto2

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// PacketID identifies a shell v2 packet.
type PacketID uint8

const (
	PacketStdin  PacketID = 0
	PacketStdout PacketID = 1
	PacketStderr PacketID = 2
	PacketExit   PacketID = 3

	// PacketCloseStdin closes the subprocess's stdin, if possible.
	PacketCloseStdin PacketID = 4

	// PacketWindowSizeChange carries an ASCII "rows cols xpixel ypixel" payload.
	PacketWindowSizeChange PacketID = 5

	// PacketInvalid marks an invalid or unknown packet.
	PacketInvalid PacketID = 255
)

const (
	// MaxPayload bounds a single packet's payload; larger writes are split.
	MaxPayload = 4 * 1024
	BufferSize = MaxPayload

	// HeaderSize is 1 byte ID + 4 bytes little-endian length.
	HeaderSize = 1 + 4
)

// WinSize is a shell v2 window-size-change payload.
type WinSize struct {
	Row    int
	Col    int
	XPixel int
	YPixel int
}

// AppendBinary appends the ASCII "rows cols xpixel ypixel" wire form.
func (s WinSize) AppendBinary(b []byte) []byte {
	return fmt.Appendf(b, "%d %d %d %d", s.Row, s.Col, s.XPixel, s.YPixel)
}

// ParseWinSize parses the ASCII "rows cols xpixel ypixel" wire form.
func ParseWinSize(payload []byte) (WinSize, error) {
	var s WinSize
	n, err := fmt.Sscanf(string(payload), "%d %d %d %d", &s.Row, &s.Col, &s.XPixel, &s.YPixel)
	if err != nil || n != 4 {
		return WinSize{}, fmt.Errorf("malformed window size change payload %q", payload)
	}
	return s, nil
}

// Conn is a shell v2 packet connection: a low-level, buffered read/write pair
// over an underlying byte stream.
type Conn struct {
	rw   io.ReadWriter
	rrem int
	rcnt int
	rbuf [BufferSize + HeaderSize]byte
	wbuf [BufferSize + HeaderSize]byte
	errm sync.Mutex
	err  error
}

// New creates a Conn reading and writing to rw.
func New(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Read reads the next packet, blocking until it is received or an error
// occurs. If an error occurs, ok is false and all future operations on c
// fail. Read must not be called concurrently with other calls to Read; the
// returned slice is only valid until the next call to Read.
func (c *Conn) Read() (id PacketID, payload []byte, ok bool) {
	if c.Error() != nil {
		return PacketInvalid, nil, false
	}
	if c.rrem == 0 {
		if _, err := io.ReadFull(c.rw, c.rbuf[:HeaderSize]); err != nil {
			c.setError(fmt.Errorf("read header: %w", err))
			return PacketInvalid, nil, false
		}
		c.rrem = int(binary.LittleEndian.Uint32(c.rbuf[1:HeaderSize]))
		c.rcnt = 0
	}
	n := min(c.rrem, BufferSize)
	if n != 0 {
		if _, err := io.ReadFull(c.rw, c.rbuf[HeaderSize:HeaderSize+n]); err != nil {
			c.setError(fmt.Errorf("read data: %w", err))
			return PacketInvalid, nil, false
		}
	}
	c.rrem -= n
	c.rcnt = n
	return PacketID(c.rbuf[0]), c.rbuf[HeaderSize : HeaderSize+c.rcnt : HeaderSize+c.rcnt], true
}

// Write writes a packet, splitting data into multiple packets if it exceeds
// MaxPayload. It blocks until everything is written or an error occurs. If an
// error occurs, ok is false and all future operations on c fail. Write must
// not be called concurrently with other calls to Write.
func (c *Conn) Write(id PacketID, data []byte) (ok bool) {
	for {
		n := copy(c.wbuf[HeaderSize:], data)
		c.wbuf[0] = uint8(id)
		binary.LittleEndian.PutUint32(c.wbuf[1:HeaderSize], uint32(n))
		data = data[n:]

		if _, err := c.rw.Write(c.wbuf[:HeaderSize+n]); err != nil {
			c.setError(fmt.Errorf("write: %w", err))
			return false
		}
		if len(data) == 0 {
			return true
		}
	}
}

// Error returns the sticky error, if any. Safe for concurrent use.
func (c *Conn) Error() error {
	c.errm.Lock()
	defer c.errm.Unlock()
	return c.err
}

func (c *Conn) setError(err error) {
	c.errm.Lock()
	defer c.errm.Unlock()
	if c.err == nil {
		c.err = err
	}
}
