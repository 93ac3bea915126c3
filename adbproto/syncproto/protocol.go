// Package syncproto implements the ADB sync v1 sub-protocol frame format: an
// 8-byte header (4 ASCII id bytes + little-endian length) followed by the
// payload. Sync v2 (STAT2/LIST2, compression) is out of scope.
package syncproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketID is a 4-byte ASCII sync frame id.
type PacketID [4]byte

func (id PacketID) String() string { return string(id[:]) }

var (
	IDList = PacketID{'L', 'I', 'S', 'T'}
	IDStat = PacketID{'S', 'T', 'A', 'T'}
	IDRecv = PacketID{'R', 'E', 'C', 'V'}
	IDSend = PacketID{'S', 'E', 'N', 'D'}
	IDQuit = PacketID{'Q', 'U', 'I', 'T'}

	IDDent = PacketID{'D', 'E', 'N', 'T'}
	IDData = PacketID{'D', 'A', 'T', 'A'}
	IDDone = PacketID{'D', 'O', 'N', 'E'}
	IDOkay = PacketID{'O', 'K', 'A', 'Y'}
	IDFail = PacketID{'F', 'A', 'I', 'L'}
)

// MaxDataChunk is the largest payload allowed in a DATA frame.
const MaxDataChunk = 64 * 1024

// MaxPathLength is the largest accepted path payload.
const MaxPathLength = 1024

// HeaderSize is 4 id bytes + 4 length bytes.
const HeaderSize = 8

// FileStat mirrors the wire STAT response: mode, size, and mtime, with no
// name (see Dirent for the LIST form that includes one).
type FileStat struct {
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// Dirent mirrors one wire DENT response entry.
type Dirent struct {
	Name  string
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// ReadHeader reads the raw 8-byte id+length header without consuming any
// payload. Used where the length field's meaning depends on id (the SEND
// inner loop: DATA's length is a trailing byte count, DONE's length is an
// mtime value with no trailing bytes at all).
func ReadHeader(r io.Reader) (id PacketID, length uint32, err error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return PacketID{}, 0, fmt.Errorf("read sync header: %w", err)
	}
	copy(id[:], hdr[:4])
	return id, binary.LittleEndian.Uint32(hdr[4:8]), nil
}

// ReadFrame reads an 8-byte sync frame header and its payload.
func ReadFrame(r io.Reader) (id PacketID, payload []byte, err error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return PacketID{}, nil, fmt.Errorf("read sync header: %w", err)
	}
	copy(id[:], hdr[:4])
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if length == 0 {
		return id, nil, nil
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return PacketID{}, nil, fmt.Errorf("read sync payload (len=%d): %w", length, err)
	}
	return id, payload, nil
}

// WriteFrame writes an 8-byte sync frame header followed by payload.
func WriteFrame(w io.Writer, id PacketID, payload []byte) error {
	var hdr [HeaderSize]byte
	copy(hdr[:4], id[:])
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write sync header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write sync payload: %w", err)
		}
	}
	return nil
}

// WriteDent writes one LIST response entry.
func WriteDent(w io.Writer, d Dirent) error {
	name := []byte(d.Name)
	var hdr [HeaderSize + 12]byte
	copy(hdr[:4], IDDent[:])
	binary.LittleEndian.PutUint32(hdr[4:8], d.Mode)
	binary.LittleEndian.PutUint32(hdr[8:12], d.Size)
	binary.LittleEndian.PutUint32(hdr[12:16], d.Mtime)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(name)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write dent header: %w", err)
	}
	if _, err := w.Write(name); err != nil {
		return fmt.Errorf("write dent name: %w", err)
	}
	return nil
}

// WriteStat writes a STAT response.
func WriteStat(w io.Writer, st FileStat) error {
	var buf [16]byte
	copy(buf[:4], IDStat[:])
	binary.LittleEndian.PutUint32(buf[4:8], st.Mode)
	binary.LittleEndian.PutUint32(buf[8:12], st.Size)
	binary.LittleEndian.PutUint32(buf[12:16], st.Mtime)
	_, err := w.Write(buf[:])
	return err
}

// WriteDone writes a DONE frame whose header carries n in its length field
// but has no trailing payload bytes — used both for "0 entries/chunks" and,
// as the DONE frame that ends a SEND transfer, to carry the file's mtime.
func WriteDone(w io.Writer, n uint32) error {
	var hdr [HeaderSize]byte
	copy(hdr[:4], IDDone[:])
	binary.LittleEndian.PutUint32(hdr[4:8], n)
	_, err := w.Write(hdr[:])
	return err
}

// WriteOkay writes an OKAY frame with a zero length.
func WriteOkay(w io.Writer) error {
	return WriteFrame(w, IDOkay, nil)
}

// WriteFail writes a FAIL frame carrying message as its payload.
func WriteFail(w io.Writer, message string) error {
	return WriteFrame(w, IDFail, []byte(message))
}
