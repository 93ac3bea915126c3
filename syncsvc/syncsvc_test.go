package syncsvc

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/XcantloadX/adbsrv/adbfs"
	"github.com/XcantloadX/adbsrv/adbproto"
	"github.com/XcantloadX/adbsrv/adbproto/syncproto"
	"github.com/XcantloadX/adbsrv/router"
	"github.com/XcantloadX/adbsrv/session"
)

func newSyncSession(t *testing.T, fs adbfs.FileSystem) net.Conn {
	t.Helper()
	svc := &Service{FS: fs}
	var rt router.Router
	rt.RegisterAll(svc)

	client, engineConn := net.Pipe()
	t.Cleanup(func() { client.Close() })
	engine := &session.Engine{Router: &rt}
	go engine.Serve(context.Background(), engineConn)

	if err := adbproto.WriteLengthPrefixed(client, "sync:"); err != nil {
		t.Fatal(err)
	}
	var status [4]byte
	if _, err := io.ReadFull(client, status[:]); err != nil {
		t.Fatal(err)
	}
	if string(status[:]) != "OKAY" {
		t.Fatalf("got status %q, want OKAY", status)
	}
	return client
}

func TestSyncStatExistingFile(t *testing.T) {
	fs := adbfs.NewMemoryFileSystem()
	wc, err := fs.OpenForWrite("/foo.txt", 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	wc.Close()

	conn := newSyncSession(t, fs)
	if err := syncproto.WriteFrame(conn, syncproto.IDStat, []byte("/foo.txt")); err != nil {
		t.Fatal(err)
	}
	id, length, err := syncproto.ReadHeader(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDStat {
		t.Fatalf("got id %v, want STAT", id)
	}
	// WriteStat's length field carries the mode (fixed 16-byte layout).
	if length == 0 {
		t.Fatal("expected a non-zero mode in the STAT reply")
	}
}

func TestSyncListEmptyDirThenContinues(t *testing.T) {
	fs := adbfs.NewMemoryFileSystem()
	if err := fs.Makedirs("/sdcard"); err != nil {
		t.Fatal(err)
	}

	conn := newSyncSession(t, fs)
	if err := syncproto.WriteFrame(conn, syncproto.IDList, []byte("/sdcard")); err != nil {
		t.Fatal(err)
	}
	id, _, err := syncproto.ReadHeader(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDDone {
		t.Fatalf("got id %v, want DONE for an empty directory listing", id)
	}

	// LIST does not end the sync session: a second request should still work.
	if err := syncproto.WriteFrame(conn, syncproto.IDStat, []byte("/sdcard")); err != nil {
		t.Fatal(err)
	}
	id, _, err = syncproto.ReadHeader(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDStat {
		t.Fatalf("got id %v after LIST, want STAT (sync loop should still be alive)", id)
	}
}

func TestSyncRecvStreamsFileContent(t *testing.T) {
	fs := adbfs.NewMemoryFileSystem()
	wc, err := fs.OpenForWrite("/hello.txt", 0o644)
	if err != nil {
		t.Fatal(err)
	}
	wc.Write([]byte("hello world"))
	wc.Close()

	conn := newSyncSession(t, fs)
	if err := syncproto.WriteFrame(conn, syncproto.IDRecv, []byte("/hello.txt")); err != nil {
		t.Fatal(err)
	}
	id, payload, err := syncproto.ReadFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDData {
		t.Fatalf("got id %v, want DATA", id)
	}
	if string(payload) != "hello world" {
		t.Fatalf("got payload %q", payload)
	}
	id, _, err = syncproto.ReadHeader(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDDone {
		t.Fatalf("got id %v, want DONE to terminate RECV", id)
	}
}

func TestSyncSendWritesFileAndSetsMtime(t *testing.T) {
	fs := adbfs.NewMemoryFileSystem()
	conn := newSyncSession(t, fs)

	if err := syncproto.WriteFrame(conn, syncproto.IDSend, []byte("/new.txt,33188")); err != nil {
		t.Fatal(err)
	}
	if err := syncproto.WriteFrame(conn, syncproto.IDData, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	const mtime = uint32(1700000000)
	if err := syncproto.WriteDone(conn, mtime); err != nil {
		t.Fatal(err)
	}

	id, _, err := syncproto.ReadHeader(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDOkay {
		t.Fatalf("got id %v, want OKAY to ack SEND", id)
	}

	rc, err := fs.OpenForRead("/new.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Fatalf("got content %q", data)
	}

	st, ok, err := fs.Stat("/new.txt")
	if err != nil || !ok {
		t.Fatalf("stat failed: ok=%v err=%v", ok, err)
	}
	if st.Mtime != mtime {
		t.Fatalf("got mtime %d, want %d", st.Mtime, mtime)
	}
}

func TestSyncRecvMissingFileFailsButSessionContinues(t *testing.T) {
	fs := adbfs.NewMemoryFileSystem()
	conn := newSyncSession(t, fs)

	if err := syncproto.WriteFrame(conn, syncproto.IDRecv, []byte("/nope.txt")); err != nil {
		t.Fatal(err)
	}
	id, _, err := syncproto.ReadFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDFail {
		t.Fatalf("got id %v, want FAIL for a missing file", id)
	}

	// A failed RECV must not end the sync session: the client should be able
	// to keep going, e.g. to pull the next file in a batch.
	if err := syncproto.WriteFrame(conn, syncproto.IDStat, []byte("/")); err != nil {
		t.Fatal(err)
	}
	id, _, err = syncproto.ReadHeader(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDStat {
		t.Fatalf("got id %v after a failed RECV, want STAT (sync loop should still be alive)", id)
	}
}

func TestSyncSendToBadDirectoryFailsButSessionContinues(t *testing.T) {
	fs := adbfs.NewMemoryFileSystem()
	fs.AutoCreate = false
	conn := newSyncSession(t, fs)

	// OpenForWrite fails here because AutoCreate is off and /missing doesn't
	// exist, so the server can't open the destination.
	if err := syncproto.WriteFrame(conn, syncproto.IDSend, []byte("/missing/file.txt,33188")); err != nil {
		t.Fatal(err)
	}
	if err := syncproto.WriteFrame(conn, syncproto.IDData, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := syncproto.WriteDone(conn, 1700000000); err != nil {
		t.Fatal(err)
	}

	id, _, err := syncproto.ReadFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDFail {
		t.Fatalf("got id %v, want FAIL once the undeliverable SEND's DONE arrives", id)
	}

	// The client's DATA/DONE bytes must have been fully drained server-side
	// (instead of left on the wire), or this STAT would desync and read
	// garbage instead of the STAT reply.
	if err := syncproto.WriteFrame(conn, syncproto.IDStat, []byte("/")); err != nil {
		t.Fatal(err)
	}
	id, _, err = syncproto.ReadHeader(conn)
	if err != nil {
		t.Fatal(err)
	}
	if id != syncproto.IDStat {
		t.Fatalf("got id %v after a failed SEND, want STAT (sync loop should still be alive)", id)
	}
}

func TestSyncQuitEndsSession(t *testing.T) {
	fs := adbfs.NewMemoryFileSystem()
	conn := newSyncSession(t, fs)
	if err := syncproto.WriteFrame(conn, syncproto.IDQuit, nil); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var buf [1]byte
	if _, err := conn.Read(buf[:]); err == nil {
		t.Fatal("expected the connection to close after QUIT")
	}
}
