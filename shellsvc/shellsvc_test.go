package shellsvc

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/XcantloadX/adbsrv/adbproto"
	"github.com/XcantloadX/adbsrv/adbproto/shellproto2"
	"github.com/XcantloadX/adbsrv/router"
	"github.com/XcantloadX/adbsrv/session"
)

func newShellSession(t *testing.T) net.Conn {
	t.Helper()
	svc := &Service{}
	var rt router.Router
	rt.RegisterAll(svc)

	client, engineConn := net.Pipe()
	t.Cleanup(func() { client.Close() })
	engine := &session.Engine{Router: &rt}
	go engine.Serve(context.Background(), engineConn)
	return client
}

func TestNonInteractiveRawStreamsMergedOutput(t *testing.T) {
	conn := newShellSession(t)
	if err := adbproto.WriteLengthPrefixed(conn, "shell:echo hello"); err != nil {
		t.Fatal(err)
	}
	var status [4]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		t.Fatal(err)
	}
	if string(status[:]) != "OKAY" {
		t.Fatalf("got status %q, want OKAY", status)
	}
	out, err := io.ReadAll(conn)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("got output %q, want %q", out, "hello\n")
	}
}

func TestNonInteractiveV2FramesOutputAndExit(t *testing.T) {
	conn := newShellSession(t)
	if err := adbproto.WriteLengthPrefixed(conn, "shell,v2:echo hi"); err != nil {
		t.Fatal(err)
	}
	var status [4]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		t.Fatal(err)
	}
	if string(status[:]) != "OKAY" {
		t.Fatalf("got status %q, want OKAY", status)
	}

	pconn := shellproto2.New(conn)
	var sawStdout bool
	var sawExit bool
	for !sawExit {
		id, payload, ok := pconn.Read()
		if !ok {
			t.Fatalf("packet read failed: %v", pconn.Error())
		}
		switch id {
		case shellproto2.PacketStdout:
			if string(payload) == "hi\n" {
				sawStdout = true
			}
		case shellproto2.PacketExit:
			if len(payload) != 1 || payload[0] != 0 {
				t.Fatalf("got exit code packet %v, want [0]", payload)
			}
			sawExit = true
		}
	}
	if !sawStdout {
		t.Fatal("expected a stdout packet carrying \"hi\\n\"")
	}
}

func TestNonInteractiveV2NonZeroExitCode(t *testing.T) {
	conn := newShellSession(t)
	if err := adbproto.WriteLengthPrefixed(conn, "shell,v2:exit 7"); err != nil {
		t.Fatal(err)
	}
	var status [4]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		t.Fatal(err)
	}

	pconn := shellproto2.New(conn)
	for {
		id, payload, ok := pconn.Read()
		if !ok {
			t.Fatalf("packet read failed: %v", pconn.Error())
		}
		if id == shellproto2.PacketExit {
			if len(payload) != 1 || payload[0] != 7 {
				t.Fatalf("got exit code %v, want 7", payload)
			}
			return
		}
	}
}

func TestInteractiveRawEchoesStdin(t *testing.T) {
	conn := newShellSession(t)
	if err := adbproto.WriteLengthPrefixed(conn, "shell:"); err != nil {
		t.Fatal(err)
	}
	var status [4]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		t.Fatal(err)
	}
	if string(status[:]) != "OKAY" {
		t.Fatalf("got status %q, want OKAY", status)
	}

	if _, err := conn.Write([]byte("echo ping\nexit\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, _ := io.ReadAll(conn)
	if !strings.Contains(string(out), "ping") {
		t.Fatalf("got output %q, want it to contain %q", out, "ping")
	}
}
