// Package hostsvc implements the built-in host: routes: version reporting,
// orderly shutdown, device listing, and the illustrative transport-selection
// routes the spec leaves for an embedder to flesh out.
package hostsvc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/XcantloadX/adbsrv/adbproto"
	"github.com/XcantloadX/adbsrv/device"
	"github.com/XcantloadX/adbsrv/router"
	"github.com/XcantloadX/adbsrv/session"
)

// ServerVersion is the 16-bit version reported by host:version, matching the
// distilled prototype's DEFAULT_SERVER_VERSION (41, i.e. "0029" in hex).
const ServerVersion = 41

// Killer is invoked by host:kill after OKAY has been written and flushed.
type Killer interface {
	RequestShutdown()
}

// Services implements the host: route family.
type Services struct {
	Killer   Killer
	Devices  *device.Manager
	Features []string
}

// RegisterRoutes enrolls every host: route on s, in the order the spec lists
// them, so later embedder registrations of the same pattern take precedence
// per Router.Register's override rule.
func (s *Services) RegisterRoutes(rt *router.Router) {
	rt.Register("host:version", s.version)
	rt.Register("host:kill", s.kill)
	rt.Register("host:devices", s.devices)
	rt.Register("host:devices-l", s.devicesLong)
	rt.Register("host:features", s.features)

	rt.Register("host:tport:serial:<serial>", s.tportSerial)
	rt.Register("host:tport:any", s.tportAny)
	rt.Register("host:transport:<serial>", s.transportSerial)
	rt.Register("host:transport-any", s.transportAny)
	rt.Register("host:transport-usb", s.transportAny)
	rt.Register("host:transport-local", s.transportAny)
}

func (s *Services) version(ctx context.Context, _ map[string]string) router.Response {
	return router.OKBody(fmt.Appendf(nil, "%04x", ServerVersion))
}

func (s *Services) kill(ctx context.Context, _ map[string]string) router.Response {
	// Write and flush OKAY ourselves before raising the shutdown signal,
	// rather than returning OK() and trusting the engine to write it first:
	// RequestShutdown only closes the listener (never this connection), so
	// the ordering is safe either way, but writing here makes the "OKAY
	// before shutdown" sequencing explicit instead of incidental.
	sess, ok := session.CurrentSession(ctx)
	if !ok {
		return router.Fail("no session")
	}
	if err := adbproto.WriteOkay(sess.Conn()); err != nil {
		return router.TookOver()
	}
	if s.Killer != nil {
		s.Killer.RequestShutdown()
	}
	return router.TookOver()
}

func (s *Services) devices(ctx context.Context, _ map[string]string) router.Response {
	if s.Devices == nil {
		return router.OKBody(nil)
	}
	var b strings.Builder
	for _, d := range s.Devices.List() {
		fmt.Fprintf(&b, "%s\t%s\n", d.Serial, d.State)
	}
	return router.OKBody([]byte(b.String()))
}

func (s *Services) devicesLong(ctx context.Context, _ map[string]string) router.Response {
	if s.Devices == nil {
		return router.OKBody(nil)
	}
	var b strings.Builder
	for _, d := range s.Devices.List() {
		keys := make([]string, 0, len(d.Properties))
		for k := range d.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		props := make([]string, 0, len(keys))
		for _, k := range keys {
			props = append(props, fmt.Sprintf("%s:%s", k, d.Properties[k]))
		}
		fmt.Fprintf(&b, "%-22s %-10s %s\n", d.Serial, d.State, strings.Join(props, " "))
	}
	return router.OKBody([]byte(b.String()))
}

func (s *Services) features(ctx context.Context, _ map[string]string) router.Response {
	return router.OKBody([]byte(strings.Join(s.Features, ",")))
}

func (s *Services) sendTransport(id uint64, d router.Disposition) router.Response {
	body := make([]byte, 8)
	for i := range body {
		body[i] = byte(id >> (8 * i))
	}
	return router.OKRaw(body, d)
}

func (s *Services) tportSerial(ctx context.Context, params map[string]string) router.Response {
	sess, _ := session.CurrentSession(ctx)
	if sess == nil || s.Devices == nil {
		return router.Fail("no session")
	}
	if err := sess.SelectDevice(params["serial"]); err != nil {
		return router.Fail(err.Error())
	}
	return s.sendTransport(1, router.KeepAlive)
}

func (s *Services) tportAny(ctx context.Context, _ map[string]string) router.Response {
	sess, _ := session.CurrentSession(ctx)
	if sess == nil || s.Devices == nil {
		return router.Fail("no session")
	}
	if err := sess.SelectDevice(""); err != nil {
		return router.Fail(err.Error())
	}
	return s.sendTransport(2, router.KeepAlive)
}

func (s *Services) transportSerial(ctx context.Context, params map[string]string) router.Response {
	if s.Devices == nil {
		return router.Fail(fmt.Sprintf("device %q not found", params["serial"]))
	}
	if _, ok := s.Devices.Get(params["serial"]); !ok {
		return router.Fail(fmt.Sprintf("device %q not found", params["serial"]))
	}
	sess, _ := session.CurrentSession(ctx)
	if sess == nil {
		return router.Fail("no session")
	}
	if err := sess.SelectDevice(params["serial"]); err != nil {
		return router.Fail(fmt.Sprintf("device %q not found", params["serial"]))
	}
	return router.KeepAliveOK()
}

func (s *Services) transportAny(ctx context.Context, _ map[string]string) router.Response {
	if s.Devices == nil {
		return router.Fail("no devices/emulators found")
	}
	devices := s.Devices.List()
	if len(devices) == 0 {
		return router.Fail("no devices/emulators found")
	}
	if len(devices) > 1 {
		return router.Fail("more than one device/emulator")
	}
	sess, _ := session.CurrentSession(ctx)
	if sess == nil {
		return router.Fail("no devices/emulators found")
	}
	if err := sess.SelectDevice(""); err != nil {
		return router.Fail("no devices/emulators found")
	}
	return router.KeepAliveOK()
}
