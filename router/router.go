// Package router compiles colon-separated service-string patterns with
// <name> placeholders into routes, resolves incoming requests against them by
// longest-literal-match, and installs the dispatching session into an ambient
// context slot handlers can read back without taking it as a parameter.
package router

import (
	"context"
	"strings"
)

// Disposition is the post-response fate of the connection.
type Disposition int

const (
	// Close ends the connection after the response is written.
	Close Disposition = iota
	// KeepAlive loops the session engine for another request on the same connection.
	KeepAlive
	// Bidirectional means the handler has already taken over the connection;
	// the engine must not write anything after it returns.
	Bidirectional
)

// Response is what a handler returns to the engine. For Disposition ==
// Bidirectional, the handler has already written OKAY (or FAIL) itself and
// taken over the connection; the engine writes nothing and the fields below
// are ignored.
type Response struct {
	OK          bool
	Body        []byte
	Raw         bool // if true, Body is written unframed instead of length-prefixed
	Message     string
	Disposition Disposition
}

// OK builds a successful, CLOSE response with no body.
func OK() Response { return Response{OK: true} }

// OKBody builds a successful, CLOSE response carrying a length-prefixed body.
// An empty non-nil body is written as a zero-length frame ("0000"); a nil
// body writes nothing after OKAY, the same as OK().
func OKBody(body []byte) Response { return Response{OK: true, Body: body} }

// OKRaw builds a successful response whose body is written unframed (no
// length prefix) with the given disposition, e.g. a transport-id reply.
func OKRaw(body []byte, d Disposition) Response {
	return Response{OK: true, Body: body, Raw: true, Disposition: d}
}

// KeepAliveOK builds a successful, KEEP-ALIVE response with no body.
func KeepAliveOK() Response { return Response{OK: true, Disposition: KeepAlive} }

// Fail builds a rejected response carrying a UTF-8 message.
func Fail(message string) Response { return Response{OK: false, Message: message} }

// TookOver signals that the handler already wrote OKAY (or FAIL) itself and
// has taken over the connection; the engine must not write anything further.
func TookOver() Response { return Response{Disposition: Bidirectional} }

// Handler is a routed request handler. params holds placeholder captures by
// name. The active Session can be retrieved from ctx via CurrentSession.
type Handler func(ctx context.Context, params map[string]string) Response

type segment struct {
	literal     string
	placeholder string // non-empty if this segment is a <name> placeholder
}

type route struct {
	pattern  string
	segments []segment
	handler  Handler
	order    int
}

func (r route) literalCount() int {
	n := 0
	for _, s := range r.segments {
		if s.placeholder == "" {
			n++
		}
	}
	return n
}

func compile(pattern string) []segment {
	parts := strings.Split(pattern, ":")
	segs := make([]segment, len(parts))
	for i, p := range parts {
		if len(p) >= 2 && p[0] == '<' && p[len(p)-1] == '>' {
			segs[i] = segment{placeholder: p[1 : len(p)-1]}
		} else {
			segs[i] = segment{literal: p}
		}
	}
	return segs
}

// Router holds the compiled route table. The zero value is ready to use.
// Registration is expected to happen once at startup; Resolve is safe for
// concurrent use once registration is done (the table itself is never
// mutated after Serve begins).
type Router struct {
	routes []route
}

// Register compiles pattern and associates it with handler. Later
// registrations of an identical pattern replace earlier ones in place,
// letting embedder registrations override built-ins while preserving their
// original registration order for tie-breaking.
func (rt *Router) Register(pattern string, handler Handler) {
	segs := compile(pattern)
	for i := range rt.routes {
		if rt.routes[i].pattern == pattern {
			rt.routes[i].handler = handler
			return
		}
	}
	rt.routes = append(rt.routes, route{
		pattern:  pattern,
		segments: segs,
		handler:  handler,
		order:    len(rt.routes),
	})
}

// Registerer is implemented by objects that enroll their own routes when
// passed to RegisterAll.
type Registerer interface {
	RegisterRoutes(rt *Router)
}

// RegisterAll registers every route exposed by obj.
func (rt *Router) RegisterAll(obj Registerer) {
	obj.RegisterRoutes(rt)
}

// Resolve finds the best-matching handler for request (already the decoded
// service-string payload, not including the length prefix) and the
// placeholder captures it produced. ok is false if nothing matches.
func (rt *Router) Resolve(request string) (handler Handler, params map[string]string, ok bool) {
	reqSegs := strings.Split(request, ":")

	var best *route
	var bestParams map[string]string
	for i := range rt.routes {
		r := &rt.routes[i]
		if len(r.segments) != len(reqSegs) {
			continue
		}
		params := make(map[string]string, len(r.segments))
		matched := true
		for j, s := range r.segments {
			if s.placeholder == "" {
				if s.literal != reqSegs[j] {
					matched = false
					break
				}
			} else {
				if reqSegs[j] == "" {
					matched = false
					break
				}
				params[s.placeholder] = reqSegs[j]
			}
		}
		if !matched {
			continue
		}
		if best == nil ||
			r.literalCount() > best.literalCount() ||
			(r.literalCount() == best.literalCount() && r.order < best.order) {
			best = r
			bestParams = params
		}
	}
	if best == nil {
		return nil, nil, false
	}
	return best.handler, bestParams, true
}

type sessionKey struct{}

// WithSession returns a context carrying sess as the ambient session, scoped
// to one handler invocation.
func WithSession(ctx context.Context, sess any) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// CurrentSession retrieves the session installed by WithSession, type-asserted
// to T. Handlers call this instead of taking a session parameter.
func CurrentSession[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(sessionKey{}).(T)
	return v, ok
}

// Dispatch resolves request, installs sess as the ambient session, and
// invokes the matched handler. If nothing matches, it returns Fail("unsupported
// operation") without invoking anything.
func (rt *Router) Dispatch(ctx context.Context, sess any, request string) Response {
	handler, params, ok := rt.Resolve(request)
	if !ok {
		return Fail("unsupported operation")
	}
	ctx = WithSession(ctx, sess)
	return handler(ctx, params)
}
