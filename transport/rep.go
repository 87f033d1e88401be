package transport

import (
	"log/slog"
	"sync"
)

// RepListener is the hub side of the query path. Every accepted link is
// served in lockstep: read one request, hand it to the handler, write the
// reply. Handler calls are serialized across links so the owner observes one
// query at a time.
//
// A handler error means the request could not be interpreted; the requester
// gets no reply, its link is dropped and the failure callback fires so the
// owner can recreate the endpoint.
type RepListener struct {
	handler func([]byte) ([]byte, error)
	failure func(error)
	log     *slog.Logger

	hmu sync.Mutex

	mu     sync.Mutex
	ln     Listener
	conns  map[Conn]struct{}
	closed bool
}

func NewRepListener(handler func([]byte) ([]byte, error), log *slog.Logger) *RepListener {
	if log == nil {
		log = slog.Default()
	}
	return &RepListener{
		handler: handler,
		log:     log,
		conns:   make(map[Conn]struct{}),
	}
}

// OnFailure registers the endpoint-fatal callback. It is invoked from a
// serving goroutine, so implementations that close this listener must not
// block on it.
func (r *RepListener) OnFailure(fn func(error)) {
	r.failure = fn
}

// Bind opens the endpoint and starts serving. The bound port is available
// from Port once Bind returns.
func (r *RepListener) Bind(uri URI) error {
	ln, err := Listen(uri)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.ln = ln
	r.closed = false
	r.mu.Unlock()
	go r.acceptLoop(ln)
	return nil
}

func (r *RepListener) acceptLoop(ln Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed
		}
		if !r.track(conn) {
			conn.Close()
			return
		}
		go r.serve(conn)
	}
}

func (r *RepListener) track(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

func (r *RepListener) serve(c Conn) {
	defer func() {
		r.mu.Lock()
		delete(r.conns, c)
		r.mu.Unlock()
		c.Close()
	}()

	for {
		req, err := c.ReadMessage()
		if err != nil {
			return
		}
		r.hmu.Lock()
		reply, herr := r.handler(req)
		r.hmu.Unlock()
		if herr != nil {
			r.log.Warn("query request rejected", "remote", c.RemoteAddr(), "error", herr)
			if r.failure != nil {
				r.failure(herr)
			}
			return
		}
		if err := c.WriteMessage(reply); err != nil {
			r.log.Warn("query reply write failed", "remote", c.RemoteAddr(), "error", err)
			return
		}
	}
}

func (r *RepListener) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr()
}

func (r *RepListener) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return 0
	}
	return r.ln.Port()
}

// Close tears down the listener and every live link. Safe to call twice.
func (r *RepListener) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ln := r.ln
	conns := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return err
}
