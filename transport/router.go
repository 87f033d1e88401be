package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkdryden/zmq-plugin/proto"
)

// ErrUnknownPeer is returned when an envelope addresses an identity with no
// live command link.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// handshake is the first message on every command link; it binds the link to
// a routing identity.
type handshake struct {
	Identity string `json:"identity"`
}

// RouterListener is the hub side of the command path. Each accepted link
// announces its identity, after which inbound envelopes have their sender
// frame stamped with that identity so peers cannot forge addressing, and
// outbound envelopes are routed by their destination frame.
type RouterListener struct {
	onFrames func(proto.Frames)
	log      *slog.Logger

	mu     sync.RWMutex
	ln     Listener
	peers  map[string]Conn
	closed bool
}

func NewRouterListener(onFrames func(proto.Frames), log *slog.Logger) *RouterListener {
	if log == nil {
		log = slog.Default()
	}
	return &RouterListener{
		onFrames: onFrames,
		log:      log,
		peers:    make(map[string]Conn),
	}
}

func (r *RouterListener) Bind(uri URI) error {
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

func (r *RouterListener) acceptLoop(ln Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go r.serve(conn)
	}
}

func (r *RouterListener) serve(c Conn) {
	raw, err := c.ReadMessage()
	if err != nil {
		c.Close()
		return
	}
	var hs handshake
	if err := proto.Unmarshal(raw, &hs); err != nil || hs.Identity == "" {
		r.log.Warn("command link sent no identity, dropping", "remote", c.RemoteAddr())
		c.Close()
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		c.Close()
		return
	}
	if old, ok := r.peers[hs.Identity]; ok {
		r.log.Warn("command identity reconnected, replacing link", "identity", hs.Identity)
		old.Close()
	}
	r.peers[hs.Identity] = c
	r.mu.Unlock()

	r.log.Debug("command link up", "identity", hs.Identity, "remote", c.RemoteAddr())

	defer func() {
		r.mu.Lock()
		if r.peers[hs.Identity] == c {
			delete(r.peers, hs.Identity)
		}
		r.mu.Unlock()
		c.Close()
		r.log.Debug("command link down", "identity", hs.Identity)
	}()

	for {
		raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		frames, err := proto.DecodeFrames(raw)
		if err != nil {
			r.log.Warn("undecodable command envelope, dropping", "identity", hs.Identity, "error", err)
			continue
		}
		if len(frames) > 0 {
			frames[0] = hs.Identity
		}
		r.onFrames(frames)
	}
}

// Send routes an outbound envelope to the peer its destination frame names.
func (r *RouterListener) Send(f proto.Frames) error {
	if len(f) == 0 {
		return fmt.Errorf("send: empty envelope")
	}
	dest := f[0]
	r.mu.RLock()
	conn, ok := r.peers[dest]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %q: %w", dest, ErrUnknownPeer)
	}
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

// Peers lists the identities with a live command link.
func (r *RouterListener) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.peers))
	for name := range r.peers {
		names = append(names, name)
	}
	return names
}

func (r *RouterListener) Addr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr()
}

func (r *RouterListener) Port() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ln == nil {
		return 0
	}
	return r.ln.Port()
}

func (r *RouterListener) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ln := r.ln
	conns := make([]Conn, 0, len(r.peers))
	for _, c := range r.peers {
		conns = append(conns, c)
	}
	r.peers = make(map[string]Conn)
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

// RouterConn is the peer side of the command path: a single identified link
// to the hub over which envelopes flow in both directions.
type RouterConn struct {
	conn     Conn
	onFrames func(proto.Frames)
	log      *slog.Logger
}

// DialRouter connects to a hub command endpoint, announces identity, and
// starts delivering inbound envelopes to onFrames.
func DialRouter(uri URI, identity string, onFrames func(proto.Frames), log *slog.Logger) (*RouterConn, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := Dial(uri)
	if err != nil {
		return nil, err
	}
	hs, err := proto.Marshal(handshake{Identity: identity})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(hs); err != nil {
		conn.Close()
		return nil, err
	}
	r := &RouterConn{conn: conn, onFrames: onFrames, log: log}
	go r.readLoop()
	return r, nil
}

func (r *RouterConn) readLoop() {
	for {
		raw, err := r.conn.ReadMessage()
		if err != nil {
			r.log.Debug("command link closed", "error", err)
			return
		}
		frames, err := proto.DecodeFrames(raw)
		if err != nil {
			r.log.Warn("undecodable command envelope, dropping", "error", err)
			continue
		}
		r.onFrames(frames)
	}
}

// Send writes one envelope to the hub.
func (r *RouterConn) Send(f proto.Frames) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return r.conn.WriteMessage(data)
}

func (r *RouterConn) Close() error {
	return r.conn.Close()
}
