package transport

import (
	"log/slog"
	"sync"
)

// PubListener is the hub side of the broadcast path. Subscribers connect and
// only listen; Broadcast fans a document out to every live link, dropping the
// ones that fail rather than letting one slow subscriber stall the rest.
type PubListener struct {
	log *slog.Logger

	mu     sync.Mutex
	ln     Listener
	subs   map[Conn]struct{}
	closed bool
}

func NewPubListener(log *slog.Logger) *PubListener {
	if log == nil {
		log = slog.Default()
	}
	return &PubListener{
		log:  log,
		subs: make(map[Conn]struct{}),
	}
}

func (p *PubListener) Bind(uri URI) error {
	ln, err := Listen(uri)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.ln = ln
	p.closed = false
	p.mu.Unlock()
	go p.acceptLoop(ln)
	return nil
}

func (p *PubListener) acceptLoop(ln Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.subs[conn] = struct{}{}
		p.mu.Unlock()
		p.log.Debug("subscriber connected", "remote", conn.RemoteAddr())
		go p.drain(conn)
	}
}

// drain discards anything a subscriber sends and notices when it hangs up.
func (p *PubListener) drain(c Conn) {
	for {
		if _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	p.remove(c)
}

func (p *PubListener) remove(c Conn) {
	p.mu.Lock()
	delete(p.subs, c)
	p.mu.Unlock()
	c.Close()
}

// Broadcast writes one document to every subscriber, best-effort.
func (p *PubListener) Broadcast(data []byte) {
	p.mu.Lock()
	conns := make([]Conn, 0, len(p.subs))
	for c := range p.subs {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(data); err != nil {
			p.log.Debug("dropping subscriber", "remote", c.RemoteAddr(), "error", err)
			p.remove(c)
		}
	}
}

// Subscribers reports the live subscriber count.
func (p *PubListener) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *PubListener) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr()
}

func (p *PubListener) Port() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return 0
	}
	return p.ln.Port()
}

func (p *PubListener) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ln := p.ln
	conns := make([]Conn, 0, len(p.subs))
	for c := range p.subs {
		conns = append(conns, c)
	}
	p.subs = make(map[Conn]struct{})
	p.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return err
}

// SubConn is the peer side of the broadcast path: a listen-only link whose
// messages are handed to a callback.
type SubConn struct {
	conn Conn
	log  *slog.Logger
}

// DialSub connects to a hub publish endpoint and starts delivering broadcasts
// to onMessage.
func DialSub(uri URI, onMessage func([]byte), log *slog.Logger) (*SubConn, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := Dial(uri)
	if err != nil {
		return nil, err
	}
	s := &SubConn{conn: conn, log: log}
	go func() {
		for {
			raw, err := conn.ReadMessage()
			if err != nil {
				log.Debug("subscribe link closed", "error", err)
				return
			}
			onMessage(raw)
		}
	}()
	return s, nil
}

func (s *SubConn) Close() error {
	return s.conn.Close()
}
