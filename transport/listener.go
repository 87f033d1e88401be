package transport

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Listener accepts message links for one bound endpoint. Port reports the
// actual bound port, which differs from the requested one when binding port 0.
type Listener interface {
	Accept() (Conn, error)
	Addr() string
	Port() int
	Close() error
}

// Listen binds a message listener for the URI's scheme.
func Listen(uri URI) (Listener, error) {
	switch uri.Scheme {
	case "tcp":
		ln, err := net.Listen("tcp", uri.bindAddr())
		if err != nil {
			return nil, err
		}
		return &tcpListener{ln: ln}, nil
	case "ws":
		return listenWS(uri)
	default:
		return nil, fmt.Errorf("listen: unsupported scheme %q", uri.Scheme)
	}
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newTCPConn(c), nil
}

func (l *tcpListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *tcpListener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsListener serves one upgrade handler and turns each upgraded connection
// into an accepted Conn.
type wsListener struct {
	ln     net.Listener
	server *http.Server
	conns  chan Conn
	done   chan struct{}
	once   sync.Once
}

func listenWS(uri URI) (*wsListener, error) {
	ln, err := net.Listen("tcp", uri.bindAddr())
	if err != nil {
		return nil, err
	}
	l := &wsListener{
		ln:    ln,
		conns: make(chan Conn),
		done:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.server = &http.Server{Handler: mux}
	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Debug("websocket listener stopped", "addr", ln.Addr(), "error", err)
		}
	}()
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	select {
	case l.conns <- &wsConn{conn: conn}:
	case <-l.done:
		conn.Close()
	}
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *wsListener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *wsListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return l.server.Close()
}
