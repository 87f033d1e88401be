package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a message-boundary link: one WriteMessage arrives as exactly one
// ReadMessage on the peer. Writes are safe for concurrent use; reads are not.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// Dial opens a message link to a remote endpoint.
func Dial(uri URI) (Conn, error) {
	switch uri.Scheme {
	case "tcp":
		c, err := net.Dial("tcp", uri.HostPort())
		if err != nil {
			return nil, err
		}
		return newTCPConn(c), nil
	case "ws":
		c, _, err := websocket.DefaultDialer.Dial(uri.String(), nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{conn: c}, nil
	default:
		return nil, fmt.Errorf("dial: unsupported scheme %q", uri.Scheme)
	}
}

// maxMessageSize caps a single wire message. Payload frames carry whole JSON
// documents, which can exceed bufio.Scanner's 64 KiB default.
const maxMessageSize = 4 << 20

type tcpConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

func newTCPConn(c net.Conn) *tcpConn {
	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	return &tcpConn{conn: c, scanner: scanner}
}

func (c *tcpConn) ReadMessage() ([]byte, error) {
	if c.scanner.Scan() {
		// The scanner reuses its buffer on the next Scan.
		line := c.scanner.Bytes()
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *tcpConn) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, data...)
	framed = append(framed, '\n')
	_, err := c.conn.Write(framed)
	return err
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
