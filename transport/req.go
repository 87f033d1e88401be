package transport

import (
	"sync"
	"time"
)

// ReqConn is the peer side of the query path: one outstanding request at a
// time, each answered before the next is sent. After any failed or timed-out
// request the link is no longer usable and the owner must dial a fresh one,
// which is exactly the recovery the query protocol prescribes.
type ReqConn struct {
	conn Conn
	mu   sync.Mutex
}

// DialReq connects to a hub query endpoint.
func DialReq(uri URI) (*ReqConn, error) {
	conn, err := Dial(uri)
	if err != nil {
		return nil, err
	}
	return &ReqConn{conn: conn}, nil
}

// Request sends one payload and blocks for its reply. A zero timeout waits
// forever.
func (r *ReqConn) Request(payload []byte, timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conn.WriteMessage(payload); err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer r.conn.SetReadDeadline(time.Time{})
	}
	return r.conn.ReadMessage()
}

func (r *ReqConn) RemoteAddr() string {
	return r.conn.RemoteAddr()
}

func (r *ReqConn) Close() error {
	return r.conn.Close()
}
