package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkdryden/zmq-plugin/proto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockCommandLink struct {
	mu     sync.Mutex
	frames []proto.Frames
	err    error
}

func (m *mockCommandLink) Send(f proto.Frames) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.frames = append(m.frames, f)
	return nil
}

func (m *mockCommandLink) Close() error { return nil }

func (m *mockCommandLink) sent() []proto.Frames {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]proto.Frames, len(m.frames))
	copy(out, m.frames)
	return out
}

type mockQueryLink struct {
	reply    []byte
	err      error
	requests [][]byte
}

func (m *mockQueryLink) Request(payload []byte, timeout time.Duration) ([]byte, error) {
	m.requests = append(m.requests, payload)
	if m.err != nil {
		return nil, m.err
	}
	return m.reply, nil
}

func (m *mockQueryLink) Close() error { return nil }

// newTestPlugin wires a plugin to a mock command link, skipping Reset.
func newTestPlugin(t *testing.T) (*Plugin, *mockCommandLink) {
	t.Helper()
	p, err := New("plugin-a", "tcp://127.0.0.1:1", Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("new plugin: %v", err)
	}
	link := &mockCommandLink{}
	p.mu.Lock()
	p.command = link
	p.mu.Unlock()
	return p, link
}

// deliverExecute hands p an execute_request as the hub would deliver it and
// returns the request message.
func deliverExecute(t *testing.T, p *Plugin, from, command string, data map[string]any) *proto.Message {
	t.Helper()
	req := proto.NewExecuteRequest(from, p.Name(), command, data)
	raw, err := proto.EncodeMessage(req)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	p.OnCommandRecv(proto.Frames{p.Name(), from, "", req.Header.Session, string(raw)})
	return req
}

func decodePayload(t *testing.T, f proto.Frames) *proto.Message {
	t.Helper()
	msg, err := proto.DecodeMessage(f.Payload())
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return msg
}

func TestExecuteEmitsEnvelope(t *testing.T) {
	p, link := newTestPlugin(t)

	err := p.Execute("plugin-b", "ping", func(*proto.Message) {}, map[string]any{"value": 1.0})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	sent := link.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(sent))
	}
	f := sent[0]
	if err := f.Check(); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	if f.Sender() != "plugin-a" || f.Target() != "plugin-b" || f[2] != "" {
		t.Errorf("unexpected addressing frames: %v", f[:3])
	}

	msg := decodePayload(t, f)
	if msg.Header.MsgType != proto.MsgTypeExecuteRequest {
		t.Fatalf("expected execute_request payload, got %s", msg.Header.MsgType)
	}
	if f.Correlation() != msg.Header.Session {
		t.Errorf("expected the correlation frame to carry the session, got %q", f.Correlation())
	}
	content := msg.Content.(*proto.ExecuteRequestContent)
	if content.Command != "ping" || content.Data["value"] != 1.0 {
		t.Errorf("unexpected request content: %+v", content)
	}
}

func TestExecuteCallbackExactlyOnce(t *testing.T) {
	p, link := newTestPlugin(t)

	var calls atomic.Int64
	if err := p.Execute("plugin-b", "ping", func(*proto.Message) { calls.Add(1) }, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	req := decodePayload(t, link.sent()[0])
	reply := proto.NewExecuteReply(req, 1, "pong")
	raw, _ := proto.EncodeMessage(reply)
	delivery := proto.Frames{"plugin-a", "plugin-b", "", req.Header.Session, string(raw)}

	p.OnCommandRecv(delivery)
	p.OnCommandRecv(delivery)

	if got := calls.Load(); got != 1 {
		t.Errorf("expected the callback to fire exactly once, got %d", got)
	}
}

func TestUnmatchedReplyIsDropped(t *testing.T) {
	p, _ := newTestPlugin(t)

	req := proto.NewExecuteRequest("plugin-b", "plugin-a", "ping", nil)
	reply := proto.NewExecuteReply(req, 1, nil)
	raw, _ := proto.EncodeMessage(reply)

	// No callback registered for this session; must be a silent no-op.
	p.OnCommandRecv(proto.Frames{"plugin-a", "plugin-b", "", req.Header.Session, string(raw)})
}

func TestAnswerExecute(t *testing.T) {
	p, link := newTestPlugin(t)
	p.RegisterCommand("add", func(msg *proto.Message) (any, error) {
		data := msg.Content.(*proto.ExecuteRequestContent).Data
		return data["a"].(float64) + data["b"].(float64), nil
	})

	req := deliverExecute(t, p, "caller", "add", map[string]any{"a": 2.0, "b": 3.0})

	sent := link.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reply envelope, got %d", len(sent))
	}
	f := sent[0]
	if f.Sender() != "plugin-a" || f.Target() != "caller" {
		t.Errorf("unexpected reply addressing: %v", f[:2])
	}
	if f.Correlation() != req.Header.Session {
		t.Errorf("expected the reply to reuse the request correlation, got %q", f.Correlation())
	}

	reply := decodePayload(t, f)
	content := reply.Content.(*proto.ExecuteReplyContent)
	if content.Status != proto.StatusOK || content.ExecutionCount != 1 {
		t.Errorf("unexpected reply content: %+v", content)
	}
	if result, _ := proto.ReplyResult(reply); result != 5.0 {
		t.Errorf("expected 5, got %v", result)
	}
	if reply.Header.Session != req.Header.Session {
		t.Error("expected the reply to keep the request session")
	}
}

func TestAnswerUnknownCommand(t *testing.T) {
	p, link := newTestPlugin(t)

	deliverExecute(t, p, "caller", "doesNotExist", nil)

	reply := decodePayload(t, link.sent()[0])
	content := reply.Content.(*proto.ExecuteReplyContent)
	if content.Status != proto.StatusError {
		t.Fatalf("expected status error, got %s", content.Status)
	}
	if content.Error.Ename != "UnrecognizedCommand" || content.Error.Evalue != "doesNotExist" {
		t.Errorf("expected the error to name the command, got %+v", content.Error)
	}
}

func TestHandlerPanicBecomesErrorReply(t *testing.T) {
	p, link := newTestPlugin(t)
	p.RegisterCommand("explode", func(*proto.Message) (any, error) { panic("boom") })
	p.RegisterCommand("ok", func(*proto.Message) (any, error) { return "fine", nil })

	deliverExecute(t, p, "caller", "explode", nil)
	reply := decodePayload(t, link.sent()[0])
	content := reply.Content.(*proto.ExecuteReplyContent)
	if content.Status != proto.StatusError || !strings.Contains(content.Error.Evalue, "boom") {
		t.Errorf("expected a panic error reply, got %+v", content)
	}
	if len(content.Error.Traceback) == 0 {
		t.Error("expected a traceback on a panic reply")
	}

	// Dispatch keeps working and the counter keeps moving.
	deliverExecute(t, p, "caller", "ok", nil)
	reply = decodePayload(t, link.sent()[1])
	content = reply.Content.(*proto.ExecuteReplyContent)
	if content.Status != proto.StatusOK || content.ExecutionCount != 2 {
		t.Errorf("expected a second reply with count 2, got %+v", content)
	}
}

func TestCommandPathDropsJunk(t *testing.T) {
	p, link := newTestPlugin(t)

	p.OnCommandRecv(proto.Frames{"too", "short"})
	p.OnCommandRecv(proto.Frames{"plugin-a", "x", "", "s1", "not json"})
	p.OnCommandRecv(proto.Frames{"plugin-a", "x", "", "s1",
		`{"header":{"msg_id":"m","session":"s","date":"d","source":"x","target":"plugin-a",` +
			`"msg_type":"connect_request","version":"0.2"},"content":{}}`})

	if got := len(link.sent()); got != 0 {
		t.Errorf("expected junk to be dropped without replies, got %d", got)
	}
}

func TestQueryRecreatesSocketOnFailure(t *testing.T) {
	p, _ := newTestPlugin(t)
	mock := &mockQueryLink{err: errors.New("resource temporarily unavailable")}
	p.mu.Lock()
	p.query = mock
	p.mu.Unlock()

	_, err := p.Query(context.Background(), proto.NewConnectRequest("plugin-a", "hub"))
	if err == nil {
		t.Fatal("expected the query to fail")
	}

	p.mu.Lock()
	current := p.query
	p.mu.Unlock()
	if current == queryLink(mock) {
		t.Error("expected the failed query socket to be discarded")
	}
}

func TestQueryValidatesReply(t *testing.T) {
	p, _ := newTestPlugin(t)

	cases := []struct {
		name  string
		reply []byte
	}{
		{"garbage", []byte("junk")},
		{"wrong version", []byte(`{"header":{"msg_id":"m","session":"s","date":"d",` +
			`"source":"hub","target":"plugin-a","msg_type":"connect_reply","version":"0.1"},` +
			`"content":{"command":{"uri":"tcp://*:1","port":1,"name":"hub"},` +
			`"publish":{"uri":"tcp://*:2","port":2}}}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p.mu.Lock()
			p.query = &mockQueryLink{reply: tc.reply}
			p.mu.Unlock()

			_, err := p.Query(context.Background(), proto.NewConnectRequest("plugin-a", "hub"))
			if err == nil {
				t.Error("expected a bad reply to be rejected")
			}
		})
	}
}

func TestOnSubscribeRecv(t *testing.T) {
	p, _ := newTestPlugin(t)

	got := make(chan *proto.Broadcast, 1)
	p.OnBroadcast(func(b *proto.Broadcast) { got <- b })

	p.OnSubscribeRecv([]byte("not json"))
	p.OnSubscribeRecv([]byte(`{"msg_type":"command_in","data":["a","b","","c","{}"]}`))

	select {
	case b := <-got:
		if b.MsgType != proto.TapCommandIn {
			t.Errorf("expected a command_in broadcast, got %q", b.MsgType)
		}
	default:
		t.Fatal("expected the broadcast callback to fire")
	}
}

func TestCallsBeforeReset(t *testing.T) {
	p, err := New("plugin-a", "tcp://127.0.0.1:1", Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("new plugin: %v", err)
	}
	if err := p.Execute("plugin-b", "ping", nil, nil); err == nil {
		t.Error("expected Execute to fail before reset")
	}
	if _, err := p.Query(context.Background(), proto.NewConnectRequest("plugin-a", "hub")); err == nil {
		t.Error("expected Query to fail before reset")
	}
	if err := p.Close(); err != nil {
		t.Errorf("expected Close to be safe before reset: %v", err)
	}
}

func TestRegisterCommandRules(t *testing.T) {
	p, _ := newTestPlugin(t)
	if err := p.RegisterCommand("ping", func(*proto.Message) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.RegisterCommand("ping", func(*proto.Message) (any, error) { return nil, nil }); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := p.RegisterCommand("", nil); err == nil {
		t.Error("expected empty registration to fail")
	}
}
