// Package plugin implements the spoke side of the framework. A Plugin
// connects to a hub's query endpoint, discovers the hub's command and publish
// endpoints, registers its name, and then exchanges commands with peer
// plugins through the hub relay.
//
// Synchronous calls to the hub go through Query. Peer-to-peer commands go
// through Execute, which never blocks: the reply arrives later on the command
// link and is delivered to the callback registered for its session.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkdryden/zmq-plugin/proto"
	"github.com/mkdryden/zmq-plugin/transport"
)

// defaultHubName addresses the first connect_request; the hub's actual name
// arrives in the connect_reply.
const defaultHubName = "hub"

const defaultQueryTimeout = 5 * time.Second

// HandlerFunc answers one execute_request addressed to this plugin. The
// returned result lands in the reply under content.data.result.
type HandlerFunc func(*proto.Message) (any, error)

// Options configures a Plugin. The zero value is usable.
type Options struct {
	// Logger receives the plugin's structured logs. Defaults to slog.Default().
	Logger *slog.Logger
	// QueryTimeout bounds each query-path request. Defaults to 5s.
	QueryTimeout time.Duration
	// DisableSubscribe skips connecting to the hub's publish endpoint.
	DisableSubscribe bool
}

// queryLink, commandLink and subLink are what the plugin needs from its three
// endpoint connections.
type queryLink interface {
	Request(payload []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

type commandLink interface {
	Send(f proto.Frames) error
	Close() error
}

type subLink interface {
	Close() error
}

// Plugin is one spoke. All methods are safe for concurrent use; Reset must
// complete before Query or Execute are useful.
type Plugin struct {
	name             string
	log              *slog.Logger
	queryTimeout     time.Duration
	disableSubscribe bool

	cmu      sync.RWMutex
	commands map[string]HandlerFunc

	execCount atomic.Int64

	cbmu      sync.Mutex
	callbacks map[string]func(*proto.Message)

	omu         sync.Mutex
	onBroadcast func(*proto.Broadcast)

	mu        sync.Mutex
	hubURI    transport.URI
	hubName   string
	hubInfo   *proto.ConnectReplyContent
	query     queryLink
	command   commandLink
	subscribe subLink

	pmu   sync.RWMutex
	peers []string
}

// New builds a plugin named name that will connect to the hub query endpoint
// at hubQueryURI once Reset is called.
func New(name, hubQueryURI string, opts Options) (*Plugin, error) {
	if name == "" {
		return nil, errors.New("plugin: name is required")
	}
	uri, err := transport.ParseURI(hubQueryURI)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Plugin{
		name:             name,
		log:              log,
		queryTimeout:     timeout,
		disableSubscribe: opts.DisableSubscribe,
		commands:         make(map[string]HandlerFunc),
		callbacks:        make(map[string]func(*proto.Message)),
		hubURI:           uri,
		hubName:          defaultHubName,
	}, nil
}

func (p *Plugin) Name() string {
	return p.name
}

// RegisterCommand adds a handler for execute_requests addressed to this
// plugin. Registering a name twice is an error.
func (p *Plugin) RegisterCommand(name string, fn HandlerFunc) error {
	if name == "" || fn == nil {
		return errors.New("register command: name and handler are required")
	}
	p.cmu.Lock()
	defer p.cmu.Unlock()
	if _, ok := p.commands[name]; ok {
		return fmt.Errorf("register command: %q already registered", name)
	}
	p.commands[name] = fn
	return nil
}

// OnBroadcast sets the callback for hub broadcasts. Without one, broadcasts
// are debug-logged and discarded.
func (p *Plugin) OnBroadcast(fn func(*proto.Broadcast)) {
	p.omu.Lock()
	p.onBroadcast = fn
	p.omu.Unlock()
}

// Reset (re)joins the hub: the execution counter starts over, pending
// callbacks are dropped, the query socket is recreated and a connect_request
// learns the hub's endpoints, then the subscribe and command links are dialed
// and the plugin registers its name.
func (p *Plugin) Reset(ctx context.Context) error {
	p.execCount.Store(0)
	p.clearCallbacks()

	p.mu.Lock()
	if p.command != nil {
		p.command.Close()
		p.command = nil
	}
	if p.subscribe != nil {
		p.subscribe.Close()
		p.subscribe = nil
	}
	err := p.resetQueryLocked()
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("connect query socket: %w", err)
	}

	reply, err := p.Query(ctx, proto.NewConnectRequest(p.name, p.hubTarget()))
	if err != nil {
		return fmt.Errorf("connect to hub: %w", err)
	}
	info, ok := reply.Content.(*proto.ConnectReplyContent)
	if !ok {
		return fmt.Errorf("connect to hub: expected connect_reply, got %s", reply.Header.MsgType)
	}

	p.mu.Lock()
	p.hubInfo = info
	if info.Command.Name != "" {
		p.hubName = info.Command.Name
	}
	subURI := p.hubURI.WithPort(info.Publish.Port)
	cmdURI := p.hubURI.WithPort(info.Command.Port)
	p.mu.Unlock()

	if !p.disableSubscribe {
		sub, err := transport.DialSub(subURI, p.OnSubscribeRecv, p.log)
		if err != nil {
			return fmt.Errorf("connect subscribe socket: %w", err)
		}
		p.mu.Lock()
		p.subscribe = sub
		p.mu.Unlock()
	}

	cmd, err := transport.DialRouter(cmdURI, p.name, p.OnCommandRecv, p.log)
	if err != nil {
		return fmt.Errorf("connect command socket: %w", err)
	}
	p.mu.Lock()
	p.command = cmd
	p.mu.Unlock()

	if err := p.Register(ctx); err != nil {
		return err
	}
	p.log.Info("plugin reset", "plugin", p.name, "hub", p.hubTarget(), "peers", p.Peers())
	return nil
}

// Register runs the hub's register command and stores the returned registry
// snapshot, available from Peers.
func (p *Plugin) Register(ctx context.Context) error {
	reply, err := p.Query(ctx, proto.NewExecuteRequest(p.name, p.hubTarget(), "register", nil))
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	result, err := proto.ReplyResult(reply)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	names, err := stringSlice(result)
	if err != nil {
		return fmt.Errorf("register: bad registry snapshot: %w", err)
	}
	p.pmu.Lock()
	p.peers = names
	p.pmu.Unlock()
	return nil
}

// Peers returns the registry snapshot from the last Register, in hub
// registration order.
func (p *Plugin) Peers() []string {
	p.pmu.RLock()
	defer p.pmu.RUnlock()
	out := make([]string, len(p.peers))
	copy(out, p.peers)
	return out
}

// HubInfo returns the endpoint description from the last connect_reply, or
// nil before the first successful Reset.
func (p *Plugin) HubInfo() *proto.ConnectReplyContent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hubInfo
}

// Query sends one message to the hub and blocks for the validated reply. On
// any failure the query socket is recreated before the error is returned, so
// the next Query starts from a clean request-reply state.
func (p *Plugin) Query(ctx context.Context, msg *proto.Message) (*proto.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := proto.Validate(msg); err != nil {
		return nil, err
	}
	raw, err := proto.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	q := p.query
	p.mu.Unlock()
	if q == nil {
		return nil, errors.New("query: no socket, reset the plugin first")
	}

	timeout := p.queryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	out, err := q.Request(raw, timeout)
	if err != nil {
		p.recoverQuery(err)
		return nil, fmt.Errorf("query %s: %w", msg.Header.MsgType, err)
	}
	reply, err := proto.DecodeMessage(out)
	if err != nil {
		p.recoverQuery(err)
		return nil, fmt.Errorf("query %s: bad reply: %w", msg.Header.MsgType, err)
	}
	if err := proto.Validate(reply); err != nil {
		p.recoverQuery(err)
		return nil, fmt.Errorf("query %s: bad reply: %w", msg.Header.MsgType, err)
	}
	return reply, nil
}

// recoverQuery replaces the query socket after a failed exchange.
func (p *Plugin) recoverQuery(cause error) {
	p.log.Warn("query exchange failed, recreating query socket", "plugin", p.name, "error", cause)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.resetQueryLocked(); err != nil {
		p.log.Error("query socket recreate failed", "plugin", p.name, "error", err)
	}
}

func (p *Plugin) resetQueryLocked() error {
	if p.query != nil {
		p.query.Close()
		p.query = nil
	}
	q, err := transport.DialReq(p.hubURI)
	if err != nil {
		return err
	}
	p.query = q
	return nil
}

// Execute sends command to the named peer and returns without waiting. The
// callback, if any, fires exactly once when the peer's reply arrives, keyed
// by the request's session.
func (p *Plugin) Execute(target, command string, callback func(*proto.Message), data map[string]any) error {
	req := proto.NewExecuteRequest(p.name, target, command, data)
	if err := proto.Validate(req); err != nil {
		return err
	}
	raw, err := proto.EncodeMessage(req)
	if err != nil {
		return err
	}

	p.mu.Lock()
	cmd := p.command
	p.mu.Unlock()
	if cmd == nil {
		return errors.New("execute: no command socket, reset the plugin first")
	}

	session := req.Header.Session
	if callback != nil {
		p.addCallback(session, callback)
	}
	if err := cmd.Send(proto.NewFrames(p.name, target, session, raw)); err != nil {
		p.popCallback(session)
		return fmt.Errorf("execute %s on %s: %w", command, target, err)
	}
	p.log.Debug("execute sent", "plugin", p.name, "target", target, "command", command, "session", session)
	return nil
}

// OnCommandRecv handles one envelope delivered on the command link: peer
// requests are dispatched to the handler table and answered, replies are
// matched to their pending callback. Anything malformed is dropped.
func (p *Plugin) OnCommandRecv(frames proto.Frames) {
	if err := frames.Check(); err != nil {
		p.log.Warn("dropping malformed command envelope", "plugin", p.name, "frames", len(frames), "error", err)
		return
	}
	msg, err := proto.DecodeMessage(frames.Payload())
	if err != nil {
		p.log.Warn("dropping undecodable command payload", "plugin", p.name, "error", err)
		return
	}
	if err := proto.Validate(msg); err != nil {
		p.log.Warn("dropping invalid command payload", "plugin", p.name, "error", err)
		return
	}

	switch msg.Content.(type) {
	case *proto.ExecuteRequestContent:
		p.answerExecute(frames, msg)
	case *proto.ExecuteReplyContent:
		p.resolveReply(msg)
	default:
		p.log.Warn("dropping unexpected message on command path",
			"plugin", p.name, "msg_type", msg.Header.MsgType)
	}
}

// answerExecute runs a peer's execute_request and sends the reply back
// through the hub. The peer frame, stamped by the hub, addresses the reply.
func (p *Plugin) answerExecute(frames proto.Frames, msg *proto.Message) {
	content := msg.Content.(*proto.ExecuteRequestContent)
	p.cmu.RLock()
	fn, ok := p.commands[content.Command]
	p.cmu.RUnlock()

	count := int(p.execCount.Add(1))
	var reply *proto.Message
	if !ok {
		p.log.Warn("unrecognized command", "plugin", p.name, "command", content.Command, "from", frames[1])
		reply = proto.NewErrorReply(msg, count, &proto.UnknownCommandError{Command: content.Command})
	} else {
		reply = p.runHandler(fn, msg, count)
	}

	if err := proto.Validate(reply); err != nil {
		p.log.Error("built invalid execute_reply", "plugin", p.name, "error", err)
		return
	}
	raw, err := proto.EncodeMessage(reply)
	if err != nil {
		p.log.Error("encode execute_reply failed", "plugin", p.name, "error", err)
		return
	}

	p.mu.Lock()
	cmd := p.command
	p.mu.Unlock()
	if cmd == nil {
		p.log.Warn("no command socket for reply", "plugin", p.name)
		return
	}
	if err := cmd.Send(proto.NewFrames(p.name, frames[1], frames.Correlation(), raw)); err != nil {
		p.log.Warn("execute_reply send failed", "plugin", p.name, "error", err)
		return
	}
	p.log.Debug("execute answered",
		"plugin", p.name,
		"command", content.Command,
		"requester", frames[1],
		"execution_count", count)
}

func (p *Plugin) runHandler(fn HandlerFunc, req *proto.Message, count int) (reply *proto.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("command handler panicked",
				"plugin", p.name,
				"command", req.Content.(*proto.ExecuteRequestContent).Command,
				"panic", r)
			reply = proto.NewErrorReply(req, count, fmt.Errorf("handler panic: %v", r))
			reply.Content.(*proto.ExecuteReplyContent).Error.Traceback = stackLines()
		}
	}()
	result, err := fn(req)
	if err != nil {
		return proto.NewErrorReply(req, count, err)
	}
	return proto.NewExecuteReply(req, count, result)
}

// resolveReply delivers an execute_reply to the callback registered for its
// session. The callback is removed first, so it runs at most once; a reply
// with no pending session is dropped.
func (p *Plugin) resolveReply(msg *proto.Message) {
	session := msg.Header.Session
	cb := p.popCallback(session)
	if cb == nil {
		p.log.Debug("dropping reply with no pending callback", "plugin", p.name, "session", session)
		return
	}
	cb(msg)
}

// OnSubscribeRecv handles one document from the hub's publish endpoint.
func (p *Plugin) OnSubscribeRecv(raw []byte) {
	b, err := proto.DecodeBroadcast(raw)
	if err != nil {
		p.log.Warn("dropping undecodable broadcast", "plugin", p.name, "error", err)
		return
	}
	p.omu.Lock()
	fn := p.onBroadcast
	p.omu.Unlock()
	if fn == nil {
		p.log.Debug("broadcast", "plugin", p.name, "msg_type", b.MsgType, "bytes", len(b.Data))
		return
	}
	fn(b)
}

// ExecutionCount reports how many execute replies this epoch has produced.
func (p *Plugin) ExecutionCount() int {
	return int(p.execCount.Load())
}

// Close tears down all three endpoint links. Safe before Reset and safe to
// call twice.
func (p *Plugin) Close() error {
	p.clearCallbacks()
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.query != nil {
		errs = append(errs, p.query.Close())
		p.query = nil
	}
	if p.command != nil {
		errs = append(errs, p.command.Close())
		p.command = nil
	}
	if p.subscribe != nil {
		errs = append(errs, p.subscribe.Close())
		p.subscribe = nil
	}
	return errors.Join(errs...)
}

func (p *Plugin) hubTarget() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hubName
}

func (p *Plugin) addCallback(session string, fn func(*proto.Message)) {
	p.cbmu.Lock()
	p.callbacks[session] = fn
	p.cbmu.Unlock()
}

func (p *Plugin) popCallback(session string) func(*proto.Message) {
	p.cbmu.Lock()
	defer p.cbmu.Unlock()
	fn := p.callbacks[session]
	delete(p.callbacks, session)
	return fn
}

func (p *Plugin) clearCallbacks() {
	p.cbmu.Lock()
	p.callbacks = make(map[string]func(*proto.Message))
	p.cbmu.Unlock()
}

func stringSlice(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string entry, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func stackLines() []string {
	return strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")
}
