// Package hub implements the central message hub. A hub owns three
// endpoints: a query endpoint answering connect and execute requests in
// lockstep, a command endpoint relaying envelopes between named plugins, and
// a publish endpoint broadcasting a copy of everything it sees.
//
// A hub holds no sockets until Reset is called; Reset can be called again at
// any time to drop every connection and start a fresh serving epoch.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkdryden/zmq-plugin/proto"
	"github.com/mkdryden/zmq-plugin/transport"
)

// HandlerFunc answers one execute_request addressed to the hub. The returned
// result lands in the reply under content.data.result.
type HandlerFunc func(*proto.Message) (any, error)

// Options configures a Hub. The zero value is usable.
type Options struct {
	// Name is the hub's routing identity. Defaults to "hub".
	Name string
	// Logger receives the hub's structured logs. Defaults to slog.Default().
	Logger *slog.Logger
	// Registerer receives the hub's Prometheus collectors. Defaults to the
	// global registry.
	Registerer prometheus.Registerer
}

// Hub is the spoke-and-hub broker. All methods are safe for concurrent use.
type Hub struct {
	name    string
	log     *slog.Logger
	metrics *Metrics

	registry *Registry

	cmu      sync.RWMutex
	commands map[string]HandlerFunc

	execCount atomic.Int64

	mu       sync.Mutex
	queryURI transport.URI
	query    *transport.RepListener
	command  *transport.RouterListener
	publish  *transport.PubListener
}

// New builds a hub that will answer queries at queryURI once Reset is called.
func New(queryURI string, opts Options) (*Hub, error) {
	uri, err := transport.ParseURI(queryURI)
	if err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = "hub"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := NewMetrics(opts.Registerer)
	if err := metrics.Register(); err != nil {
		return nil, err
	}

	h := &Hub{
		name:     name,
		log:      log,
		metrics:  metrics,
		registry: NewRegistry(),
		commands: make(map[string]HandlerFunc),
		queryURI: uri,
	}
	h.commands["register"] = h.registerPlugin
	return h, nil
}

// RegisterCommand adds a handler for execute_requests addressed to the hub.
// The command table is fixed once serving starts; registering a name twice or
// shadowing the built-in register command is an error.
func (h *Hub) RegisterCommand(name string, fn HandlerFunc) error {
	if name == "" || fn == nil {
		return errors.New("register command: name and handler are required")
	}
	h.cmu.Lock()
	defer h.cmu.Unlock()
	if _, ok := h.commands[name]; ok {
		return fmt.Errorf("register command: %q already registered", name)
	}
	h.commands[name] = fn
	return nil
}

// Reset starts a fresh serving epoch: the execution counter starts over, the
// registry empties, and all three endpoints are torn down and recreated in
// publish, query, command order.
func (h *Hub) Reset() error {
	h.execCount.Store(0)
	h.registry.Reset()
	h.metrics.setRegistrySize(0)

	if err := h.ResetPublish(); err != nil {
		return err
	}
	if err := h.ResetQuery(); err != nil {
		return err
	}
	if err := h.ResetCommand(); err != nil {
		return err
	}
	h.log.Info("hub reset",
		"name", h.name,
		"query", h.QueryURI(),
		"command_port", h.CommandInfo().Port,
		"publish_port", h.PublishInfo().Port)
	return nil
}

// ResetQuery recreates the query endpoint at the hub's query URI. Once an
// ephemeral port has been bound it is kept across recreations so the hub's
// advertised address stays valid.
func (h *Hub) ResetQuery() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.query != nil {
		h.query.Close()
		h.query = nil
	}
	rep := transport.NewRepListener(h.OnQueryRecv, h.log)
	rep.OnFailure(func(err error) {
		go func() {
			if rerr := h.ResetQuery(); rerr != nil {
				h.log.Error("query endpoint recreate failed", "error", rerr)
			}
		}()
	})
	if err := rep.Bind(h.queryURI); err != nil {
		return err
	}
	if h.queryURI.Port == 0 {
		h.queryURI = h.queryURI.WithPort(rep.Port())
	}
	h.query = rep
	return nil
}

// ResetCommand recreates the command endpoint on an ephemeral port.
func (h *Hub) ResetCommand() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.command != nil {
		h.command.Close()
		h.command = nil
	}
	router := transport.NewRouterListener(h.OnCommandRecv, h.log)
	if err := router.Bind(h.queryURI.WithPort(0)); err != nil {
		return err
	}
	h.command = router
	return nil
}

// ResetPublish recreates the publish endpoint on an ephemeral port.
func (h *Hub) ResetPublish() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.publish != nil {
		h.publish.Close()
		h.publish = nil
	}
	pub := transport.NewPubListener(h.log)
	if err := pub.Bind(h.queryURI.WithPort(0)); err != nil {
		return err
	}
	h.publish = pub
	return nil
}

// Serve resets the hub if needed and blocks until ctx is done, then closes
// every endpoint.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	bound := h.query != nil
	h.mu.Unlock()
	if !bound {
		if err := h.Reset(); err != nil {
			return err
		}
	}
	h.log.Info("hub serving", "name", h.name, "query", h.QueryURI())
	<-ctx.Done()
	return h.Close()
}

// Close tears down all endpoints. Safe to call twice.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	if h.query != nil {
		errs = append(errs, h.query.Close())
		h.query = nil
	}
	if h.command != nil {
		errs = append(errs, h.command.Close())
		h.command = nil
	}
	if h.publish != nil {
		errs = append(errs, h.publish.Close())
		h.publish = nil
	}
	return errors.Join(errs...)
}

// OnQueryRecv handles one query-path request and returns the encoded reply.
// A returned error means the request could not be interpreted; the requester
// gets no reply and the endpoint is recreated by the failure callback.
func (h *Hub) OnQueryRecv(raw []byte) ([]byte, error) {
	h.tap(proto.TapQueryIn, raw)

	msg, err := proto.DecodeMessage(raw)
	if err != nil {
		h.metrics.schemaFailure()
		return nil, fmt.Errorf("decode query: %w", err)
	}
	if err := proto.Validate(msg); err != nil {
		h.metrics.schemaFailure()
		return nil, err
	}
	h.metrics.queryRequest(string(msg.Header.MsgType))
	h.log.Debug("query received",
		"msg_type", msg.Header.MsgType,
		"source", msg.Header.Source,
		"msg_id", msg.Header.MsgID)

	var reply *proto.Message
	switch msg.Content.(type) {
	case *proto.ConnectRequestContent:
		// Connecting also registers the source.
		h.registerPlugin(msg)
		reply = proto.NewConnectReply(msg, h.CommandInfo(), h.PublishInfo())
	case *proto.ExecuteRequestContent:
		reply = h.executeReply(msg)
	default:
		h.metrics.schemaFailure()
		return nil, &proto.SchemaError{
			Constraint: fmt.Sprintf("header.msg_type: %s is not a query request", msg.Header.MsgType),
			Message:    msg,
		}
	}

	if err := proto.Validate(reply); err != nil {
		return nil, fmt.Errorf("built invalid %s: %w", reply.Header.MsgType, err)
	}
	out, err := proto.EncodeMessage(reply)
	if err != nil {
		return nil, err
	}
	h.tap(proto.TapQueryOut, out)
	return out, nil
}

func (h *Hub) executeReply(req *proto.Message) *proto.Message {
	content := req.Content.(*proto.ExecuteRequestContent)
	h.cmu.RLock()
	fn, ok := h.commands[content.Command]
	h.cmu.RUnlock()

	count := int(h.execCount.Add(1))
	var reply *proto.Message
	if !ok {
		h.log.Warn("unrecognized hub command", "command", content.Command, "source", req.Header.Source)
		reply = proto.NewErrorReply(req, count, &proto.UnknownCommandError{Command: content.Command})
	} else {
		reply = h.runHandler(fn, req, count)
	}
	h.metrics.reply(string(reply.Content.(*proto.ExecuteReplyContent).Status))
	return reply
}

func (h *Hub) runHandler(fn HandlerFunc, req *proto.Message, count int) (reply *proto.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("hub command handler panicked",
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

// registerPlugin is the built-in register command. Registration is
// idempotent; the reply carries the full registry snapshot in order,
// including the requester.
func (h *Hub) registerPlugin(req *proto.Message) (any, error) {
	if h.registry.Add(req.Header.Source) {
		h.log.Info("plugin registered", "plugin", req.Header.Source)
	}
	h.metrics.setRegistrySize(h.registry.Len())
	return h.registry.Names(), nil
}

// OnCommandRecv relays one command envelope: the sender and target frames are
// exchanged and every other frame passes through untouched. Malformed or
// unroutable envelopes are dropped; peer mistakes never reset the command
// endpoint.
func (h *Hub) OnCommandRecv(frames proto.Frames) {
	h.metrics.commandEnvelope("in")
	if raw, err := frames.Encode(); err == nil {
		h.tap(proto.TapCommandIn, raw)
	}

	if err := frames.Check(); err != nil {
		h.metrics.drop("arity")
		h.log.Warn("dropping malformed command envelope", "frames", len(frames), "error", err)
		return
	}

	out := frames.Swap()
	if err := h.sendCommand(out); err != nil {
		if errors.Is(err, transport.ErrUnknownPeer) {
			h.metrics.drop("unknown_target")
		} else {
			h.metrics.drop("send_failed")
		}
		h.log.Warn("dropping unroutable command envelope",
			"from", frames.Sender(), "target", frames.Target(), "error", err)
		return
	}
	h.metrics.commandEnvelope("out")
	if raw, err := out.Encode(); err == nil {
		h.tap(proto.TapCommandOut, raw)
	}
	h.log.Debug("command relayed",
		"from", frames.Sender(),
		"to", frames.Target(),
		"correlation", frames.Correlation())
}

func (h *Hub) sendCommand(f proto.Frames) error {
	h.mu.Lock()
	cmd := h.command
	h.mu.Unlock()
	if cmd == nil {
		return errors.New("command endpoint not bound")
	}
	return cmd.Send(f)
}

// tap re-broadcasts traffic on the publish endpoint.
func (h *Hub) tap(kind string, data []byte) {
	h.mu.Lock()
	pub := h.publish
	h.mu.Unlock()
	if pub == nil {
		return
	}
	doc, err := proto.Marshal(proto.NewBroadcast(kind, data))
	if err != nil {
		h.log.Error("tap encode failed", "kind", kind, "error", err)
		return
	}
	pub.Broadcast(doc)
}

func (h *Hub) Name() string {
	return h.name
}

// QueryURI reports the hub's query address, with the actual port once bound.
func (h *Hub) QueryURI() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queryURI.String()
}

// CommandInfo describes the live command endpoint for connect replies. The
// URI keeps the query endpoint's host, which may be a bind-only form like
// "*"; Port is the authoritative part, combined by peers with the address
// they already reached the hub at.
func (h *Hub) CommandInfo() proto.EndpointInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.command == nil {
		return proto.EndpointInfo{}
	}
	port := h.command.Port()
	return proto.EndpointInfo{URI: h.queryURI.WithPort(port).String(), Port: port, Name: h.name}
}

// PublishInfo describes the live publish endpoint for connect replies. Its
// URI host is advisory in the same way as CommandInfo's.
func (h *Hub) PublishInfo() proto.EndpointInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.publish == nil {
		return proto.EndpointInfo{}
	}
	port := h.publish.Port()
	return proto.EndpointInfo{URI: h.queryURI.WithPort(port).String(), Port: port}
}

// Plugins returns the registry snapshot in registration order.
func (h *Hub) Plugins() []string {
	return h.registry.Names()
}

// CommandPeers lists identities with a live command link.
func (h *Hub) CommandPeers() []string {
	h.mu.Lock()
	cmd := h.command
	h.mu.Unlock()
	if cmd == nil {
		return nil
	}
	return cmd.Peers()
}

// Subscribers reports the live publish subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	pub := h.publish
	h.mu.Unlock()
	if pub == nil {
		return 0
	}
	return pub.Subscribers()
}

// ExecutionCount reports how many execute replies this epoch has produced.
func (h *Hub) ExecutionCount() int {
	return int(h.execCount.Load())
}

func stackLines() []string {
	return strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")
}
