package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mkdryden/zmq-plugin/plugin"
	"github.com/mkdryden/zmq-plugin/proto"
)

const defaultExecuteTimeout = 10 * time.Second

// Bridge exposes one plugin's view of the hub as MCP tools. The plugin must
// have been Reset before Run, so the bridge has live query and command links
// to work with.
type Bridge struct {
	plugin  *plugin.Plugin
	server  *MCPServer
	log     *slog.Logger
	timeout time.Duration
}

// BridgeOptions configures a Bridge. The zero value is usable.
type BridgeOptions struct {
	// Logger receives the bridge's structured logs. Defaults to slog.Default().
	Logger *slog.Logger
	// ExecuteTimeout bounds how long the execute tool waits for a peer reply.
	// Defaults to 10s; the tool's timeout argument can shorten a single call.
	ExecuteTimeout time.Duration
}

// NewBridge wires a plugin to an MCP server. Tools are registered on the
// server immediately; call Run to start serving.
func NewBridge(p *plugin.Plugin, srv *MCPServer, opts BridgeOptions) *Bridge {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.ExecuteTimeout
	if timeout <= 0 {
		timeout = defaultExecuteTimeout
	}
	b := &Bridge{plugin: p, server: srv, log: log, timeout: timeout}
	b.registerTools()
	return b
}

// Run serves the bridge over stdio until the MCP client hangs up.
func (b *Bridge) Run() error {
	return b.server.Run()
}

func (b *Bridge) registerTools() {
	listTool := mcp.NewTool("list_plugins",
		mcp.WithDescription("List the plugins registered with the hub"),
		mcp.WithBoolean("refresh",
			mcp.Description("Re-register with the hub to refresh the snapshot (default true)"),
		),
	)
	b.server.AddTool(listTool, b.handleListPlugins)

	executeTool := mcp.NewTool("execute",
		mcp.WithDescription("Run a command on a named plugin and wait for its reply"),
		mcp.WithString("target",
			mcp.Required(),
			mcp.Description("Name of the plugin to run the command on"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Command to run on the target plugin"),
		),
		mcp.WithObject("data",
			mcp.Description("Keyword arguments passed to the command handler"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait for the reply before giving up"),
		),
	)
	b.server.AddTool(executeTool, b.handleExecute)

	endpointsTool := mcp.NewTool("hub_endpoints",
		mcp.WithDescription("Show the hub endpoints this bridge is connected to"),
	)
	b.server.AddTool(endpointsTool, b.handleHubEndpoints)
}

// listPlugins returns the registry snapshot, re-registering first when
// refresh is set so the answer reflects the hub's current state.
func (b *Bridge) listPlugins(ctx context.Context, refresh bool) ([]string, error) {
	if refresh {
		if err := b.plugin.Register(ctx); err != nil {
			return nil, err
		}
	}
	return b.plugin.Peers(), nil
}

// executeCall runs one command on a peer and blocks for the correlated reply.
// A peer that never answers surfaces as a timeout error; the pending callback
// is abandoned, matching the protocol's fire-and-forget contract.
func (b *Bridge) executeCall(ctx context.Context, target, command string, data map[string]any, timeout time.Duration) (*proto.Message, error) {
	if timeout <= 0 || timeout > b.timeout {
		timeout = b.timeout
	}

	replies := make(chan *proto.Message, 1)
	err := b.plugin.Execute(target, command, func(m *proto.Message) { replies <- m }, data)
	if err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no reply from %q within %s", target, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) handleListPlugins(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	refresh := request.GetBool("refresh", true)

	names, err := b.listPlugins(ctx, refresh)
	if err != nil {
		b.log.Warn("list_plugins failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("listing plugins: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"plugins": names,
		"count":   len(names),
	})
}

func (b *Bridge) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := request.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data map[string]any
	if raw, ok := request.GetArguments()["data"]; ok {
		data, ok = raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("data must be an object"), nil
		}
	}
	timeout := time.Duration(request.GetFloat("timeout", 0) * float64(time.Second))

	reply, err := b.executeCall(ctx, target, command, data, timeout)
	if err != nil {
		b.log.Warn("execute failed", "target", target, "command", command, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("executing %q on %q: %v", command, target, err)), nil
	}

	content := reply.Content.(*proto.ExecuteReplyContent)
	view := map[string]any{
		"status":          content.Status,
		"execution_count": content.ExecutionCount,
	}
	if content.Data != nil {
		view["result"] = content.Data["result"]
	}
	if content.Error != nil {
		view["error"] = content.Error
	}
	return jsonResult(view)
}

func (b *Bridge) handleHubEndpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := b.plugin.HubInfo()
	if info == nil {
		return mcp.NewToolResultError("not connected to a hub yet"), nil
	}
	return jsonResult(map[string]any{
		"plugin":  b.plugin.Name(),
		"command": info.Command,
		"publish": info.Publish,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
