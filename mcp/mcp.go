// Package mcp bridges a running plugin onto the Model Context Protocol. The
// bridge joins the hub like any other plugin and exposes the registry and the
// execute path as MCP tools over stdio, so an MCP client can call into the
// plugin network without speaking the wire protocol itself.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer wraps the stdio MCP server the bridge registers its tools on.
type MCPServer struct {
	srv *server.MCPServer
	log *slog.Logger
}

func NewMCPServer(log *slog.Logger) *MCPServer {
	if log == nil {
		log = slog.Default()
	}
	return &MCPServer{
		srv: server.NewMCPServer("zmq-plugin", "0.2.0"),
		log: log,
	}
}

func (s *MCPServer) AddTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.srv.AddTool(tool, handler)
}

// Run serves MCP over stdio until the client hangs up.
func (s *MCPServer) Run() error {
	s.log.Info("started stdio MCP server")
	defer s.log.Info("shut down stdio MCP server")
	return server.ServeStdio(s.srv)
}
