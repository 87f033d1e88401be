// The bridge joins a hub as a plugin and serves the network's registry and
// execute path as MCP tools over stdio. With no -hub flag it locates a hub
// over mDNS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mkdryden/zmq-plugin/discovery"
	"github.com/mkdryden/zmq-plugin/mcp"
	"github.com/mkdryden/zmq-plugin/plugin"
)

func run() error {
	hubURI := flag.String("hub", "", "hub query endpoint URI (empty: discover over mDNS)")
	name := flag.String("name", "mcp-bridge", "plugin name the bridge joins under")
	flag.Parse()

	// Logs go to stderr; stdout belongs to the MCP transport.
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	uri := *hubURI
	if uri == "" {
		svc, err := discovery.Lookup(5 * time.Second)
		if err != nil {
			return fmt.Errorf("no -hub given and discovery failed: %w", err)
		}
		uri = svc.QueryURI()
	}

	p, err := plugin.New(*name, uri, plugin.Options{Logger: logger, DisableSubscribe: true})
	if err != nil {
		return err
	}
	if err := p.Reset(context.Background()); err != nil {
		return fmt.Errorf("join hub: %w", err)
	}
	defer p.Close()

	bridge := mcp.NewBridge(p, mcp.NewMCPServer(logger), mcp.BridgeOptions{Logger: logger})
	return bridge.Run()
}

func main() {
	if err := run(); err != nil {
		slog.Error("bridge exited", "error", err)
		os.Exit(1)
	}
}
