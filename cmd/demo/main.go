// The demo starts a hub and two plugins in one process and sends a few pings
// from plugin_b to plugin_a through the hub relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mkdryden/zmq-plugin/hub"
	"github.com/mkdryden/zmq-plugin/plugin"
	"github.com/mkdryden/zmq-plugin/proto"
)

func run() error {
	queryURI := flag.String("query", "tcp://127.0.0.1:12345", "hub query endpoint URI")
	rounds := flag.Int("rounds", 3, "number of pings to send")
	flag.Parse()

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := hub.New(*queryURI, hub.Options{})
	if err != nil {
		return err
	}
	if err := h.Reset(); err != nil {
		return err
	}
	defer h.Close()

	pluginA, err := plugin.New("plugin_a", h.QueryURI(), plugin.Options{})
	if err != nil {
		return err
	}
	pluginA.RegisterCommand("ping", func(req *proto.Message) (any, error) {
		return "pong", nil
	})
	if err := pluginA.Reset(ctx); err != nil {
		return err
	}
	defer pluginA.Close()

	pluginB, err := plugin.New("plugin_b", h.QueryURI(), plugin.Options{})
	if err != nil {
		return err
	}
	if err := pluginB.Reset(ctx); err != nil {
		return err
	}
	defer pluginB.Close()

	slog.Info("plugins joined", "peers", pluginB.Peers())

	replies := make(chan *proto.Message, 1)
	for i := 0; i < *rounds; i++ {
		slog.Info("sending ping", "round", i+1, "from", "plugin_b", "to", "plugin_a")
		err := pluginB.Execute("plugin_a", "ping", func(m *proto.Message) { replies <- m }, nil)
		if err != nil {
			return err
		}
		select {
		case reply := <-replies:
			result, err := proto.ReplyResult(reply)
			if err != nil {
				return err
			}
			slog.Info("got reply",
				"round", i+1,
				"result", result,
				"execution_count", reply.Content.(*proto.ExecuteReplyContent).ExecutionCount)
		case <-ctx.Done():
			return fmt.Errorf("no reply for round %d: %w", i+1, ctx.Err())
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("demo failed", "error", err)
		os.Exit(1)
	}
}
