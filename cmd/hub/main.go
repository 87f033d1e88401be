package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkdryden/zmq-plugin/discovery"
	"github.com/mkdryden/zmq-plugin/hub"
	"github.com/mkdryden/zmq-plugin/transport"
	"github.com/mkdryden/zmq-plugin/web"
)

func setupLogger(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("bad log level %q: %w", level, err)
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
	return nil
}

func run() error {
	queryURI := flag.String("query", "tcp://*:12345", "query endpoint URI (tcp:// or ws://)")
	name := flag.String("name", "hub", "hub routing identity")
	webAddr := flag.String("web", "", "address for the status HTTP API (empty disables)")
	announce := flag.Bool("announce", false, "advertise the query endpoint over mDNS")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if err := setupLogger(*logLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := hub.New(*queryURI, hub.Options{Name: *name})
	if err != nil {
		return err
	}
	if err := h.Reset(); err != nil {
		return fmt.Errorf("bind endpoints: %w", err)
	}

	if *announce {
		bound, err := transport.ParseURI(h.QueryURI())
		if err != nil {
			return err
		}
		ann, err := discovery.Announce(*name, bound, discovery.Options{})
		if err != nil {
			return fmt.Errorf("announce: %w", err)
		}
		defer ann.Close()
	}

	if *webAddr != "" {
		status := web.New(h, web.Options{})
		go func() {
			if err := status.Start(*webAddr); err != nil {
				slog.Error("status server failed", "error", err)
			}
		}()
		defer status.Shutdown(context.Background())
	}

	return h.Serve(ctx)
}

func main() {
	if err := run(); err != nil {
		slog.Error("hub exited", "error", err)
		os.Exit(1)
	}
}
