package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nugget/meetly/internal/api"
	"github.com/nugget/meetly/internal/buildinfo"
	"github.com/nugget/meetly/internal/mcpserver"
	mqttpub "github.com/nugget/meetly/internal/mqtt"
)

// runServe starts the HTTP API and, when a broker is configured, the
// MQTT event publisher. It blocks until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. The signal cancels the context
//  2. The MQTT publisher announces "offline" and disconnects
//  3. The HTTP server drains in-flight requests
//  4. The session database is closed via defer
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting Meetly", "version", buildinfo.Version, "config", cfgPath)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, logger.With("component", "api"))
	server.SetEventBus(a.bus)
	server.SetSystemPrompt(a.systemPrompt)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var publisher *mqttpub.Publisher
	publisherDone := make(chan struct{})
	if cfg.MQTT.Configured() {
		publisher = mqttpub.New(cfg.MQTT, a.bus, a.loc, logger.With("component", "mqtt"))
		go func() {
			defer close(publisherDone)
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	} else {
		close(publisherDone)
		logger.Info("mqtt publishing disabled (not configured)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		<-publisherDone
		if publisher != nil {
			if err := publisher.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Meetly stopped")
	return nil
}

// runMCP serves the calendar tools and the ask tool to an MCP client
// over stdin and stdout. Logs go to stderr; stdout belongs to the
// protocol.
func runMCP(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, opts options) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := mcpserver.New(a.loop, a.systemPrompt, logger.With("component", "mcp"))
	return srv.Run(ctx, &mcp.IOTransport{
		Reader: io.NopCloser(stdin),
		Writer: nopWriteCloser{stdout},
	})
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
