package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	applog "github.com/sawpanic/wsclient/internal/log"
	"github.com/sawpanic/wsclient/internal/ws/wstest"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local WebSocket test server",
		Long: `Runs a WebSocket server on /ws for exercising clients:
  echo         echo every message back
  close-after  echo, then close normally after --close-after messages
  garbage      send a non-JSON frame on connect, then echo`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "127.0.0.1:8765", "Listen address")
	cmd.Flags().String("mode", "echo", "Server behaviour (echo|close-after|garbage)")
	cmd.Flags().Int("close-after", 1, "Messages to echo before closing in close-after mode")
	cmd.Flags().String("log-level", "info", "Log level")
	return cmd
}

func serveOptions(mode string, closeAfter int) (wstest.Options, error) {
	switch mode {
	case "echo":
		return wstest.Options{}, nil
	case "close-after":
		if closeAfter < 1 {
			return wstest.Options{}, fmt.Errorf("--close-after must be at least 1")
		}
		return wstest.Options{CloseAfter: closeAfter}, nil
	case "garbage":
		return wstest.Options{OnConnect: []string{"not-json"}}, nil
	default:
		return wstest.Options{}, fmt.Errorf("unknown mode %q", mode)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	mode, _ := cmd.Flags().GetString("mode")
	closeAfter, _ := cmd.Flags().GetInt("close-after")
	level, _ := cmd.Flags().GetString("log-level")

	logger, err := applog.Setup(applog.Options{Level: level, Out: os.Stderr})
	if err != nil {
		return err
	}

	opts, err := serveOptions(mode, closeAfter)
	if err != nil {
		return err
	}
	opts.Logger = logger.With().Str("component", "wstest").Logger()
	handler := wstest.NewHandler(opts)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("url", "ws://"+addr+"/ws").Str("mode", mode).Msg("Test server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		return fmt.Errorf("test server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handler.DropAll()
	logger.Info().
		Int64("connections", handler.Connections()).
		Int64("messages", handler.Messages()).
		Int64("pings", handler.Pings()).
		Msg("Test server stopped")
	return server.Shutdown(shutdownCtx)
}
