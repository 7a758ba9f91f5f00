package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/wsclient/internal/config"
	applog "github.com/sawpanic/wsclient/internal/log"
	"github.com/sawpanic/wsclient/internal/metrics"
	"github.com/sawpanic/wsclient/internal/monitor"
	"github.com/sawpanic/wsclient/internal/net/circuit"
	"github.com/sawpanic/wsclient/internal/net/ratelimit"
	"github.com/sawpanic/wsclient/internal/sink"
	"github.com/sawpanic/wsclient/internal/ws"
)

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a stream and print packets",
		Long: `Connects to a WebSocket endpoint and keeps the connection alive until
interrupted. Inbound packets are printed to stdout as JSON lines; every line
read from stdin is sent as a JSON packet.`,
		Example: `  wsclient connect --host wss://stream.example.com/ws -H X-Api-Key=secret
  wsclient connect --config wsclient.yaml --metrics-addr 127.0.0.1:9090`,
		RunE: runConnect,
	}
	addConnectFlags(cmd.Flags())
	return cmd
}

func addConnectFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file")
	fs.String("host", "", "Stream endpoint (ws:// or wss://)")
	fs.String("proxy-host", "", "HTTP proxy host")
	fs.Int("proxy-port", 0, "HTTP proxy port")
	fs.Int("ping-interval", 60, "Heartbeat interval in seconds")
	fs.Int("receive-timeout", 60, "Receive and handshake timeout in seconds")
	fs.StringToStringP("header", "H", nil, "Handshake header key=value (repeatable)")
	fs.Bool("insecure", false, "Skip TLS certificate verification")
	fs.String("log-path", "", "Append a debug log of every frame to this file")
	fs.String("log-level", "", "Log level (debug|info|warn|error)")
	fs.String("log-format", "", "Log format (auto|console|json)")
	fs.String("metrics-addr", "", "Serve /health, /status, /metrics and /reports on this address")
	fs.String("redis-addr", "", "Publish packets to a Redis stream at this address")
	fs.String("redis-stream", "", "Redis stream name")
	fs.String("pg-dsn", "", "Store error reports in this PostgreSQL database")
}

// loadConfig reads --config and applies every flag the user set on top
func loadConfig(fs *pflag.FlagSet) (*config.File, error) {
	cfg := config.Default()
	if path, _ := fs.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides := map[string]func(){
		"host":            func() { cfg.Client.Host, _ = fs.GetString("host") },
		"proxy-host":      func() { cfg.Client.ProxyHost, _ = fs.GetString("proxy-host") },
		"proxy-port":      func() { cfg.Client.ProxyPort, _ = fs.GetInt("proxy-port") },
		"ping-interval":   func() { cfg.Client.PingIntervalSeconds, _ = fs.GetInt("ping-interval") },
		"receive-timeout": func() { cfg.Client.ReceiveTimeoutSeconds, _ = fs.GetInt("receive-timeout") },
		"insecure":        func() { cfg.Client.InsecureSkipVerify, _ = fs.GetBool("insecure") },
		"log-path":        func() { cfg.Client.LogPath, _ = fs.GetString("log-path") },
		"log-level":       func() { cfg.Logging.Level, _ = fs.GetString("log-level") },
		"log-format":      func() { cfg.Logging.Format, _ = fs.GetString("log-format") },
		"metrics-addr":    func() { cfg.Monitor.Addr, _ = fs.GetString("metrics-addr") },
		"redis-addr":      func() { cfg.Redis.Addr, _ = fs.GetString("redis-addr") },
		"redis-stream":    func() { cfg.Redis.Stream, _ = fs.GetString("redis-stream") },
		"pg-dsn":          func() { cfg.Postgres.DSN, _ = fs.GetString("pg-dsn") },
		"header": func() {
			headers, _ := fs.GetStringToString("header")
			if cfg.Client.Headers == nil {
				cfg.Client.Headers = make(map[string]string, len(headers))
			}
			for k, v := range headers {
				cfg.Client.Headers[k] = v
			}
		},
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return cfg, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := applog.Setup(applog.Options{
		Level:  cfg.Logging.Level,
		Format: applog.Format(strings.ToLower(cfg.Logging.Format)),
		Out:    os.Stderr,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientCfg := cfg.ClientConfig()
	collector := metrics.NewCollector()

	var limiter *ratelimit.Limiter
	if cfg.Dial.RatePerSecond > 0 {
		limiter = ratelimit.NewLimiter(cfg.Dial.RatePerSecond, cfg.Dial.Burst)
	}

	opts := []ws.Option{
		ws.WithLogger(logger),
		ws.WithObserver(collector),
		ws.WithDialLimiter(limiter),
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, ws.WithBreaker(circuit.NewBreaker(cfg.BreakerConfig(clientCfg.Host), logger)))
	}

	sinks := sink.Fanout{ws.LogSink{Logger: logger.With().Str("component", "ws").Logger()}}

	var store *sink.ReportStore
	if cfg.Postgres.DSN != "" {
		store, err = openStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	var publisher *sink.RedisPublisher
	if cfg.Redis.Addr != "" {
		redisCfg := sink.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		}
		rdb, err := sink.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = sink.NewRedisPublisher(rdb, redisCfg, logger)
		sinks = append(sinks, publisher)
	}
	opts = append(opts, ws.WithReportSink(sinks))

	handler := newPacketPrinter(cmd.OutOrStdout(), clientCfg.Host, publisher, logger)
	client := ws.NewClient(handler, opts...)
	if err := client.Init(clientCfg); err != nil {
		return err
	}
	if err := client.Start(); err != nil {
		return err
	}

	var server *monitor.Server
	if cfg.Monitor.Addr != "" {
		monitorCfg := monitor.DefaultConfig()
		monitorCfg.Addr = cfg.Monitor.Addr
		var reports monitor.ReportSource
		if store != nil {
			reports = store
		}
		server = monitor.NewServer(monitorCfg, client, reports, collector, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("Monitor server stopped")
			}
		}()
	}

	go pumpInput(cmd.InOrStdin(), client, logger)

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Monitor shutdown failed")
		}
	}
	return client.Close()
}

func openStore(ctx context.Context, dsn string) (*sink.ReportStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := sink.OpenReportStore(connectCtx, dsn, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(connectCtx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// pumpInput sends each JSON line from r as a packet
func pumpInput(r io.Reader, client *ws.Client, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var packet interface{}
		if err := json.Unmarshal([]byte(line), &packet); err != nil {
			logger.Warn().Err(err).Str("line", line).Msg("Skipping input line that is not JSON")
			continue
		}
		if !client.Connected() {
			logger.Warn().Msg("Not connected, input line dropped")
			continue
		}
		client.SendPacket(packet)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("Stopped reading stdin")
	}
}
