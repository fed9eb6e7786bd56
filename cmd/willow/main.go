package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/willowmail/willow/config"
	"github.com/willowmail/willow/db"
	"github.com/willowmail/willow/logger"
	"github.com/willowmail/willow/server/credapi"
	"github.com/willowmail/willow/server/pop3"
	"github.com/willowmail/willow/server/smtp"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("willow version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loadConfig(*configPath, &cfg)

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WILLOW: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Infof("WILLOW mail backend starting (version %s, commit: %s, built: %s)", version, commit, date)
	logger.Infof("Local mail domain: %s", cfg.Domain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Infof("Received signal: %s, shutting down...", sig)
		cancel()
	}()

	database, err := db.NewDatabase(ctx, &cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	database.StartPoolMetrics(ctx)

	errChan := make(chan error, 1)
	var serverWg sync.WaitGroup

	if cfg.Servers.SMTP.Start {
		idleTimeout, _ := cfg.Servers.SMTP.GetIdleTimeout()
		smtpServer, err := smtp.New(ctx, "smtp", cfg.Servers.SMTP.Addr, database, database, smtp.SMTPServerOptions{
			Hostname:            cfg.Servers.SMTP.Hostname,
			Domain:              cfg.Domain,
			MaxConnections:      cfg.Servers.SMTP.MaxConnections,
			MaxConnectionsPerIP: cfg.Servers.SMTP.MaxConnectionsPerIP,
			MaxMessageBytes:     cfg.Servers.SMTP.GetMaxMessageBytes(),
			IdleTimeout:         idleTimeout,
		})
		if err != nil {
			logger.Fatalf("Failed to create SMTP server: %v", err)
		}
		serverWg.Add(1)
		go func() {
			defer serverWg.Done()
			smtpServer.Start(errChan)
		}()
		defer smtpServer.Close()
	}

	if cfg.Servers.POP3.Start {
		idleTimeout, _ := cfg.Servers.POP3.GetIdleTimeout()
		pop3Server, err := pop3.New(ctx, "pop3", cfg.Servers.POP3.Addr, database, database, pop3.POP3ServerOptions{
			Domain:              cfg.Domain,
			MaxConnections:      cfg.Servers.POP3.MaxConnections,
			MaxConnectionsPerIP: cfg.Servers.POP3.MaxConnectionsPerIP,
			IdleTimeout:         idleTimeout,
		})
		if err != nil {
			logger.Fatalf("Failed to create POP3 server: %v", err)
		}
		serverWg.Add(1)
		go func() {
			defer serverWg.Done()
			pop3Server.Start(errChan)
		}()
		defer pop3Server.Close()
	}

	if cfg.Servers.CredAPI.Start {
		serverWg.Add(1)
		go func() {
			defer serverWg.Done()
			credapi.Start(ctx, database, credapi.ServerOptions{
				Name:         "credapi",
				Addr:         cfg.Servers.CredAPI.Addr,
				APIKey:       cfg.Servers.CredAPI.APIKey,
				AllowedHosts: cfg.Servers.CredAPI.AllowedHosts,
			}, errChan)
		}()
	}

	if cfg.Servers.Metrics.Start {
		serverWg.Add(1)
		go func() {
			defer serverWg.Done()
			startMetricsServer(ctx, cfg.Servers.Metrics, errChan)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Waiting for servers to stop gracefully...")
		done := make(chan struct{})
		go func() {
			serverWg.Wait()
			close(done)
		}()
		select {
		case <-done:
			logger.Info("All server listeners closed")
		case <-time.After(10 * time.Second):
			logger.Warn("Server shutdown timeout reached after 10 seconds")
		}
	case err := <-errChan:
		logger.Fatalf("Server error: %v", err)
	}
}

// loadConfig loads the TOML configuration on top of the defaults. A
// missing default config file is tolerated; a missing user-specified
// one is not.
func loadConfig(configPath string, cfg *config.Config) {
	err := config.Load(configPath, cfg)
	if err == nil {
		return
	}
	if errors.Is(err, os.ErrNotExist) {
		if configPath == "config.toml" {
			fmt.Fprintf(os.Stderr, "WILLOW: default configuration file %q not found, using application defaults\n", configPath)
			return
		}
	}
	fmt.Fprintf(os.Stderr, "WILLOW: configuration error: %v\n", err)
	os.Exit(1)
}

// startMetricsServer exposes the Prometheus registry over HTTP.
func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, errChan chan error) {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics server listening", "addr", cfg.Addr, "path", path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}
