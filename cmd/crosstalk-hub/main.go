// crosstalk-hub is a standalone binary that runs the crosstalk hub server.
// It relays messages between the AI coding agents of a team and buffers them
// for agents without a live connection.
//
// Usage:
//
//	crosstalk-hub
//	crosstalk-hub --port 9000 --store snapshot
//	crosstalk-hub --store redis --redis-addr localhost:6379
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/hub"
	"github.com/crosstalkhq/crosstalk/internal/store"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	var (
		port         int
		host         string
		storeKind    string
		snapshotPath string
		redisAddr    string
		redisPrefix  string
		maxBuffer    int
		maxAgents    int
		quiet        bool
		showVersion  bool
		logFile      string
		metricsPort  int
	)

	flag.IntVar(&port, "port", hub.DefaultPort, "server port")
	flag.StringVar(&host, "host", hub.DefaultHost, "server host")
	flag.StringVar(&storeKind, "store", "memory", "state backend: memory|snapshot|redis")
	flag.StringVar(&snapshotPath, "snapshot-path", "", "snapshot file (default ~/.crosstalk/hub.json)")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	flag.StringVar(&redisPrefix, "redis-prefix", "", "redis key prefix (default crosstalk)")
	flag.IntVar(&maxBuffer, "max-buffer", crosstalk.DefaultMaxBuffer, "pending messages kept per agent")
	flag.IntVar(&maxAgents, "max-agents", crosstalk.DefaultMaxTeamAgents, "agents admitted per team")
	flag.BoolVar(&quiet, "quiet", false, "suppress non-error output")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&logFile, "log", "", "write debug log to file")
	flag.IntVar(&metricsPort, "metrics-port", 0, "port for Prometheus /metrics endpoint (0 = disabled)")
	flag.Parse()

	if showVersion {
		fmt.Printf("crosstalk-hub %s\n", version)
		os.Exit(0)
	}

	// Initialize logger
	if logFile != "" {
		if err := toollog.Init(logFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: init log: %v\n", err)
			os.Exit(1)
		}
		defer toollog.Log.Close()
	}

	st, err := buildStore(storeKind, snapshotPath, redisAddr, redisPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	srv := hub.NewServer(hub.ServerConfig{
		Host:      host,
		Port:      port,
		MaxBuffer: maxBuffer,
		MaxAgents: maxAgents,
		Quiet:     quiet,
	}, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		if !quiet {
			fmt.Fprintln(os.Stderr, "\nShutting down...")
		}
		cancel()
	}()

	// Start optional Prometheus metrics server
	if metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			addr := fmt.Sprintf(":%d", metricsPort)
			if !quiet {
				fmt.Fprintf(os.Stderr, "Metrics: http://localhost%s/metrics\n", addr)
			}
			if err := http.ListenAndServe(addr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	if !quiet {
		fmt.Fprintf(os.Stderr, "crosstalk-hub %s\n", version)
		fmt.Fprintf(os.Stderr, "Store: %s\n", storeKind)
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// buildStore constructs the configured store backend. Redis is pinged up
// front so a bad address fails at startup instead of on the first request.
func buildStore(kind, snapshotPath, redisAddr, redisPrefix string) (crosstalk.Store, error) {
	switch kind {
	case "", "memory":
		return store.NewMemory(), nil
	case "snapshot":
		if snapshotPath == "" {
			dir, err := config.Dir()
			if err != nil {
				return nil, err
			}
			snapshotPath = filepath.Join(dir, "hub.json")
		}
		return store.NewSnapshot(snapshotPath)
	case "redis":
		rs := store.NewRedis(redisAddr, redisPrefix)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("redis %s: %w", redisAddr, err)
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown store %q (want memory, snapshot, or redis)", kind)
	}
}
