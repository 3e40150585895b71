package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/hub"
	"github.com/crosstalkhq/crosstalk/internal/store"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

// Hub command flags
var (
	hubHost         string
	hubPort         int
	hubStoreKind    string
	hubSnapshotPath string
	hubRedisAddr    string
	hubRedisPrefix  string
	hubMaxBuffer    int
	hubMaxAgents    int
	hubQuiet        bool
	hubMetricsPort  int
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the relay hub server",
	Long: `Run the hub server that relays messages between team agents.

Teams, agents, and buffered messages live in the configured store:
  memory    volatile, per-process (default)
  snapshot  memory semantics plus a JSON file that survives restarts
  redis     shared state for multiple hub processes

Flags override the [hub] section of ~/.crosstalk/config.toml.

Examples:
  crosstalk hub                                 # memory store on localhost:8790
  crosstalk hub --store snapshot                # survive restarts
  crosstalk hub --store redis --redis-addr localhost:6379
  crosstalk hub --port 9000 --max-agents 50`,
	RunE: runHub,
}

func runHub(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	hc := resolveHubConfig(cmd, cfg.Hub)

	st, err := buildStore(hc)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := hub.NewServer(hub.ServerConfig{
		Host:      hc.Host,
		Port:      hc.Port,
		MaxBuffer: hc.MaxBuffer,
		MaxAgents: hc.MaxAgents,
		Quiet:     hubQuiet,
	}, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		toollog.Log.Info("Received interrupt signal, shutting down")
		if !hubQuiet {
			fmt.Fprintln(os.Stderr, "\nShutting down...")
		}
		cancel()
	}()

	// The hub router itself carries only agent-facing routes; metrics get
	// their own listener so they can stay firewalled off.
	if hubMetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			addr := fmt.Sprintf(":%d", hubMetricsPort)
			if !hubQuiet {
				fmt.Fprintf(os.Stderr, "Metrics: http://localhost%s/metrics\n", addr)
			}
			if err := http.ListenAndServe(addr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	if !hubQuiet {
		fmt.Fprintf(os.Stderr, "Store: %s\n", storeDescription(hc))
	}

	return srv.ListenAndServe(ctx)
}

// resolveHubConfig merges config file values into the hub flags. A flag that
// was set on the command line wins; otherwise a non-zero config value
// applies; the component defaults cover the rest.
func resolveHubConfig(cmd *cobra.Command, hc config.HubConfig) config.HubConfig {
	f := cmd.Flags()
	if f.Changed("host") || hc.Host == "" {
		hc.Host = hubHost
	}
	if f.Changed("port") || hc.Port == 0 {
		hc.Port = hubPort
	}
	if f.Changed("store") || hc.Store == "" {
		hc.Store = hubStoreKind
	}
	if f.Changed("snapshot-path") || hc.SnapshotPath == "" {
		hc.SnapshotPath = hubSnapshotPath
	}
	if f.Changed("redis-addr") || hc.RedisAddr == "" {
		hc.RedisAddr = hubRedisAddr
	}
	if f.Changed("redis-prefix") || hc.RedisPrefix == "" {
		hc.RedisPrefix = hubRedisPrefix
	}
	if f.Changed("max-buffer") || hc.MaxBuffer == 0 {
		hc.MaxBuffer = hubMaxBuffer
	}
	if f.Changed("max-agents") || hc.MaxAgents == 0 {
		hc.MaxAgents = hubMaxAgents
	}
	if hc.MaxBuffer == 0 {
		hc.MaxBuffer = crosstalk.DefaultMaxBuffer
	}
	if hc.MaxAgents == 0 {
		hc.MaxAgents = crosstalk.DefaultMaxTeamAgents
	}
	return hc
}

// buildStore constructs the configured store backend. Redis is pinged up
// front so a bad address fails at startup instead of on the first request.
func buildStore(hc config.HubConfig) (crosstalk.Store, error) {
	switch hc.Store {
	case "", "memory":
		return store.NewMemory(), nil
	case "snapshot":
		path := hc.SnapshotPath
		if path == "" {
			dir, err := config.Dir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "hub.json")
		}
		return store.NewSnapshot(path)
	case "redis":
		addr := hc.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		rs := store.NewRedis(addr, hc.RedisPrefix)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("redis %s: %w", addr, err)
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown store %q (want memory, snapshot, or redis)", hc.Store)
	}
}

// storeDescription renders the resolved store choice for the startup banner.
func storeDescription(hc config.HubConfig) string {
	switch hc.Store {
	case "snapshot":
		path := hc.SnapshotPath
		if path == "" {
			if dir, err := config.Dir(); err == nil {
				path = filepath.Join(dir, "hub.json")
			}
		}
		return fmt.Sprintf("snapshot (%s)", path)
	case "redis":
		addr := hc.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		return fmt.Sprintf("redis (%s)", addr)
	default:
		return "memory"
	}
}
