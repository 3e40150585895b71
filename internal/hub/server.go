package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/sync/errgroup"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/toollog"

	_ "github.com/crosstalkhq/crosstalk/internal/hub/docs" // swagger spec
)

// InstanceHub is the instance type for the hub process.
const InstanceHub config.InstanceType = "hub"

const (
	// DefaultPort is the hub's default listen port.
	DefaultPort = 8790
	// DefaultHost is the hub's default bind address.
	DefaultHost = "localhost"

	// streamKeepalive is how often an idle event stream gets a comment
	// line so proxies keep the connection open.
	streamKeepalive = 30 * time.Second
)

// ServerConfig holds the hub server settings.
type ServerConfig struct {
	Host      string
	Port      int
	MaxBuffer int // per-agent buffer cap
	MaxAgents int // per-team agent cap
	Quiet     bool
}

// Server is the hub HTTP server agents connect to.
type Server struct {
	config    ServerConfig
	store     crosstalk.Store
	engine    *Engine
	router    chi.Router
	startedAt time.Time
}

// NewServer creates a hub server over the given store.
func NewServer(cfg ServerConfig, store crosstalk.Store) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	s := &Server{
		config:    cfg,
		store:     store,
		engine:    NewEngine(store, cfg.MaxBuffer, cfg.MaxAgents),
		startedAt: time.Now(),
	}
	s.router = s.setupRouter()
	return s
}

// Engine returns the delivery engine, mainly for tests.
func (s *Server) Engine() *Engine {
	return s.engine
}

// Handler returns the hub's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the hub HTTP routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	if !s.config.Quiet {
		r.Use(middleware.Logger)
	}

	r.Post("/teams/create", s.handleCreateTeam)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/docs/*", httpSwagger.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireTeam)
		r.Get("/agent/stream", s.handleStream)
		r.Post("/agent/send", s.handleSend)
		r.Get("/agent/list", s.handleListAgents)
	})

	return r
}

// ListenAndServe starts the hub server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if existing := config.FindInstanceByPort(s.config.Port); existing != nil {
		return fmt.Errorf("port %d is already in use by crosstalk %s (PID %d, started %s)",
			s.config.Port, existing.Type, existing.PID, existing.StartedAt.Format(time.RFC3339))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler: s.router,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// Update port if auto-assigned
	if s.config.Port == 0 {
		s.config.Port = ln.Addr().(*net.TCPAddr).Port
	}

	inst := config.Instance{
		Type:      InstanceHub,
		PID:       os.Getpid(),
		Port:      s.config.Port,
		Host:      s.config.Host,
		StartedAt: time.Now(),
	}
	if err := config.RegisterInstance(inst); err != nil {
		toollog.Log.Warn("Failed to register hub instance", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		config.UnregisterInstance(os.Getpid())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	fmt.Printf("Hub server running at http://%s:%d\n", s.config.Host, s.config.Port)
	return g.Wait()
}

// Addr returns the server address string.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

type teamCtxKey struct{}
type agentCtxKey struct{}

// requireTeam authenticates the request's api key against the store and
// puts the resolved team (and agent name, when present) on the context.
// The key may arrive as the api_key query parameter, the X-API-Key header,
// or a bearer token.
func (s *Server) requireTeam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := requestAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing api key")
			return
		}

		team, err := s.engine.Authenticate(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		if team == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Unknown api key")
			return
		}

		ctx := context.WithValue(r.Context(), teamCtxKey{}, team)
		if name := requestAgentName(r); name != "" {
			ctx = context.WithValue(ctx, agentCtxKey{}, name)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestAPIKey(r *http.Request) string {
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func requestAgentName(r *http.Request) string {
	if name := r.URL.Query().Get("agent_name"); name != "" {
		return name
	}
	return r.Header.Get("X-Agent-Name")
}

func teamFrom(r *http.Request) *crosstalk.Team {
	team, _ := r.Context().Value(teamCtxKey{}).(*crosstalk.Team)
	return team
}

func agentNameFrom(r *http.Request) string {
	name, _ := r.Context().Value(agentCtxKey{}).(string)
	return name
}

// corsMiddleware adds CORS headers for cross-origin requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Agent-Name")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
