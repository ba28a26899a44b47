package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/codesphere/backend/internal/api/http"
	"github.com/codesphere/backend/internal/api/middleware"
	"github.com/codesphere/backend/internal/api/ws"
	"github.com/codesphere/backend/internal/domain/lifecycle"
	"github.com/codesphere/backend/internal/domain/room"
	"github.com/codesphere/backend/internal/domain/runner"
	"github.com/codesphere/backend/internal/infrastructure/config"
	"github.com/codesphere/backend/internal/infrastructure/logging"
	"github.com/codesphere/backend/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and its dependencies
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	rooms     *room.Store
	lifecycle *lifecycle.Manager
	hub       *ws.Hub
	runner    *runner.Runner
	janitor   *runner.Janitor
	router    *gin.Engine
	http      *http.Server

	stopOnce sync.Once
}

// New wires every component from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	defaultLang, ok := room.ParseLanguage(cfg.Rooms.DefaultLanguage)
	if !ok {
		return nil, fmt.Errorf("unsupported default room language %q", cfg.Rooms.DefaultLanguage)
	}

	logger.Info("Initializing CodeSphere server",
		zap.String("port", cfg.Server.Port),
		zap.Duration("grace_period", cfg.Rooms.GracePeriod),
		zap.Duration("run_timeout", cfg.Runner.Timeout),
		zap.String("js_engine", cfg.Runner.JSEngine),
	)

	metrics := monitoring.NewMetrics()

	rooms := room.NewStore(room.Options{
		DefaultLanguage: defaultLang,
		WhiteboardLimit: cfg.Rooms.WhiteboardLimit,
		Observer:        metrics,
	})

	lcLog := logger.Named("lifecycle")
	lc := lifecycle.NewManager(rooms, cfg.Rooms.GracePeriod,
		lifecycle.WithLogger(lcLog),
		lifecycle.WithEvictHook(func(roomID string) {
			lcLog.Debug("Room state discarded", zap.String("room_id", roomID))
		}),
	)

	toolchains := runner.DefaultToolchains()
	if cfg.Runner.ToolchainFile != "" {
		loaded, err := runner.LoadToolchains(cfg.Runner.ToolchainFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load toolchains: %w", err)
		}
		toolchains = loaded
		logger.Info("Loaded toolchain overrides", zap.String("path", cfg.Runner.ToolchainFile))
	}

	run, err := runner.New(runner.Options{
		Timeout:        cfg.Runner.Timeout,
		WorkDir:        cfg.Runner.WorkDir,
		MaxOutputBytes: cfg.Runner.MaxOutputBytes,
		MaxConcurrent:  cfg.Runner.MaxConcurrent,
		EmbeddedJS:     cfg.Runner.JSEngine == "embedded",
		Toolchains:     toolchains,
		Logger:         logger.Named("runner"),
		Recorder:       metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	for _, info := range run.Languages() {
		if !info.Available {
			logger.Warn("Toolchain not found on PATH", zap.String("language", info.Language.String()))
		}
	}

	hub := ws.NewHub(rooms, lc, ws.Options{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		WriteWait:       cfg.WebSocket.WriteWait,
		AllowedOrigins:  cfg.CORS.Origins,
	}, logger.Named("hub"), metrics)

	s := &Server{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		rooms:     rooms,
		lifecycle: lc,
		hub:       hub,
		runner:    run,
		janitor:   runner.NewJanitor(cfg.Runner.WorkDir, cfg.Runner.StaleAfter, logger.Named("janitor")),
	}
	s.router = s.routes(apihttp.NewHandlers(rooms, lc, run, hub, logger.Named("http")))
	s.http = &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: s.Handler(),
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) routes(handlers *apihttp.Handlers) *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(s.config.CORS.Origins)))

	// Event channel and scrape endpoint are not rate limited.
	router.GET("/ws", s.hub.HandleConnection)
	router.GET("/socket", s.hub.HandleConnection)
	router.GET("/metrics", monitoring.Handler(s.metrics))

	api := router.Group("/")
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		api.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		}))
	}
	handlers.Register(api)

	return router
}

// Handler returns the root handler. Responses are gzip-compressed except
// websocket upgrades, which need the raw connection.
func (s *Server) Handler() http.Handler {
	gz := gzhttp.GzipHandler(s.router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.router.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go s.janitor.Run(janitorCtx, s.config.Runner.JanitorInterval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, closes every websocket and stops
// pending eviction timers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Shutting down server...")
		err = s.http.Shutdown(ctx)
		// Hijacked websocket connections are not tracked by http.Server.
		s.hub.Shutdown()
		s.lifecycle.Stop()
		if err != nil {
			s.logger.Error("Graceful shutdown failed", zap.Error(err))
		}
		s.logger.Sync()
	})
	return err
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }
