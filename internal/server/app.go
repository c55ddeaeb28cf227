package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/fenggwsx/BridgeRelay/internal/config"
	"github.com/fenggwsx/BridgeRelay/internal/metrics"
	"github.com/fenggwsx/BridgeRelay/internal/relay"
	"github.com/fenggwsx/BridgeRelay/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// App coordinates network listeners, session lifecycle, and the control plane.
type App struct {
	cfg      config.ServerConfig
	log      *zap.Logger
	store    storage.Store
	registry *relay.Registry
	router   *relay.Router
	metrics  *metrics.Relay
	journal  *journalWriter
	upgrader websocket.Upgrader

	mu       sync.Mutex
	draining bool
	sessions sync.WaitGroup
}

// NewApp constructs a server instance using the provided dependencies. A nil
// store disables the lifecycle journal.
func NewApp(cfg config.ServerConfig, logger *zap.Logger, store storage.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)

	a := &App{
		cfg:     cfg,
		log:     logger,
		store:   store,
		metrics: metrics.New(),
	}
	var journal relay.Journal
	if store != nil {
		a.journal = newJournalWriter(store, logger.Named("journal"), cfg.Journal.QueueSize)
		journal = a.journal
	}
	a.registry = relay.NewRegistry(a.metrics)
	a.router = relay.NewRouter(a.registry, logger.Named("relay"), a.metrics, journal)
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// Handler serves the relay listener: WebSocket upgrades, plus the control
// plane when it shares the listener.
func (a *App) Handler() http.Handler {
	engine := a.newEngine()
	engine.GET("/", a.handleRoot)
	engine.GET("/ws", a.serveWS)
	engine.GET("/healthz", a.handleHealth)
	if a.cfg.SharedControl() {
		a.mountControl(engine)
	}
	return a.withCORS(engine)
}

// ControlHandler serves the control plane on its own listener.
func (a *App) ControlHandler() http.Handler {
	engine := a.newEngine()
	engine.GET("/", a.handleInfo)
	engine.GET("/healthz", a.handleHealth)
	a.mountControl(engine)
	return a.withCORS(engine)
}

// Run starts every configured listener and blocks until ctx is canceled or a
// listener fails. Sessions are closed and the journal flushed before it returns.
func (a *App) Run(ctx context.Context) error {
	if a.store != nil {
		if err := a.store.Migrate(ctx); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var servers []*http.Server
	serve := make(chan error, 3)
	start := func(srv *http.Server, ln net.Listener, scheme string) {
		servers = append(servers, srv)
		a.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("scheme", scheme))
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serve <- errors.Wrapf(err, "serve %s", srv.Addr)
				return
			}
			serve <- nil
		}()
	}

	relayHandler := a.Handler()
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	start(a.newHTTPServer(runCtx, a.cfg.ListenAddr, relayHandler), ln, "ws")

	if !a.cfg.SharedControl() {
		controlLn, err := net.Listen("tcp", a.cfg.ControlAddr)
		if err != nil {
			a.shutdown(servers)
			return errors.Wrap(err, "listen control")
		}
		start(a.newHTTPServer(runCtx, a.cfg.ControlAddr, a.ControlHandler()), controlLn, "http")
	}

	if tlsLn, srv := a.listenTLS(runCtx, relayHandler); tlsLn != nil {
		start(srv, tlsLn, "wss")
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serve:
	}

	a.log.Info("shutting down")
	a.shutdown(servers)
	cancel()
	a.drainSessions()
	if a.journal != nil {
		a.journal.Close()
	}
	return runErr
}

func (a *App) listenTLS(ctx context.Context, handler http.Handler) (net.Listener, *http.Server) {
	tlsCfg := a.cfg.TLS
	if tlsCfg.Addr == "" {
		return nil, nil
	}
	for _, path := range []string{tlsCfg.CertFile, tlsCfg.KeyFile} {
		if _, err := os.Stat(path); err != nil {
			a.log.Warn("TLS materials not found, secure listener disabled", zap.String("path", path))
			return nil, nil
		}
	}
	cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		a.log.Warn("TLS materials unusable, secure listener disabled", zap.Error(err))
		return nil, nil
	}
	raw, err := net.Listen("tcp", tlsCfg.Addr)
	if err != nil {
		a.log.Warn("secure listener unavailable", zap.String("addr", tlsCfg.Addr), zap.Error(err))
		return nil, nil
	}
	srv := a.newHTTPServer(ctx, tlsCfg.Addr, handler)
	srv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return tls.NewListener(raw, srv.TLSConfig), srv
}

func (a *App) newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          zap.NewStdLog(a.log.Named("http")),
	}
}

func (a *App) shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Warn("listener shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
}

func (a *App) drainSessions() {
	a.mu.Lock()
	a.draining = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		a.log.Warn("sessions still open after shutdown timeout")
	}
}

func (a *App) trackSession() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining {
		return false
	}
	a.sessions.Add(1)
	return true
}

func (a *App) serveWS(c *gin.Context) {
	if !a.trackSession() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}
	defer a.sessions.Done()

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", zap.String("remote_addr", c.Request.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(int64(a.cfg.MaxFrameBytes))
	newClientSession(a, conn).serve(c.Request.Context())
}

func (a *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.cfg.CORSAllow {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (a *App) newEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), a.accessLog())
	return engine
}

func (a *App) accessLog() gin.HandlerFunc {
	logger := a.log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (a *App) withCORS(h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: a.cfg.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(h)
}

func withDefaults(cfg config.ServerConfig) config.ServerConfig {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 256
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	if cfg.Journal.QueueSize <= 0 {
		cfg.Journal.QueueSize = 1024
	}
	return cfg
}
