// ABOUTME: Gateway orchestrator that owns the HTTP server and component lifecycle
// ABOUTME: Wires store, admission, gate, rooms, and notifications; tsnet or TCP listener

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/gather-gateway/internal/admission"
	"github.com/2389/gather-gateway/internal/auth"
	"github.com/2389/gather-gateway/internal/config"
	"github.com/2389/gather-gateway/internal/gate"
	"github.com/2389/gather-gateway/internal/mailer"
	"github.com/2389/gather-gateway/internal/notify"
	"github.com/2389/gather-gateway/internal/payment"
	"github.com/2389/gather-gateway/internal/room"
	"github.com/2389/gather-gateway/internal/store"
)

// Gateway orchestrates the gather-gateway server components. It owns the
// store, the room hub, and the single HTTP server that fronts everything.
type Gateway struct {
	config      *config.Config
	store       store.Store
	coordinator *admission.Coordinator
	validator   *gate.Validator
	notifier    *notify.Service
	rooms       *room.Service
	roomHub     *room.Hub
	wsHandler   *room.WSHandler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("GATHER_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initMailer picks the SMTP sender when email is configured, the log-only
// sender otherwise.
func initMailer(cfg *config.Config, logger *slog.Logger) mailer.Sender {
	if cfg.Email.Enabled {
		logger.Info("email delivery enabled", "smtp_addr", cfg.Email.SMTPAddr, "from", cfg.Email.From)
		return mailer.NewSMTPSender(cfg.Email.SMTPAddr, cfg.Email.From, cfg.Email.Username, cfg.Email.Password)
	}
	logger.Info("email delivery disabled, admission notices go to the log")
	return mailer.NewLogSender(logger)
}

// initPaymentProvider returns the checkout provider, or nil when no payment
// endpoint is configured. Without a provider every paid admission request
// fails; free gatherings are unaffected.
func initPaymentProvider(cfg *config.Config, logger *slog.Logger) payment.Provider {
	if cfg.Payment.Endpoint == "" {
		logger.Warn("no payment endpoint configured - paid gatherings will reject admission requests")
		return nil
	}
	logger.Info("payment provider configured", "endpoint", cfg.Payment.Endpoint)
	return payment.NewHTTPProvider(cfg.Payment.Endpoint, cfg.Payment.APIKey, cfg.Payment.ConfirmURL)
}

// registerAPIRoutes registers API and WebSocket routes on the mux, wrapped in
// auth middleware when a JWT secret is configured.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) error {
	routes := map[string]http.Handler{
		"/api/admission/request":  http.HandlerFunc(g.handleAdmissionRequest),
		"/api/gate/validate":      http.HandlerFunc(g.handleGateValidate),
		"/api/gatherings":         http.HandlerFunc(g.handleCreateGathering),
		"/api/gatherings/":        http.HandlerFunc(g.handleGatheringRoutes),
		"/api/participants":       http.HandlerFunc(g.handleCreateParticipant),
		"/api/participants/":      http.HandlerFunc(g.handleGetParticipant),
		"/api/notifications":      http.HandlerFunc(g.handleListNotifications),
		"/api/notifications/read": http.HandlerFunc(g.handleMarkNotificationsRead),
		"/ws":                     g.wsHandler,
	}

	// The payment provider redirects the buyer's browser back here with only
	// query parameters; there is no bearer token on that request. The confirm
	// endpoint therefore stays outside the auth middleware.
	mux.HandleFunc("/api/admission/confirm", g.handleAdmissionConfirm)

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
		middleware := auth.Middleware(verifier)
		for pattern, handler := range routes {
			mux.Handle(pattern, middleware(handler))
		}
		logger.Info("HTTP auth middleware enabled")
		return nil
	}

	for pattern, handler := range routes {
		mux.Handle(pattern, handler)
	}
	logger.Warn("HTTP auth disabled - no jwt_secret configured")
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	notifier := notify.NewService(s, logger)
	mail := initMailer(cfg, logger)
	provider := initPaymentProvider(cfg, logger)

	roomHub := room.NewHub(logger)
	rooms := room.NewService(s, roomHub, logger)

	gw := &Gateway{
		config:      cfg,
		store:       s,
		coordinator: admission.NewCoordinator(s, notifier, mail, provider, logger),
		validator:   gate.NewValidator(s, logger),
		notifier:    notifier,
		rooms:       rooms,
		roomHub:     roomHub,
		wsHandler:   room.NewWSHandler(rooms, s, logger),
		logger:      logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	if err := gw.registerAPIRoutes(mux, cfg, logger); err != nil {
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "gather-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	g.roomHub.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
