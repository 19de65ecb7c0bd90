// ABOUTME: Gateway assembly and HTTP server lifecycle
// ABOUTME: Wires stores, limiters, adapters, and the orchestrator; serves over TCP or tsnet

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

	"github.com/redis/go-redis/v9"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/glimpse-gateway/internal/audio"
	"github.com/2389/glimpse-gateway/internal/auth"
	"github.com/2389/glimpse-gateway/internal/config"
	"github.com/2389/glimpse-gateway/internal/conversation"
	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/mcp"
	"github.com/2389/glimpse-gateway/internal/ratelimit"
	sfactory "github.com/2389/glimpse-gateway/internal/speech/factory"
	"github.com/2389/glimpse-gateway/internal/store"
	"github.com/2389/glimpse-gateway/internal/vision"
	vfactory "github.com/2389/glimpse-gateway/internal/vision/factory"
)

// Gateway assembles every component behind the HTTP surface and owns the
// server lifecycle.
type Gateway struct {
	cfg           *config.Config
	logger        *slog.Logger
	orchestrator  *Orchestrator
	events        *Events
	catalog       *vision.Catalog
	providers     *vfactory.Factory
	conversations conversation.Store
	audio         *audio.Manager
	usage         store.Store
	addrLimiter   *ratelimit.Limiter
	credLimiter   *ratelimit.Limiter
	httpServer    *http.Server
	tsnetServer   *tsnet.Server
	mcpServer     *mcp.Server
}

// initUsageStore opens the SQLite ledger, or a no-op store when no path is
// configured.
func initUsageStore(cfg *config.Config) (store.Store, error) {
	if cfg.Usage.Path == "" {
		return store.NopStore{}, nil
	}
	s, err := store.NewSQLiteStore(cfg.Usage.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing usage ledger: %w", err)
	}
	return s, nil
}

// initConversationStore builds the configured conversation backend.
func initConversationStore(cfg *config.Config) (conversation.Store, error) {
	cc := cfg.Conversations
	switch cc.Store {
	case "", "memory":
		return conversation.NewMemoryStore(cc.TTL, cc.MaxTurns, cc.SweepInterval), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		return conversation.NewRedisStore(client, cc.TTL, cc.MaxTurns), nil
	default:
		return nil, fmt.Errorf("unknown conversation store %q (expected memory or redis)", cc.Store)
	}
}

// New creates a Gateway from configuration. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	usage, err := initUsageStore(cfg)
	if err != nil {
		return nil, err
	}

	conversations, err := initConversationStore(cfg)
	if err != nil {
		return nil, err
	}

	blob, err := audio.NewFSBlob(cfg.Audio.Dir)
	if err != nil {
		return nil, err
	}
	audioMgr := audio.NewManager(blob, cfg.Audio.BaseURL, cfg.Audio.Expiration, cfg.Audio.SweepInterval, logger)

	synthesizer, err := sfactory.New(cfg.Speech, logger)
	if err != nil {
		return nil, err
	}

	catalog, err := vision.LoadCatalog(cfg.Providers.CatalogPath)
	if err != nil {
		return nil, err
	}

	providers := vfactory.New(cfg.Providers)
	events := NewEvents(logger)

	gw := &Gateway{
		cfg:           cfg,
		logger:        logger.With("component", "gateway"),
		events:        events,
		catalog:       catalog,
		providers:     providers,
		conversations: conversations,
		audio:         audioMgr,
		usage:         usage,
		addrLimiter:   ratelimit.New(cfg.Limits.PerAddress, cfg.Limits.Window, cfg.Limits.SweepInterval),
		credLimiter:   ratelimit.New(cfg.Limits.PerCredential, cfg.Limits.Window, cfg.Limits.SweepInterval),
	}

	gw.orchestrator = NewOrchestrator(OrchestratorConfig{
		Providers:     providers,
		Synthesizer:   synthesizer,
		Conversations: conversations,
		Audio:         audioMgr,
		Usage:         usage,
		Events:        events,
		ModelTimeout:  cfg.Providers.Timeout,
		SpeechTimeout: cfg.Speech.Timeout,
		Logger:        logger,
	})

	if cfg.MCP.Enabled {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Describe:   gw.mcpDescribe,
			ListModels: gw.mcpListModels,
			Logger:     logger.With("component", "mcp"),
		})
		if err != nil {
			return nil, fmt.Errorf("initializing MCP server: %w", err)
		}
		gw.mcpServer = mcpServer
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the full handler chain. Health and audio endpoints are
// public; everything under /api/v1 and /mcp sits behind bearer auth.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", g.handleHealthz)
	mux.HandleFunc("/readyz", g.handleReadyz)
	mux.HandleFunc("/audio/", g.handleAudio)

	var verifier auth.TokenVerifier
	if g.cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(g.cfg.Auth.JWTSecret))
	}
	keys := auth.NewKeyStore(keyEntries(g.cfg.Auth.APIKeys))
	authMW := auth.Middleware(verifier, keys, g.cfg.Auth.Enabled, g.logger)
	if !g.cfg.Auth.Enabled {
		g.logger.Warn("auth disabled - all requests run as the dev principal")
	}

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/chat", g.handleChat)
	api.HandleFunc("/api/v1/models", g.handleModels)
	api.HandleFunc("/api/v1/test-connection", g.handleTestConnection)
	api.HandleFunc("/api/v1/limits", g.handleLimits)
	api.HandleFunc("/api/v1/usage", g.handleUsage)
	mux.Handle("/api/v1/", authMW(api))

	if g.mcpServer != nil {
		mux.Handle("/mcp", authMW(g.admitMiddleware(g.mcpServer)))
		g.logger.Info("MCP surface enabled at /mcp")
	}

	// Outermost first: the correlation id must exist before the recovery
	// and CORS layers run so every response and panic log carries it.
	var handler http.Handler = mux
	handler = corsMiddleware(handler)
	handler = recoveryMiddleware(g.logger)(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func keyEntries(keys []config.APIKeyConfig) []auth.KeyEntry {
	entries := make([]auth.KeyEntry, len(keys))
	for i, k := range keys {
		entries[i] = auth.KeyEntry{Name: k.Name, Hash: k.Hash}
	}
	return entries
}

// admitRequest runs both rate limiters for the caller; both must pass.
func (g *Gateway) admitRequest(r *http.Request) error {
	if allowed, _, retryAfter := g.addrLimiter.Admit(clientAddr(r)); !allowed {
		return fault.New(fault.KindRateLimited,
			"too many requests from this address", fault.WithRetryAfter(retryAfter))
	}
	if allowed, _, retryAfter := g.credLimiter.Admit(auth.CredentialID(r.Context())); !allowed {
		return fault.New(fault.KindRateLimited,
			"too many requests for this credential", fault.WithRetryAfter(retryAfter))
	}
	return nil
}

// admitMiddleware meters MCP tool calls with the same limiters as the REST
// chat surface. GETs open event streams and stay free.
func (g *Gateway) admitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := g.admitRequest(r); err != nil {
				g.writeFault(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// mcpDescribe backs the describe_image MCP tool with the same pipeline the
// REST surface uses.
func (g *Gateway) mcpDescribe(ctx context.Context, req mcp.DescribeRequest) (*mcp.DescribeResult, error) {
	img, err := decodeImage(req.ImageBase64, g.cfg.Images.MaxBytes)
	if err != nil {
		return nil, err
	}

	result, err := g.orchestrator.Describe(ctx, ChatRequest{
		Provider:       req.Provider,
		Image:          img,
		Prompt:         req.Prompt,
		ConversationID: req.ConversationID,
		RequestID:      RequestIDFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	return &mcp.DescribeResult{
		Text:           result.Text,
		ConversationID: result.ConversationID,
		Model:          result.Model,
	}, nil
}

// mcpListModels backs the list_models MCP tool from the catalog.
func (g *Gateway) mcpListModels(ctx context.Context) []mcp.ModelEntry {
	models := g.catalog.Models()
	out := make([]mcp.ModelEntry, 0, len(models))
	for _, m := range models {
		out = append(out, mcp.ModelEntry{
			ID:          m.ID,
			Name:        m.DisplayName,
			Provider:    m.Provider,
			Description: m.Description,
			Default:     m.Default,
		})
	}
	return out
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(listener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.cfg.Tailscale.Enabled {
		if g.cfg.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.cfg.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.cfg.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
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
	return filepath.Join(homeDir, ".local", "share", "glimpse-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and returns its listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.cfg.Tailscale

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

	return g.createTailscaleHTTPListener(tsCfg)
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

// createTailscaleHTTPListener creates the appropriate listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
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

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.addrLimiter.Close()
	g.credLimiter.Close()
	g.audio.Close()
	errs = appendCloseError(errs, "conversation store close", g.conversations.Close())
	errs = appendCloseError(errs, "usage ledger close", g.usage.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
