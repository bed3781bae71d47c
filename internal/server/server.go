package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"docgate/internal/identity"
	"docgate/internal/template"
	"docgate/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultAPITimeout is the timeout for document API calls made by tools.
	DefaultAPITimeout = 30 * time.Second
)

// Transport names accepted by Config.Transport.
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportBoth           = "both"
)

// Tokens resolves the upstream token for the identity carried by ctx.
type Tokens interface {
	Token(ctx context.Context) (string, error)
	TenantMode() bool
}

// Gateway is the OAuth surface mounted next to the transports.
type Gateway interface {
	Routes(r chi.Router)
	BaseURL(r *http.Request) string
	ResourceMetadataURL(r *http.Request) string
}

// Observer receives HTTP and session metrics.
type Observer interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
	SetSessions(n int)
}

// Config holds the listener and tool settings.
type Config struct {
	Host      string
	Port      int
	Transport string

	// APIBaseURL is the document API the docs_request tool talks to.
	APIBaseURL string

	// Provider is shown in authorization messages.
	Provider string

	Name    string
	Version string

	// HTTPClient is used for document API calls.
	HTTPClient *http.Client
}

// Server is the HTTP front of docgate.
type Server struct {
	cfg      Config
	tokens   Tokens
	gateway  Gateway
	sessions *identity.Registry
	observer Observer
	messages *template.Engine
	client   *http.Client
	apiBase  *url.URL

	mcp     *mcpserver.MCPServer
	handler http.Handler
}

// New builds the MCP server, its tools and the HTTP router.
func New(cfg Config, tokens Tokens, gw Gateway, sessions *identity.Registry, obs Observer) (*Server, error) {
	if cfg.Transport == "" {
		cfg.Transport = TransportBoth
	}
	switch cfg.Transport {
	case TransportStreamableHTTP, TransportSSE, TransportBoth:
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	if cfg.Name == "" {
		cfg.Name = "docgate"
	}
	if cfg.Provider == "" {
		cfg.Provider = "docs"
	}

	apiBase, err := url.Parse(cfg.APIBaseURL)
	if err != nil || !apiBase.IsAbs() {
		return nil, fmt.Errorf("invalid document API base URL %q", cfg.APIBaseURL)
	}

	messages, err := template.New()
	if err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultAPITimeout}
	}

	s := &Server{
		cfg:      cfg,
		tokens:   tokens,
		gateway:  gw,
		sessions: sessions,
		observer: obs,
		messages: messages,
		client:   client,
		apiBase:  apiBase,
	}

	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(s.onRegisterSession)
	hooks.AddOnUnregisterSession(s.onUnregisterSession)

	s.mcp = mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithHooks(hooks),
	)
	s.registerTools()
	s.handler = s.routes()

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observer.Middleware)
	r.Use(s.withIdentity)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", s.observer.Handler())

	s.gateway.Routes(r)

	if s.cfg.Transport != TransportSSE {
		streamable := mcpserver.NewStreamableHTTPServer(s.mcp,
			mcpserver.WithHTTPContextFunc(s.streamableContext),
		)
		r.With(s.requireToken).Handle("/mcp", streamable)
		logging.Info("Server", "Mounted streamable HTTP transport at /mcp")
	}

	if s.cfg.Transport != TransportStreamableHTTP {
		sse := mcpserver.NewSSEServer(s.mcp,
			mcpserver.WithSSEEndpoint("/sse"),
			mcpserver.WithMessageEndpoint("/message"),
			mcpserver.WithUseFullURLForMessageEndpoint(false),
			mcpserver.WithKeepAlive(true),
			mcpserver.WithKeepAliveInterval(30*time.Second),
			mcpserver.WithSSEContextFunc(s.sseContext),
		)
		r.With(markSSEStream).Handle("/sse", sse.SSEHandler())
		r.Handle("/message", sse.MessageHandler())
		logging.Info("Server", "Mounted SSE transport at /sse and /message")
	}

	return r
}

// Run serves until ctx is cancelled. ready is called once the listener is bound.
func (s *Server) Run(ctx context.Context, ready func()) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}

	// Streams opened on /sse only end when their request context does.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	logging.Info("Server", "Listening on %s (transport %s)", ln.Addr(), s.cfg.Transport)
	if ready != nil {
		ready()
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	logging.Info("Server", "Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
