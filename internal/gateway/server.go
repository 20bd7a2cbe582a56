// Package gateway serves the device and dashboard WebSocket channels and
// drives the per-connection handshake state machine.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
	"github.com/MuhammadArhumDev/Raidware/internal/metrics"
	"github.com/MuhammadArhumDev/Raidware/internal/registry"
	"github.com/MuhammadArhumDev/Raidware/internal/relay"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
)

const (
	maxFrameSize   = 64 << 10
	cleanupTimeout = 5 * time.Second
	eventTimeout   = 10 * time.Second
)

// Options wires the gateway's collaborators and limits.
type Options struct {
	Cache    cache.Cache
	Auth     *security.Authenticator
	KEX      *security.KeyExchange
	Registry *registry.Registry
	APIKeys  security.APIKeyVerifier
	Log      zerolog.Logger

	HandshakeTimeout       time.Duration
	WriteTimeout           time.Duration
	MaxPulseFailures       int
	RequireKeyConfirmation bool
	DashboardBuffer        int
}

// Server handles device and dashboard connections.
type Server struct {
	opts     Options
	cache    cache.Cache
	auth     *security.Authenticator
	kex      *security.KeyExchange
	registry *registry.Registry
	relay    *relay.Relay
	apiAuth  *security.AuthMiddleware
	conns    *connTable
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	closing  bool
	handlers sync.WaitGroup
}

// New creates a gateway server.
func New(opts Options) *Server {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.DashboardBuffer <= 0 {
		opts.DashboardBuffer = 64
	}

	log := opts.Log.With().Str("component", "gateway").Logger()
	conns := newConnTable()
	return &Server{
		opts:     opts,
		cache:    opts.Cache,
		auth:     opts.Auth,
		kex:      opts.KEX,
		registry: opts.Registry,
		relay:    relay.New(opts.Registry, conns, opts.Log),
		apiAuth:  security.NewAuthMiddleware(opts.APIKeys),
		conns:    conns,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices send no Origin header; dashboards are gated by API key.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Relay returns the message relay bound to this server's connections.
func (s *Server) Relay() *relay.Relay { return s.relay }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws/device", s.handleDevice).Methods(http.MethodGet)
	r.Handle("/ws/dashboard", s.apiAuth.Wrap(http.HandlerFunc(s.handleDashboard))).Methods(http.MethodGet)
	r.Handle("/api/devices", s.apiAuth.Wrap(http.HandlerFunc(s.handleListDevices))).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

// Close disconnects every device and waits for their cleanup to finish.
// Later device connections are refused. Dashboards end when their HTTP
// connections are torn down by the http.Server.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.conns.closeAll()
	s.handlers.Wait()
}

// track registers a device handler, or reports false once Close has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.handlers.Add(1)
	return true
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
