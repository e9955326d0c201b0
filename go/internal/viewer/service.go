// Package viewer is the local UI boundary of the sync engine. It pushes every
// published snapshot to websocket viewers and accepts connect/disconnect
// intents over REST and the websocket.
package viewer

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/tracksync/go/internal/sync/engine"
)

// Session is the engine surface the viewer service needs
type Session interface {
	SessionController
	Subscribe() (<-chan engine.StateEvent, func())
}

// Service serves viewers and relays engine state to them
type Service struct {
	config            Config
	gatherer          prometheus.Gatherer
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler

	updates     <-chan engine.StateEvent
	unsubscribe func()
}

// Config holds configuration for the viewer service
type Config struct {
	Addr             string
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
	ShutdownTimeout  time.Duration
}

// DefaultConfig returns default configuration for the viewer service
func DefaultConfig() Config {
	return Config{
		Addr:             ":8090",
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"*"},
		ShutdownTimeout:  10 * time.Second,
	}
}

// NewService creates a viewer service and subscribes it to session. gatherer
// may be nil, in which case /metrics is not served.
func NewService(config Config, session Session, gatherer prometheus.Gatherer) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, intentHandler{session: session})
	updates, unsubscribe := session.Subscribe()

	return &Service{
		config:            config,
		gatherer:          gatherer,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, session),
		stateHandler:      NewStateHandler(session),
		updates:           updates,
		unsubscribe:       unsubscribe,
	}
}

// Start relays state events to viewers until ctx is cancelled or the engine
// stops publishing
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting viewer service")

	defer s.unsubscribe()

	managerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.connectionManager.Start(managerCtx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("viewer service shutting down")
			return nil
		case ev, ok := <-s.updates:
			if !ok {
				log.Info().Msg("engine stopped publishing, viewer service stopping")
				return nil
			}
			s.relay(ev)
		}
	}
}

func (s *Service) relay(ev engine.StateEvent) {
	events, err := eventsFor(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to convert state event")
		return
	}
	for _, event := range events {
		s.connectionManager.Broadcast(event)
	}
}

// RegisterRoutes registers the viewer HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	log.Info().Msg("viewer routes registered")
}

// Handler returns the full HTTP handler with CORS and h2c applied
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// NewHTTPServer returns a server for Handler on the configured address
func (s *Service) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:        s.config.Addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}

// GetStats returns statistics about the viewer service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
