package main

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/config"
	"github.com/mcdev12/tracksync/go/internal/sync/engine"
	"github.com/mcdev12/tracksync/go/internal/sync/roomstore"
	"github.com/mcdev12/tracksync/go/internal/sync/transport"
	"github.com/mcdev12/tracksync/go/internal/sync/transport/memtransport"
	"github.com/mcdev12/tracksync/go/internal/sync/transport/natstransport"
	"github.com/mcdev12/tracksync/go/internal/sync/transport/wstransport"
	"github.com/mcdev12/tracksync/go/internal/tracker/events"
	"github.com/mcdev12/tracksync/go/internal/viewer"
)

// DemoRoomID is the room hosted by the in-memory transport
const DemoRoomID = "demo"

type Services struct {
	Engine    *engine.Engine
	Viewer    *viewer.Service
	Registry  *prometheus.Registry
	RoomStore roomstore.Store
	Store     io.Closer
}

func setupServices(cfg config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Transport → Engine → Viewer

	store, storeCloser, err := setupStore(cfg)
	if err != nil {
		return nil, err
	}

	tr, err := setupTransport(cfg)
	if err != nil {
		_ = storeCloser.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := engine.NewPrometheusMetrics(cfg.MetricsNamespace, registry)
	if err != nil {
		_ = storeCloser.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		_ = storeCloser.Close()
		return nil, err
	}
	eng := engine.New(engineCfg, tr,
		engine.WithRoomStore(store),
		engine.WithMetrics(metrics),
	)

	return &Services{
		Engine:    eng,
		Viewer:    viewer.NewService(cfg.ViewerServiceConfig(), eng, registry),
		Registry:  registry,
		RoomStore: store,
		Store:     storeCloser,
	}, nil
}

func setupTransport(cfg config.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		tr, err := natstransport.New(cfg.NATSConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create nats transport: %w", err)
		}
		log.Info().Str("url", cfg.Transport.NATSURL).Msg("transport: nats")
		return tr, nil

	case config.TransportMemory:
		tr := memtransport.NewLoopback()
		if err := tr.Host(DemoRoomID).Publish(demoEncounter()); err != nil {
			return nil, fmt.Errorf("failed to seed demo room: %w", err)
		}
		log.Info().Str("room_id", DemoRoomID).Msg("transport: memory")
		return tr, nil

	default:
		tr, err := wstransport.New(cfg.WebSocketConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket transport: %w", err)
		}
		log.Info().Str("url", cfg.Transport.RelayURL).Msg("transport: websocket")
		return tr, nil
	}
}

func demoEncounter() events.RawStatePayload {
	name := func(s string) *string { return &s }
	num := func(n int) *int { return &n }
	return events.RawStatePayload{
		Round: 1,
		Rows: []events.RawCreatureRow{
			{Name: name("Aria"), Initiative: num(18), IsActive: true, HPWoundLevel: num(0)},
			{Name: name("Goblin Boss"), Initiative: num(14), HPWoundLevel: num(2),
				Conditions: []events.RawCondition{{Name: "Poisoned", Color: "green"}}},
			{Name: name("Goblin"), Initiative: num(9), HPWoundLevel: num(4)},
		},
	}
}
