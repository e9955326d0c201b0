package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/config"
	"github.com/mcdev12/tracksync/go/internal/sync/roomstore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setupStore(cfg config.Config) (roomstore.Store, io.Closer, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		log.Info().Msg("room store: memory")
		return roomstore.NewMemoryStore(), nopCloser{}, nil

	case config.StoreSQLite:
		store, err := roomstore.OpenSQLite(cfg.StorePath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite room store: %w", err)
		}
		log.Info().Str("path", cfg.StorePath()).Msg("room store: sqlite")
		return store, store, nil

	default:
		store, err := roomstore.NewFileStore(cfg.StorePath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file room store: %w", err)
		}
		log.Info().Str("path", cfg.StorePath()).Msg("room store: file")
		return store, nopCloser{}, nil
	}
}
