package main

import (
	"github.com/jaywantadh/ThreadByte/config"
	"github.com/jaywantadh/ThreadByte/internal/dfs"
	"github.com/jaywantadh/ThreadByte/internal/metadata"
	"github.com/jaywantadh/ThreadByte/internal/metrics"
	"github.com/jaywantadh/ThreadByte/internal/platform/discord"
	"github.com/jaywantadh/ThreadByte/internal/storage"
	"github.com/jaywantadh/ThreadByte/pkg/logging"
)

// services are the wired components shared by the commands.
type services struct {
	metrics *metrics.Metrics
	meta    *metadata.MetadataStore
	core    *dfs.DFSCore
}

// createServices opens the index and wires the platform client, the store
// and the service layer.
func createServices(cfg *config.AppConfig) (*services, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}

	client := discord.New(discord.Config{
		BaseURL:    cfg.APIBaseURL,
		Token:      cfg.Token,
		Timeout:    cfg.RequestTimeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     logging.Log,
	})

	m := metrics.New()
	store, err := storage.NewChannelStore(client, storage.Options{
		ChunkSize: cfg.ChunkSize,
		PageSize:  cfg.PageSize,
		Logger:    logging.Log,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}

	meta, err := metadata.OpenMetadataStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	dfsConfig := dfs.DefaultDFSConfig()
	dfsConfig.DownloadDir = cfg.DownloadDir
	core := dfs.NewDFSCore(dfsConfig, store, meta, logging.Log)

	return &services{metrics: m, meta: meta, core: core}, nil
}

func (s *services) Close() error {
	return s.meta.Close()
}

// openIndex opens only the metadata index, for commands that never talk to
// the platform.
func openIndex(cfg *config.AppConfig) (*metadata.MetadataStore, error) {
	return metadata.OpenMetadataStore(cfg.DBPath)
}
