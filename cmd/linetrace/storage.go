package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/linetrace/simulator/internal/api"
	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/storage"
	"github.com/linetrace/simulator/internal/storage/memory"
	pgstorage "github.com/linetrace/simulator/internal/storage/postgres"
	sqlitestorage "github.com/linetrace/simulator/internal/storage/sqlite"
	wsstorage "github.com/linetrace/simulator/internal/storage/websocket"
)

func createStorageBackend(storageCfg config.StorageConfig, start time.Time) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		Logger.Info("Postgres storage backend selected")
		return pgstorage.New(pgstorage.Dependencies{
			Config: config.GetDBConfig(),
			Logger: Logger,
		}), nil

	case "sqlite":
		dir := storageCfg.Memory.OutputDir
		if dir == "" {
			dir = "."
		}
		dumpPath := filepath.Join(dir, fmt.Sprintf("%s_%s.db", AppName, start.Format("20060102_150405")))
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
		}, Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend selected", "dumpPath", dumpPath)
		return backend, nil

	case "websocket":
		apiCfg := config.GetAPIConfig()
		wsURL := httpToWS(apiCfg.ServerURL) + "/api"
		Logger.Info("WebSocket storage backend selected", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: apiCfg.APIKey,
		}, Logger), nil

	case "memory", "":
		Logger.Info("Memory storage backend selected", "outputDir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}

// uploadExport sends the backend's exported file to the results server when
// uploads are enabled and the backend produced one.
func uploadExport(backend storage.Backend, apiCfg config.APIConfig) error {
	if !apiCfg.Upload {
		return nil
	}
	up, ok := backend.(storage.Uploadable)
	if !ok {
		Logger.Debug("Storage backend has nothing to upload")
		return nil
	}
	path := up.GetExportedFilePath()
	if path == "" {
		return nil
	}

	client := api.New(apiCfg.ServerURL, apiCfg.APIKey)
	if err := client.Healthcheck(); err != nil {
		return fmt.Errorf("results server unavailable: %w", err)
	}
	if err := client.Upload(path, up.GetExportMetadata()); err != nil {
		return err
	}
	Logger.Info("Uploaded run export", "path", path, "server", apiCfg.ServerURL)
	return nil
}
