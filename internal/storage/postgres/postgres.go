// Package postgres implements the storage.Backend interface on
// PostgreSQL/PostGIS through the shared GORM backend.
package postgres

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/database"
	gormstorage "github.com/linetrace/simulator/internal/storage/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
// DB may be injected; otherwise Init connects using Config.
type Dependencies struct {
	DB     *gorm.DB
	Config config.DBConfig
	Logger *slog.Logger
}

// Backend wraps the GORM backend with Postgres connection handling.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init connects if needed, runs schema migration and starts the DB writer.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		var err error
		db, err = database.GetPostgresDB(b.deps.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.Logger.Info("Connected to database", "host", b.deps.Config.Host, "database", b.deps.Config.Database)
	}

	if err := database.Setup(db, b.deps.Logger); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:     db,
		Logger: b.deps.Logger,
	})
	return b.Backend.Init()
}

// Close stops the writer and flushes what is left.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
