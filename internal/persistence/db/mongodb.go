package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	RoomsCollection = "rooms"

	DefaultDatabase          = "roomsync"
	DefaultConnectionTimeout = 20 * time.Second

	disconnectTimeout = 10 * time.Second
)

type MongoConfig struct {
	URI               string        `koanf:"uri"`
	Database          string        `koanf:"database"`
	ConnectionTimeout time.Duration `koanf:"connection_timeout"`
}

func (c *MongoConfig) validate() error {
	switch {
	case c == nil:
		return errors.New("mongodb config is required")
	case c.URI == "":
		return errors.New("mongodb URI is required")
	case c.Database == "":
		return errors.New("mongodb database is required")
	}
	return nil
}

// Mongo is a connected client bound to the configured room database.
type Mongo struct {
	client *mongo.Client
	cfg    MongoConfig
	logger logging.Logger
}

// OpenMongo connects and pings the primary before returning, so a bad URI
// fails at startup rather than on the first room write.
func OpenMongo(ctx context.Context, cfg *MongoConfig, logger logging.Logger) (*Mongo, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	settings := *cfg
	if settings.ConnectionTimeout <= 0 {
		settings.ConnectionTimeout = DefaultConnectionTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, settings.ConnectionTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(settings.URI).
		SetServerSelectionTimeout(settings.ConnectionTimeout).
		SetConnectTimeout(settings.ConnectionTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	m := &Mongo{client: client, cfg: settings, logger: logger}
	if err := m.Ping(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		logger.Error(logging.MongoDB, logging.Startup, "mongodb unreachable", map[logging.ExtraKey]any{
			logging.Database:     settings.Database,
			logging.ErrorMessage: err.Error(),
		})
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info(logging.MongoDB, logging.Startup, "connected to mongodb", map[logging.ExtraKey]any{
		logging.Database: settings.Database,
	})
	return m, nil
}

func (m *Mongo) Database() *mongo.Database {
	return m.client.Database(m.cfg.Database)
}

// Ping is the store's health check.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Warn(logging.MongoDB, logging.Shutdown, "mongodb disconnect failed", map[logging.ExtraKey]any{
			logging.Database:     m.cfg.Database,
			logging.ErrorMessage: err.Error(),
		})
		return fmt.Errorf("disconnect mongodb: %w", err)
	}

	m.logger.Info(logging.MongoDB, logging.Shutdown, "disconnected from mongodb", map[logging.ExtraKey]any{
		logging.Database: m.cfg.Database,
	})
	return nil
}
