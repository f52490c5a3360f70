package main

import (
	"context"
	"fmt"

	"github.com/hilthontt/roomsync/internal/application/rooms"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/configs"
	"github.com/hilthontt/roomsync/internal/infrastructure/events"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/messaging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime/memory"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime/redistransport"
	memoryRepository "github.com/hilthontt/roomsync/internal/infrastructure/repository"
	"github.com/hilthontt/roomsync/internal/persistence/db"
	mongoRepository "github.com/hilthontt/roomsync/internal/persistence/repository"
	"github.com/hilthontt/roomsync/internal/presentation/handler/health"
	"github.com/redis/go-redis/v9"
)

func newRoomStore(ctx context.Context, cfg *configs.Config, logger logging.Logger, checks map[string]health.Check) (domain.RoomRepository, func(), error) {
	switch cfg.RoomStore.Driver {
	case "mongo":
		store, err := db.OpenMongo(ctx, &cfg.Mongo, logger)
		if err != nil {
			return nil, nil, err
		}
		closer := func() { _ = store.Close(context.Background()) }

		repo := mongoRepository.NewRoomRepository(store.Database(), cfg.RoomStore.Retention)
		if err := repo.EnsureIndexes(ctx); err != nil {
			closer()
			return nil, nil, fmt.Errorf("room indexes: %w", err)
		}

		checks["mongo"] = store.Ping
		return repo, closer, nil
	default:
		return memoryRepository.NewRoomRepository(cfg.RoomStore.Capacity, cfg.RoomStore.IdleExpiry), func() {}, nil
	}
}

func newTransport(ctx context.Context, cfg *configs.Config, logger logging.Logger, m *metrics.Metrics, checks map[string]health.Check) (realtime.Transport, func(), error) {
	switch cfg.Realtime.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Realtime.RedisAddr,
			DB:   cfg.Realtime.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}

		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}

		transport := redistransport.New(client, redistransport.Config{
			Heartbeat:   cfg.Realtime.Heartbeat,
			PresenceTTL: cfg.Realtime.PresenceTTL,
		}, logger, redistransport.WithDropCounter(m.Dropped("redis")))
		return transport, func() { _ = client.Close() }, nil
	default:
		return memory.NewHub(memory.WithDropCounter(m.Dropped("memory"))), func() {}, nil
	}
}

// newPublisher connects the room lifecycle stream. The consumer logs every
// event back so the exchange bindings are exercised end to end.
func newPublisher(ctx context.Context, cfg *configs.Config, logger logging.Logger) (rooms.EventPublisher, func(), error) {
	if !cfg.Messaging.Enabled {
		return events.NopPublisher{}, func() {}, nil
	}

	rabbitmq, err := messaging.NewRabbitMQ(cfg.Messaging.URI, logger)
	if err != nil {
		return nil, nil, err
	}

	consumer := events.NewRoomConsumer(rabbitmq, logger)
	if err := consumer.Listen(ctx); err != nil {
		rabbitmq.Close()
		return nil, nil, err
	}

	return events.NewRoomPublisher(rabbitmq), rabbitmq.Close, nil
}
