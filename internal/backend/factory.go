package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pasanaco/internal/amqp"
	"pasanaco/internal/lock"
	"pasanaco/internal/log"
	"pasanaco/internal/services"
	"pasanaco/internal/storage"
	"pasanaco/internal/storage/memory"
)

// CleanupFunc releases what a backend holds.
type CleanupFunc func() error

// BackendResult is a ready settlement service and the cleanup that closes
// its store, lock client and publisher in reverse order of opening.
type BackendResult struct {
	Service *services.PasanacoService
	Cleanup CleanupFunc
}

type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend opens the store, then the optional Redis locker and AMQP
// publisher, and builds the settlement service on top of them.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var cleanups []CleanupFunc
	cleanup := func() error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	store, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, store.Close)

	opts := []services.Option{services.WithLogger(log.Default(log.ComponentSettlement))}

	if config.RedisAddr != "" {
		client, err := lock.Connect(ctx, config.RedisAddr)
		if err != nil {
			_ = cleanup()
			return nil, fmt.Errorf("failed to initialize redis locker: %w", err)
		}
		cleanups = append(cleanups, client.Close)
		opts = append(opts, services.WithLocker(lock.NewRedis(client, config.LockTTL)))
		f.logger.Info("Initialized Redis pool locks", "addr", config.RedisAddr, "ttl", config.LockTTL)
	}

	// AMQP is optional: unpublished events wait in the outbox for the relay.
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(ctx, config.AMQPURL, config.AMQPExchange, config.AMQPRoutingKey)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without publishing", "error", err)
		} else {
			cleanups = append(cleanups, client.Close)
			opts = append(opts, services.WithPublisher(client))
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"routing_key", config.AMQPRoutingKey)
		}
	}

	svc := services.NewPasanacoService(store, opts...)
	f.logger.Info("Initialized settlement backend",
		"backend", config.Type,
		"redis_locks", config.RedisAddr != "",
		"amqp_enabled", config.AMQPURL != "")

	return &BackendResult{
		Service: svc,
		Cleanup: cleanup,
	}, nil
}

func (f *DefaultFactory) createStore(config Config) (storage.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite store", "db_path", config.SQLiteDBPath)
		return repo, nil
	case MemoryBackend:
		f.logger.Warn("Using in-memory store, data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
