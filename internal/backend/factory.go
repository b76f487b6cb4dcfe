// Package backend wires a session from configuration: the gateway adapter,
// the optional SQLite side store and the optional AMQP change stream.
package backend

import (
	"context"
	"errors"
	"fmt"

	"organizer/internal/amqp"
	"organizer/internal/cache"
	"organizer/internal/core"
	"organizer/internal/gateway"
	"organizer/internal/gateway/memory"
	"organizer/internal/gateway/rest"
	"organizer/internal/log"
	"organizer/internal/services"
	"organizer/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// Create implements Factory.Create
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	gw, closeGateway, err := f.createGateway(config)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeGateway)

	result := &Result{Gateway: gw}
	var snapshots services.SnapshotStore
	if config.SQLiteDBPath != "" {
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger.Logger)
		if err != nil {
			_ = cleanup(ctx)
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		closers = append(closers, func(context.Context) error { return repo.Close() })
		result.Snapshots = repo
		snapshots = repo
		f.logger.Info("Initialized SQLite side store", "db_path", config.SQLiteDBPath)
	}

	// AMQP is optional: without it the session simply does not hear about
	// other clients.
	var publisher services.Publisher
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger.Logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without change notifications", log.FieldError, err)
		} else {
			closers = append(closers, func(context.Context) error { return client.Close() })
			result.AMQP = client
			publisher = client
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	sessionConfig := config.Session
	sessionConfig.Logger = f.logger
	result.Session = services.NewSession(gw, snapshots, publisher, sessionConfig)
	closers = append(closers, result.Session.Close)
	result.Cleanup = cleanup

	f.logger.Info("Session ready",
		"gateway", config.Gateway,
		"snapshots", result.Snapshots != nil,
		"amqp_enabled", result.AMQP != nil)
	return result, nil
}

func (f *DefaultFactory) createGateway(config Config) (gateway.Gateway, func(context.Context) error, error) {
	switch config.Gateway {
	case RESTGateway:
		return f.createRESTGateway(config)
	case MemoryGateway:
		return f.createMemoryGateway(config)
	default:
		return nil, nil, fmt.Errorf("unsupported gateway type: %s", config.Gateway)
	}
}

func (f *DefaultFactory) createRESTGateway(config Config) (gateway.Gateway, func(context.Context) error, error) {
	manager := cache.NewManager(f.logger.Logger)
	var lists cache.Cache[[]core.Entity]
	if config.ListCacheTTL > 0 {
		lru := cache.NewLRUCache[[]core.Entity](config.ListCacheSize, config.ListCacheTTL)
		manager.Register(lru)
		manager.StartCleanup(config.ListCacheTTL)
		lists = lru
	}

	client, err := rest.New(rest.Config{
		BaseURL:   config.GatewayURL,
		Token:     rest.StaticToken(config.GatewayToken),
		Timeout:   config.GatewayTimeout,
		ListCache: lists,
		Logger:    f.logger,
	})
	if err != nil {
		manager.Stop()
		return nil, nil, fmt.Errorf("failed to initialize REST gateway: %w", err)
	}

	f.logger.Info("Initialized REST gateway",
		"url", config.GatewayURL,
		"list_cache", lists != nil)

	return client, func(context.Context) error {
		manager.Stop()
		return nil
	}, nil
}

func (f *DefaultFactory) createMemoryGateway(config Config) (gateway.Gateway, func(context.Context) error, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}

	store := memory.NewFromFiles(dataDir)

	f.logger.Info("Initialized memory gateway", "data_directory", dataDir)

	return store, func(context.Context) error { return nil }, nil
}
