// Package client wires configuration, connections, caching, statistics and
// entity descriptors into one entry point.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/afero"

	"github.com/satishbabariya/recordkit/activerecord"
	"github.com/satishbabariya/recordkit/config"
	"github.com/satishbabariya/recordkit/connection"
	"github.com/satishbabariya/recordkit/internal/debug"
	"github.com/satishbabariya/recordkit/query/cache"
	"github.com/satishbabariya/recordkit/telemetry"
)

// Client owns the connection provider and the shared count cache
type Client struct {
	mu        sync.RWMutex
	cfg       *config.Config
	logger    *slog.Logger
	stats     *telemetry.Stats
	provider  *connection.Provider
	counts    cache.Store
	registry  *activerecord.Registry
	observers []Observer
	actor     activerecord.ActorFunc
	fs        afero.Fs
	watcher   *config.Watcher
}

// Option configures a Client
type Option func(*Client)

// WithLogger overrides the logger built from the log configuration
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithActor sets the accessor for the current user written to audit columns
func WithActor(fn activerecord.ActorFunc) Option {
	return func(c *Client) { c.actor = fn }
}

// WithObserver adds a statement observer
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observers = append(c.observers, o) }
}

// WithFs sets the filesystem used by the file count cache
func WithFs(fs afero.Fs) Option {
	return func(c *Client) { c.fs = fs }
}

// WithDescriptors registers entity descriptors up front
func WithDescriptors(descriptors ...*activerecord.Descriptor) Option {
	return func(c *Client) {
		for _, d := range descriptors {
			c.registry.Register(d)
		}
	}
}

// New builds a Client from a validated configuration
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		registry: activerecord.NewRegistry(),
		fs:       config.AppFs,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = debug.Init(debug.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}

	c.stats = telemetry.NewStats(
		telemetry.WithSlowThreshold(cfg.Telemetry.SlowThreshold),
		telemetry.WithSlowQueryLog(c.logger),
	)

	store, err := newCountStore(c.fs, cfg.Cache, c.logger)
	if err != nil {
		return nil, err
	}
	c.counts = store

	c.provider = connection.NewProvider(cfg.Database,
		connection.WithLogger(c.logger),
		connection.WithRecorder(observed{stats: c.stats, client: c}),
	)
	return c, nil
}

// Open loads the configuration and builds a Client
func Open(loadOpts []config.Option, opts ...Option) (*Client, error) {
	cfg, err := config.Load(loadOpts...)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

func newCountStore(fs afero.Fs, cc config.CacheConfig, logger *slog.Logger) (cache.Store, error) {
	switch cc.Driver {
	case "", "memory":
		return cache.NewLRUCache(cc.MaxEntries), nil
	case "file":
		store, err := cache.NewFileStore(fs, cc.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open count cache: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported cache driver %q", cc.Driver)
}

// Config returns the active configuration
func (c *Client) Config() *config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Stats returns the statement statistics
func (c *Client) Stats() *telemetry.Stats { return c.stats }

// Provider returns the connection provider
func (c *Client) Provider() *connection.Provider { return c.provider }

// Registry returns the descriptor registry used for relations
func (c *Client) Registry() *activerecord.Registry { return c.registry }

// Register adds descriptors to the registry
func (c *Client) Register(descriptors ...*activerecord.Descriptor) {
	for _, d := range descriptors {
		c.registry.Register(d)
	}
}

// Connection opens or returns the named connection; empty means the default
func (c *Client) Connection(ctx context.Context, name string) (*connection.Handle, error) {
	return c.provider.Connection(ctx, name)
}

// Model binds desc to its connection. The descriptor is registered so other
// entities can load it as a relation.
func (c *Client) Model(ctx context.Context, desc *activerecord.Descriptor, opts ...activerecord.ModelOption) (*activerecord.Model, error) {
	conn, err := c.Connection(ctx, desc.Connection())
	if err != nil {
		return nil, err
	}
	if _, ok := c.registry.Lookup(desc.Table()); !ok {
		c.registry.Register(desc)
	}
	return activerecord.NewModel(desc, conn, append(c.modelOptions(), opts...)...), nil
}

func (c *Client) modelOptions() []activerecord.ModelOption {
	cfg := c.Config()
	opts := []activerecord.ModelOption{
		activerecord.WithRegistry(c.registry),
		activerecord.WithCountStore(c.counts, cfg.Cache.TTL),
		activerecord.WithPagination(cfg.Pagination.PerPage, cfg.Pagination.MaxPerPage),
		activerecord.WithLogger(c.logger),
	}
	if c.actor != nil {
		opts = append(opts, activerecord.WithActor(c.actor))
	}
	return opts
}

// Watch reloads the configuration from file whenever it changes. Connection
// settings, pagination and the slow threshold take effect; the cache backend
// and logger keep their startup values. A later call replaces the previous
// watcher.
func (c *Client) Watch(file string, opts ...config.Option) error {
	w, err := config.Watch(file, func(cfg *config.Config) {
		if err := c.Reload(cfg); err != nil {
			c.logger.Error("config reload failed", "error", err)
		}
	}, opts...)
	if err != nil {
		return err
	}
	c.mu.Lock()
	prev := c.watcher
	c.watcher = w
	c.mu.Unlock()
	if prev != nil {
		if err := prev.Stop(); err != nil {
			c.logger.Warn("failed to stop config watcher", "error", err)
		}
	}
	return nil
}

// Reload applies cfg. Open connections are closed and reopened lazily.
func (c *Client) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()

	c.stats.SetSlowThreshold(cfg.Telemetry.SlowThreshold)
	c.logger.Info("configuration reloaded", "connections", cfg.Database.Names())
	return c.provider.Reconfigure(cfg.Database)
}

// Close stops the watcher and closes every connection
func (c *Client) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w != nil {
		if err := w.Stop(); err != nil {
			c.logger.Warn("failed to stop config watcher", "error", err)
		}
	}
	return c.provider.DisconnectAll()
}
