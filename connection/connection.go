// Package connection resolves named database connections from configuration
// and memoizes one handle per name.
package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lib/pq"

	"github.com/satishbabariya/recordkit/config"
	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/internal/debug"
	"github.com/satishbabariya/recordkit/introspect"
	"github.com/satishbabariya/recordkit/query/executor"
	"github.com/satishbabariya/recordkit/runtime"
	"github.com/satishbabariya/recordkit/telemetry"
)

// Handle is an open, verified connection
type Handle struct {
	Name          string
	Kind          dialect.Kind
	Dialect       dialect.Dialect
	DB            *sql.DB
	Executor      *executor.Executor
	Schema        *introspect.Cache
	ServerVersion string
}

// Opener opens a database handle for a driver name and DSN
type Opener func(driverName, dsn string) (*sql.DB, error)

// Provider resolves and caches named connections
type Provider struct {
	cfg          config.DatabaseConfig
	open         Opener
	logger       *slog.Logger
	recorder     telemetry.Recorder
	versionCheck bool

	mu      sync.Mutex
	handles map[string]*Handle
}

// Option configures a Provider
type Option func(*Provider)

// WithOpener replaces the function used to open handles
func WithOpener(open Opener) Option {
	return func(p *Provider) { p.open = open }
}

// WithLogger sets the provider and executor logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithRecorder sets the telemetry recorder handed to every executor
func WithRecorder(r telemetry.Recorder) Option {
	return func(p *Provider) { p.recorder = r }
}

// WithVersionCheck enables the server version check on first connect
func WithVersionCheck(enabled bool) Option {
	return func(p *Provider) { p.versionCheck = enabled }
}

// NewProvider creates a Provider over a static connection map
func NewProvider(cfg config.DatabaseConfig, opts ...Option) *Provider {
	p := &Provider{
		cfg:      cfg,
		open:     defaultOpener,
		recorder: telemetry.Nop{},
		handles:  make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = debug.Or(p.logger)
	return p
}

func defaultOpener(driverName, dsn string) (*sql.DB, error) {
	if driverName == "postgres" {
		connector, err := pq.NewConnector(dsn)
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	}
	return sql.Open(driverName, dsn)
}

// Default returns the name of the default connection
func (p *Provider) Default() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Default
}

// Names returns every configured connection name
func (p *Provider) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Names()
}

// resolve maps an empty name to the default connection; p.mu must be held
func (p *Provider) resolve(name string) (string, config.ConnectionConfig, error) {
	if name == "" {
		name = p.cfg.Default
	}
	cc, ok := p.cfg.Connections[name]
	if !ok {
		return name, cc, runtime.NewConnectionError(name, errors.New("connection is not configured"))
	}
	return name, cc, nil
}

// DriverKind returns the dialect of a configured connection without opening it
func (p *Provider) DriverKind(name string) (dialect.Kind, error) {
	p.mu.Lock()
	name, cc, err := p.resolve(name)
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	kind, err := cc.Kind()
	if err != nil {
		return "", runtime.NewConnectionError(name, err)
	}
	return kind, nil
}

// Connection returns the cached handle for name, connecting on first use.
// An empty name selects the default connection.
func (p *Provider) Connection(ctx context.Context, name string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name, cc, err := p.resolve(name)
	if err != nil {
		return nil, err
	}

	if h, ok := p.handles[name]; ok {
		return h, nil
	}
	h, err := p.connect(ctx, name, cc)
	if err != nil {
		return nil, err
	}
	p.handles[name] = h
	return h, nil
}

func (p *Provider) connect(ctx context.Context, name string, cc config.ConnectionConfig) (*Handle, error) {
	kind, err := cc.Kind()
	if err != nil {
		return nil, runtime.NewConnectionError(name, err)
	}
	d, err := dialect.New(kind)
	if err != nil {
		return nil, runtime.NewConnectionError(name, err)
	}
	dsn, err := BuildDSN(kind, cc)
	if err != nil {
		return nil, runtime.NewConnectionError(name, err)
	}

	db, err := p.open(d.DriverName(), dsn)
	if err != nil {
		return nil, runtime.NewConnectionError(name, err)
	}
	applyPool(db, kind, cc)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, runtime.NewConnectionError(name, err)
	}

	inspector, err := introspect.New(kind, cc.Schema)
	if err != nil {
		db.Close()
		return nil, runtime.NewConnectionError(name, err)
	}

	logger := p.logger.With("connection", name)
	h := &Handle{
		Name:     name,
		Kind:     kind,
		Dialect:  d,
		DB:       db,
		Executor: executor.New(db, d, executor.WithLogger(logger), executor.WithRecorder(p.recorder)),
		Schema:   introspect.NewCache(inspector),
	}

	if p.versionCheck {
		h.ServerVersion = p.checkVersion(ctx, db, kind, logger)
	}
	logger.Debug("connected", "driver", kind, "version", h.ServerVersion)
	return h, nil
}

func applyPool(db *sql.DB, kind dialect.Kind, cc config.ConnectionConfig) {
	if kind == dialect.SQLite {
		// one writer; also keeps a :memory: database alive across calls
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	if cc.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cc.MaxOpenConns)
	}
	if cc.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cc.MaxIdleConns)
	}
	if cc.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cc.ConnMaxLifetime)
	}
}

// Disconnect closes and forgets one cached handle. Unknown or unopened names
// are a no-op.
func (p *Provider) Disconnect(name string) error {
	p.mu.Lock()
	if name == "" {
		name = p.cfg.Default
	}
	h, ok := p.handles[name]
	delete(p.handles, name)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	if err := h.DB.Close(); err != nil {
		return fmt.Errorf("close connection %s: %w", name, err)
	}
	return nil
}

// DisconnectAll closes every cached handle
func (p *Provider) DisconnectAll() error {
	p.mu.Lock()
	handles := p.handles
	p.handles = make(map[string]*Handle)
	p.mu.Unlock()

	names := make([]string, 0, len(handles))
	for name := range handles {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := handles[name].DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Reconfigure swaps the connection map and closes every open handle
func (p *Provider) Reconfigure(cfg config.DatabaseConfig) error {
	err := p.DisconnectAll()
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return err
}
