package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/modelobserver/internal/adapters/events"
	"github.com/atvirokodosprendimai/modelobserver/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/modelobserver/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/modelobserver/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/modelobserver/internal/core/ports"
	"github.com/atvirokodosprendimai/modelobserver/internal/core/usecase"
	"github.com/atvirokodosprendimai/modelobserver/migrations"
	"github.com/atvirokodosprendimai/modelobserver/observer"
	"github.com/atvirokodosprendimai/modelobserver/observer/gormhost"
)

type Config struct {
	Addr     string
	DBPath   string
	Entities []string
	Logger   *zap.Logger

	ReportURL    string
	ReportSecret string
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Environment is a migrated and seeded league database with ledgers open on
// the requested entities.
type Environment struct {
	DB     *gormsqlite.DB
	Host   *gormhost.Host
	League *usecase.LeagueService
	Seeded usecase.League
	Set    *observer.LedgerSet
}

// Open prepares an Environment. Seeding happens before the ledgers open, so
// the ledgers start untouched. The returned closer unsubscribes the ledgers,
// releases the host and closes the database.
func Open(ctx context.Context, cfg Config) (*Environment, io.Closer, error) {
	logger := cfg.logger()

	types, err := resolveEntities(cfg.Entities)
	if err != nil {
		return nil, nil, err
	}

	db, err := gormsqlite.Open(cfg.DBPath, gormsqlite.WithLogger(logger.Named("sql")))
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	host, err := gormhost.New(db.W, gormhost.WithLogger(logger.Named("gormhost")))
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("observe database: %w", err)
	}

	league := usecase.NewLeagueService(sqliteadapter.NewLeagueRepository(db))
	seeded, err := usecase.SeedLeague(ctx, league)
	if err != nil {
		_ = host.Close()
		_ = db.Close()
		return nil, nil, err
	}

	set := observer.NewLedgerSet(host, observer.WithLogger(logger.Named("observer")))
	if err := set.Open(types...); err != nil {
		_ = host.Close()
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info("ledgers open", zap.String("scope_id", set.ID()), zap.Int("entities", set.Len()))

	env := &Environment{DB: db, Host: host, League: league, Seeded: seeded, Set: set}
	closer := resourceCloser{closers: []io.Closer{
		closerFunc(func() error { set.Close(); return nil }),
		host,
		db,
	}}
	return env, closer, nil
}

// RunScenario plays the exhibition against a fresh environment, publishes the
// ledger reports and returns them.
func RunScenario(ctx context.Context, cfg Config) ([]observer.Report, error) {
	env, closer, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			cfg.logger().Warn("close resources", zap.Error(closeErr))
		}
	}()

	if _, err := usecase.PlayExhibition(ctx, env.League, env.Seeded); err != nil {
		return nil, err
	}

	reports := env.Set.Reports()
	if err := publisher(cfg).Publish(ctx, env.Set.ID(), reports); err != nil {
		return reports, fmt.Errorf("publish reports: %w", err)
	}
	return reports, nil
}

func publisher(cfg Config) ports.ReportPublisher {
	if cfg.ReportURL != "" {
		return events.NewWebhookPublisher(cfg.ReportURL, cfg.ReportSecret, 10*time.Second)
	}
	return events.NewLogPublisher(cfg.logger().Named("reports"))
}

// NewServer plays the exhibition and serves the resulting ledgers.
func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	env, closer, err := Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if _, err := usecase.PlayExhibition(ctx, env.League, env.Seeded); err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	handler, err := httpapi.NewHandler(env.Set, cfg.logger().Named("http"))
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server, closer, nil
}

func resolveEntities(names []string) ([]observer.EntityType, error) {
	all := sqliteadapter.Entities()
	if len(names) == 0 {
		return all, nil
	}
	types := make([]observer.EntityType, 0, len(names))
	for _, name := range names {
		t, ok := observer.FindEntity(all, name)
		if !ok {
			return nil, fmt.Errorf("resolve entity %q: %w", name, observer.ErrUnknownEntityType)
		}
		types = append(types, t)
	}
	return types, nil
}
