package gormsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB pairs a read-only pool with a single-connection writer over one file.
// The gorm callbacks of W see every write, so observers attach there.
type DB struct {
	R *gorm.DB
	W *gorm.DB
}

type Tx struct {
	*gorm.DB
}

type cbfn func(tx *Tx) error

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	return db.R.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	return db.W.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

func (db *DB) Close() error {
	return errors.Join(closeGORM(db.R), closeGORM(db.W))
}

type options struct {
	log           *zap.Logger
	slowThreshold time.Duration
}

type Option func(*options)

// WithLogger routes gorm's warnings and slow statements to l at debug level.
// Without it gorm stays silent.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		o.slowThreshold = d
	}
}

// zapWriter adapts a zap logger to gorm's logger.Writer.
type zapWriter struct {
	*zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.Debugf(format, args...)
}

func (o options) gormLogger() logger.Interface {
	if o.log == nil {
		return logger.Discard
	}
	return logger.New(zapWriter{o.log.Sugar()}, logger.Config{
		SlowThreshold:             o.slowThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})
}

// Open returns a reader pool sized to the CPU count and a writer pool holding
// one connection, both over file.
func Open(file string, opts ...Option) (*DB, error) {
	o := options{slowThreshold: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	gl := o.gormLogger()

	reader, err := openPool(buildDSN(file, true), runtime.NumCPU(), gl)
	if err != nil {
		return nil, fmt.Errorf("open read db: %w", err)
	}
	writer, err := openPool(buildDSN(file, false), 1, gl)
	if err != nil {
		_ = closeGORM(reader)
		return nil, fmt.Errorf("open write db: %w", err)
	}
	return &DB{R: reader, W: writer}, nil
}

func openPool(dsn string, conns int, gl logger.Interface) (*gorm.DB, error) {
	g, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		PrepareStmt: true,
		Logger:      gl,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)
	return g, nil
}

// buildDSN puts the pragmas in the DSN so the driver applies them to every
// pooled connection.
func buildDSN(file string, readOnly bool) string {
	queryOnly := "query_only(0)"
	if readOnly {
		queryOnly = "query_only(1)"
	}
	q := url.Values{}
	for _, p := range []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"trusted_schema(OFF)",
		queryOnly,
	} {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(file, "?") {
		sep = "&"
	}
	return file + sep + strings.NewReplacer("%28", "(", "%29", ")").Replace(q.Encode())
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
