// Package connect opens a store.Database for one of the supported engines and
// recognises their duplicate-key errors.
package connect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/internal/logger"
	"github.com/conduit-lang/docmap/pkg/odm/store"
	"github.com/conduit-lang/docmap/pkg/odm/store/memory"
	"github.com/conduit-lang/docmap/pkg/odm/store/mongodb"
	"github.com/conduit-lang/docmap/pkg/odm/store/redisdoc"
	"github.com/conduit-lang/docmap/pkg/odm/store/sqldoc"
)

// Supported drivers
const (
	DriverMemory   = "memory"
	DriverMongoDB  = "mongodb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// DefaultRedisPrefix namespaces redis keys when no prefix is configured
const DefaultRedisPrefix = "docmap"

// ErrUnknownDriver is returned for a driver name outside the supported set
var ErrUnknownDriver = errors.New("unknown store driver")

// Drivers lists the accepted driver names
func Drivers() []string {
	return []string{DriverMemory, DriverMongoDB, DriverSQLite, DriverPostgres, DriverRedis}
}

// Options selects and addresses an engine
type Options struct {
	Driver string
	// URL is the connection string; ignored by the memory driver
	URL string
	// Database overrides the database named in a MongoDB URL
	Database    string
	RedisPrefix string
	Logger      *zap.Logger
}

// Open connects to the engine named by opts.Driver and verifies the connection
func Open(ctx context.Context, opts Options) (store.Database, error) {
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}
	log = log.With(zap.String("driver", opts.Driver))

	var (
		db  store.Database
		err error
	)
	switch opts.Driver {
	case DriverMemory, "":
		db = memory.New()
	case DriverMongoDB:
		db, err = mongodb.Connect(ctx, opts.URL, opts.Database)
	case DriverSQLite, DriverPostgres:
		db, err = openSQL(ctx, opts)
	case DriverRedis:
		db, err = openRedis(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		return nil, err
	}
	log.Info("store opened")
	return db, nil
}

func openSQL(ctx context.Context, opts Options) (store.Database, error) {
	dialect, err := sqldoc.DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.DriverName(), opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", opts.Driver, err)
	}
	if dialect.Name() == DriverSQLite && strings.Contains(opts.URL, ":memory:") {
		// every pooled connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", opts.Driver, err)
	}
	return sqldoc.New(db, dialect), nil
}

func openRedis(ctx context.Context, opts Options) (store.Database, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	prefix := opts.RedisPrefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return redisdoc.New(client, prefix), nil
}

// IsDuplicateKey reports whether err is a unique index violation raised by any
// supported engine. The error itself is never rewritten.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if store.IsDuplicateKey(err) || mongo.IsDuplicateKeyError(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
