package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jbweber/homelab/uplink/internal/logging"
	"github.com/jbweber/homelab/uplink/internal/migrations"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrConcurrentModification is returned when the store rejected a transaction because
	// another writer held the database.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrConstraintViolation is returned when a write broke a unique, foreign key or check
	// constraint of the schema.
	ErrConstraintViolation = errors.New("constraint violation")
)

// Options tunes the datastore.
type Options struct {
	InMemory     bool          // open a named in-memory database
	MaxRetries   int           // retries after ErrConcurrentModification, 0 for the default, negative for none
	RetryBackoff time.Duration // base delay between retries, multiplied by the attempt
	BusyTimeout  time.Duration
}

func (o *Options) withDefaults() Options {
	opts := Options{MaxRetries: 3, RetryBackoff: 20 * time.Millisecond, BusyTimeout: time.Second}
	if o == nil {
		return opts
	}
	opts.InMemory = o.InMemory
	if o.MaxRetries != 0 {
		opts.MaxRetries = max(o.MaxRetries, 0)
	}
	if o.RetryBackoff > 0 {
		opts.RetryBackoff = o.RetryBackoff
	}
	if o.BusyTimeout > 0 {
		opts.BusyTimeout = o.BusyTimeout
	}
	return opts
}

// Datastore is the transactional sqlite store of the topology.
type Datastore struct {
	DB *sql.DB

	maxRetries int
	backoff    time.Duration
}

// DSN builds the sqlite connection string for path. The driver applies the pragmas to every
// pooled connection. Transactions are started with BEGIN IMMEDIATE so that writers serialize
// at the start of a transaction rather than failing on lock upgrade.
func DSN(path string, opts *Options) string {
	o := opts.withDefaults()
	params := make(url.Values)
	params.Add("_txlock", "immediate")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.BusyTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "temp_store(MEMORY)")
	if o.InMemory {
		params.Add("mode", "memory")
		params.Add("cache", "shared")
	} else {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
		params.Add("_pragma", "cache_size(10000)")
		params.Add("_pragma", "mmap_size(268435456)")
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?" + params.Encode()
}

// New opens the database at path and runs all migrations.
func New(path string, opts *Options) (*Datastore, error) {
	db, err := sql.Open("sqlite", DSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts != nil && opts.InMemory {
		// a shared-cache memory database reports table locks instead of waiting on busy_timeout
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewWithDB(db, opts), nil
}

// NewWithDB wraps an already opened and migrated database.
func NewWithDB(db *sql.DB, opts *Options) *Datastore {
	o := opts.withDefaults()
	return &Datastore{
		DB:         db,
		maxRetries: o.MaxRetries,
		backoff:    o.RetryBackoff,
	}
}

// Migrate runs all pending schema migrations.
func Migrate(db *sql.DB) error {
	migrator := migrations.NewMigrator(db)
	for _, migration := range migrations.All() {
		migrator.AddMigration(migration)
	}
	if err := migrator.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (ds *Datastore) Close() error {
	return ds.DB.Close()
}

// Tx is a transaction of the datastore. Functions registered with AfterCommit run once the
// transaction has been committed, and never if it rolls back.
type Tx struct {
	*sql.Tx
	hooks []func()
}

// AfterCommit registers fn to run after a successful commit, in registration order.
func (tx *Tx) AfterCommit(fn func()) {
	tx.hooks = append(tx.hooks, fn)
}

// Transact runs fn inside one transaction. Any error returned by fn rolls the transaction
// back. When the store reports a concurrent modification the whole of fn is run again, up to
// the configured number of retries, so fn must not leak state between attempts.
func (ds *Datastore) Transact(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	var err error
	for attempt := 0; attempt <= ds.maxRetries; attempt++ {
		if attempt > 0 {
			logging.WithField("attempt", attempt).Warnf("retrying transaction: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * ds.backoff):
			}
		}

		var hooks []func()
		hooks, err = ds.transactOnce(ctx, fn)
		if err == nil {
			for _, hook := range hooks {
				hook()
			}
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", ds.maxRetries+1, err)
}

func (ds *Datastore) transactOnce(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (hooks []func(), err error) {
	sqlTx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	tx := &Tx{Tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback() //nolint:errcheck // re-panicking
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Errorf("failed to roll back transaction: %v", rbErr)
			}
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return nil, Classify(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return nil, Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return tx.hooks, nil
}

// Classify maps sqlite driver errors onto ErrConcurrentModification and
// ErrConstraintViolation. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrConstraintViolation) {
		return err
	}
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
	case sqlite3.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}
	return err
}
