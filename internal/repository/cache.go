package repository

import (
	"context"
	"database/sql"
	"sync"
)

// PreparedStatementCache caches prepared statements of read paths that run outside a
// transaction, such as the API lookups.
type PreparedStatementCache struct {
	mu         sync.RWMutex
	statements map[string]*sql.Stmt
	db         *sql.DB
}

// NewPreparedStatementCache creates a new prepared statement cache
func NewPreparedStatementCache(db *sql.DB) *PreparedStatementCache {
	return &PreparedStatementCache{
		statements: make(map[string]*sql.Stmt),
		db:         db,
	}
}

// Get retrieves or creates a prepared statement
func (c *PreparedStatementCache) Get(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.RLock()
	if stmt, ok := c.statements[query]; ok {
		c.mu.RUnlock()
		return stmt, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if stmt, ok := c.statements[query]; ok {
		return stmt, nil
	}

	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	c.statements[query] = stmt
	return stmt, nil
}

// Close closes all prepared statements and clears the cache
func (c *PreparedStatementCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for _, stmt := range c.statements {
		if err := stmt.Close(); err != nil {
			lastErr = err
		}
	}

	c.statements = make(map[string]*sql.Stmt)
	return lastErr
}

// Clear removes a specific prepared statement from cache
func (c *PreparedStatementCache) Clear(query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stmt, ok := c.statements[query]; ok {
		delete(c.statements, query)
		return stmt.Close()
	}

	return nil
}

// Size returns the number of cached prepared statements
func (c *PreparedStatementCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statements)
}

// runner executes queries on db, through the statement cache when one is attached.
// A runner over a transaction never has a cache: statements prepared on the pool would need
// a second connection while the transaction holds one.
type runner struct {
	db    DBTX
	stmts *PreparedStatementCache
}

func (r runner) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if stmt := r.cached(ctx, query); stmt != nil {
		return stmt.ExecContext(ctx, args...)
	}
	return r.db.ExecContext(ctx, query, args...)
}

func (r runner) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if stmt := r.cached(ctx, query); stmt != nil {
		return stmt.QueryContext(ctx, args...)
	}
	return r.db.QueryContext(ctx, query, args...)
}

func (r runner) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if stmt := r.cached(ctx, query); stmt != nil {
		return stmt.QueryRowContext(ctx, args...)
	}
	return r.db.QueryRowContext(ctx, query, args...)
}

func (r runner) cached(ctx context.Context, query string) *sql.Stmt {
	if r.stmts == nil {
		return nil
	}
	stmt, err := r.stmts.Get(ctx, query)
	if err != nil {
		return nil
	}
	return stmt
}
