package datastore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatastore(t *testing.T, retries int) *Datastore {
	t.Helper()
	ds, err := New(t.Name(), &Options{InMemory: true, MaxRetries: retries, RetryBackoff: 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		if closeErr := ds.Close(); closeErr != nil {
			t.Logf("Warning: failed to close datastore: %v", closeErr)
		}
	})
	return ds
}

func insertAS(ctx context.Context, tx *Tx, asn int64) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO ases (isd, as_number, label) VALUES (1, ?, 'test')", asn)
	return err
}

func countASes(t *testing.T, ds *Datastore) int {
	t.Helper()
	var n int
	require.NoError(t, ds.DB.QueryRow("SELECT COUNT(*) FROM ases").Scan(&n))
	return n
}

func TestDSN(t *testing.T) {
	dsn := DSN("/var/lib/uplink/uplink.db", nil)
	assert.Contains(t, dsn, "file:/var/lib/uplink/uplink.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "foreign_keys%281%29")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")
	assert.Contains(t, dsn, "cache_size%2810000%29")
	assert.Contains(t, dsn, "mmap_size%28268435456%29")
	assert.Contains(t, dsn, "temp_store%28MEMORY%29")

	mem := DSN("TestDSN", &Options{InMemory: true})
	assert.Contains(t, mem, "mode=memory")
	assert.Contains(t, mem, "cache=shared")
	assert.NotContains(t, mem, "journal_mode")
}

func TestNew_InMemory(t *testing.T) {
	ds := newTestDatastore(t, 0)
	require.NotNil(t, ds.DB)

	for _, table := range []string{"ases", "hosts", "border_routers", "interfaces", "links", "attachment_points", "vpn_clients"} {
		_, err := ds.DB.Exec(fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
		assert.NoError(t, err, "table %s", table)
	}
}

func TestTransact_Commit(t *testing.T) {
	ds := newTestDatastore(t, 0)
	ctx := context.Background()

	var hookRan bool
	err := ds.Transact(ctx, func(ctx context.Context, tx *Tx) error {
		tx.AfterCommit(func() { hookRan = true })
		return insertAS(ctx, tx, 100)
	})
	require.NoError(t, err)
	assert.True(t, hookRan)
	assert.Equal(t, 1, countASes(t, ds))
}

func TestTransact_RollbackOnError(t *testing.T) {
	ds := newTestDatastore(t, 0)
	ctx := context.Background()
	boom := errors.New("boom")

	var hookRan bool
	err := ds.Transact(ctx, func(ctx context.Context, tx *Tx) error {
		tx.AfterCommit(func() { hookRan = true })
		if err := insertAS(ctx, tx, 100); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, hookRan)
	assert.Equal(t, 0, countASes(t, ds))
}

func TestTransact_HooksRunInOrder(t *testing.T) {
	ds := newTestDatastore(t, 0)

	var order []int
	err := ds.Transact(context.Background(), func(ctx context.Context, tx *Tx) error {
		tx.AfterCommit(func() { order = append(order, 1) })
		tx.AfterCommit(func() { order = append(order, 2) })
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, order)
}

func TestTransact_RetriesConcurrentModification(t *testing.T) {
	ds := newTestDatastore(t, 2)
	ctx := context.Background()

	attempts := 0
	var hooks int
	err := ds.Transact(ctx, func(ctx context.Context, tx *Tx) error {
		attempts++
		tx.AfterCommit(func() { hooks++ })
		if err := insertAS(ctx, tx, 100); err != nil {
			return err
		}
		if attempts == 1 {
			return fmt.Errorf("writer lost the race: %w", ErrConcurrentModification)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, hooks, "hooks of the failed attempt must be discarded")
	assert.Equal(t, 1, countASes(t, ds))
}

func TestTransact_GivesUpAfterRetries(t *testing.T) {
	ds := newTestDatastore(t, 2)

	attempts := 0
	err := ds.Transact(context.Background(), func(ctx context.Context, tx *Tx) error {
		attempts++
		return ErrConcurrentModification
	})
	require.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, 3, attempts)
}

func TestTransact_ConstraintViolationIsNotRetried(t *testing.T) {
	ds := newTestDatastore(t, 3)
	ctx := context.Background()

	require.NoError(t, ds.Transact(ctx, func(ctx context.Context, tx *Tx) error {
		return insertAS(ctx, tx, 100)
	}))

	attempts := 0
	err := ds.Transact(ctx, func(ctx context.Context, tx *Tx) error {
		attempts++
		return insertAS(ctx, tx, 100)
	})
	require.ErrorIs(t, err, ErrConstraintViolation)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, countASes(t, ds))
}

func TestTransact_RollbackOnPanic(t *testing.T) {
	ds := newTestDatastore(t, 0)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = ds.Transact(ctx, func(ctx context.Context, tx *Tx) error {
			if err := insertAS(ctx, tx, 100); err != nil {
				return err
			}
			panic("unexpected")
		})
	})
	assert.Equal(t, 0, countASes(t, ds))
}

func TestClassify_PassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("plain")
	assert.Equal(t, plain, Classify(plain))
	assert.NoError(t, Classify(nil))
}
