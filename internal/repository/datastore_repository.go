package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
)

// DatastoreRepository implements the lookups shared by all entity repositories on top of one
// table. Concrete repositories embed it and add Save and their own queries.
type DatastoreRepository[T any, ID comparable] struct {
	q       runner
	from    string // table, or join, rows are read from
	idCol   string
	columns string
	scan    func(scanner) (T, error)
	entity  string
	table   string // table rows are deleted from
}

// newDatastoreRepository creates a new generic repository reading columns of table.
func newDatastoreRepository[T any, ID comparable](q runner, table, columns string, scan func(scanner) (T, error)) *DatastoreRepository[T, ID] {
	var zero T
	return &DatastoreRepository[T, ID]{
		q:       q,
		from:    table,
		idCol:   "id",
		columns: columns,
		scan:    scan,
		entity:  reflect.TypeOf(zero).Name(),
		table:   table,
	}
}

// FindByID retrieves an entity by its ID
func (r *DatastoreRepository[T, ID]) FindByID(ctx context.Context, id ID) (T, error) {
	entity, err := r.findOne(ctx, r.idCol+" = ?", id)
	if errors.Is(err, ErrNotFound) {
		return entity, fmt.Errorf("%s with ID %v: %w", r.entity, id, ErrNotFound)
	}
	return entity, err
}

// FindAll retrieves all entities ordered by ID
func (r *DatastoreRepository[T, ID]) FindAll(ctx context.Context) ([]T, error) {
	return r.findMany(ctx, "1 = 1 ORDER BY "+r.idCol)
}

// DeleteByID deletes an entity by its ID
func (r *DatastoreRepository[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	result, err := r.q.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.entity, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.entity, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s with ID %v: %w", r.entity, id, ErrNotFound)
	}
	return nil
}

// ExistsByID checks if an entity exists by its ID
func (r *DatastoreRepository[T, ID]) ExistsByID(ctx context.Context, id ID) (bool, error) {
	var count int
	err := r.q.queryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", r.from, r.idCol), id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", r.entity, err)
	}
	return count > 0, nil
}

func (r *DatastoreRepository[T, ID]) findOne(ctx context.Context, where string, args ...any) (T, error) {
	row := r.q.queryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s", r.columns, r.from, where), args...)
	entity, err := r.scan(row)
	if err != nil {
		var zero T
		if isNotFoundError(err) {
			return zero, fmt.Errorf("%s: %w", r.entity, ErrNotFound)
		}
		return zero, fmt.Errorf("failed to find %s: %w", r.entity, err)
	}
	return entity, nil
}

func (r *DatastoreRepository[T, ID]) findMany(ctx context.Context, where string, args ...any) ([]T, error) {
	rows, err := r.q.query(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s", r.columns, r.from, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.entity, err)
	}
	defer rows.Close()

	var entities []T
	for rows.Next() {
		entity, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", r.entity, err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.entity, err)
	}
	return entities, nil
}

// Helper function to check if an error is a "not found" error from the database
func isNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
