package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// BorderRouterRepository defines domain-specific operations for border routers
type BorderRouterRepository interface {
	FindByID(ctx context.Context, id int64) (domain.BorderRouter, error)
	DeleteByID(ctx context.Context, id int64) error
	Create(ctx context.Context, hostID int64) (domain.BorderRouter, error)
	// FindByHost lists the border routers of a host ordered by ID.
	FindByHost(ctx context.Context, hostID int64) ([]domain.BorderRouter, error)
	// FirstOrCreate returns the border router of the host with the lowest ID, creating one
	// if the host has none.
	FirstOrCreate(ctx context.Context, hostID int64) (domain.BorderRouter, error)
	CountInterfaces(ctx context.Context, id int64) (int, error)
}

type borderRouterRepositoryImpl struct {
	*DatastoreRepository[domain.BorderRouter, int64]
}

// NewBorderRouterRepository creates a new border router repository
func NewBorderRouterRepository(db DBTX) BorderRouterRepository {
	return newBorderRouterRepository(runner{db: db})
}

func newBorderRouterRepository(q runner) BorderRouterRepository {
	return &borderRouterRepositoryImpl{
		DatastoreRepository: newDatastoreRepository[domain.BorderRouter, int64](q, "border_routers", "id, host_id", scanBorderRouter),
	}
}

func scanBorderRouter(s scanner) (domain.BorderRouter, error) {
	var br domain.BorderRouter
	err := s.Scan(&br.ID, &br.HostID)
	return br, err
}

func (r *borderRouterRepositoryImpl) Create(ctx context.Context, hostID int64) (domain.BorderRouter, error) {
	result, err := r.q.exec(ctx, "INSERT INTO border_routers (host_id) VALUES (?)", hostID)
	if err != nil {
		return domain.BorderRouter{}, fmt.Errorf("failed to create border router: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return domain.BorderRouter{}, fmt.Errorf("failed to get border router ID: %w", err)
	}
	return domain.BorderRouter{ID: id, HostID: hostID}, nil
}

func (r *borderRouterRepositoryImpl) FindByHost(ctx context.Context, hostID int64) ([]domain.BorderRouter, error) {
	return r.findMany(ctx, "host_id = ? ORDER BY id", hostID)
}

func (r *borderRouterRepositoryImpl) FirstOrCreate(ctx context.Context, hostID int64) (domain.BorderRouter, error) {
	br, err := r.findOne(ctx, "host_id = ? ORDER BY id LIMIT 1", hostID)
	if err == nil {
		return br, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.BorderRouter{}, err
	}
	return r.Create(ctx, hostID)
}

func (r *borderRouterRepositoryImpl) CountInterfaces(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.q.queryRow(ctx, "SELECT COUNT(*) FROM interfaces WHERE border_router_id = ?", id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count interfaces of border router %d: %w", id, err)
	}
	return count, nil
}
