package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// HostRepository defines domain-specific operations for hosts
type HostRepository interface {
	Repository[domain.Host, int64]
	FindByAS(ctx context.Context, asID int64) ([]domain.Host, error)
	// FirstWithPublicIP returns the host of the AS with the lowest ID that has a public IP.
	FirstWithPublicIP(ctx context.Context, asID int64) (domain.Host, error)
	FindNeedingDeployment(ctx context.Context) ([]domain.Host, error)
	BumpConfigVersion(ctx context.Context, id int64) error
	MarkDeployed(ctx context.Context, id, version int64) error
}

type hostRepositoryImpl struct {
	*DatastoreRepository[domain.Host, int64]
}

const hostColumns = "id, as_id, label, internal_ip, public_ip, bind_ip, config_version, deployed_version"

// NewHostRepository creates a new host repository
func NewHostRepository(db DBTX) HostRepository {
	return newHostRepository(runner{db: db})
}

func newHostRepository(q runner) HostRepository {
	return &hostRepositoryImpl{
		DatastoreRepository: newDatastoreRepository[domain.Host, int64](q, "hosts", hostColumns, scanHost),
	}
}

func scanHost(s scanner) (domain.Host, error) {
	var h domain.Host
	var publicIP, bindIP sql.NullString
	err := s.Scan(&h.ID, &h.ASID, &h.Label, &h.InternalIP, &publicIP, &bindIP, &h.ConfigVersion, &h.DeployedVersion)
	if err != nil {
		return domain.Host{}, err
	}
	h.PublicIP = publicIP.String
	h.BindIP = bindIP.String
	return h, nil
}

// Save creates or updates a host. Version counters are only changed through
// BumpConfigVersion and MarkDeployed.
func (r *hostRepositoryImpl) Save(ctx context.Context, h domain.Host) (domain.Host, error) {
	if h.ASID == 0 {
		return domain.Host{}, fmt.Errorf("host AS is required: %w", ErrInvalidEntity)
	}
	if h.InternalIP == "" {
		return domain.Host{}, fmt.Errorf("host internal IP is required: %w", ErrInvalidEntity)
	}

	if h.ID == 0 {
		result, err := r.q.exec(ctx, `
			INSERT INTO hosts (as_id, label, internal_ip, public_ip, bind_ip)
			VALUES (?, ?, ?, ?, ?)`,
			h.ASID, h.Label, h.InternalIP, nullString(h.PublicIP), nullString(h.BindIP))
		if err != nil {
			return domain.Host{}, fmt.Errorf("failed to create host: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Host{}, fmt.Errorf("failed to get host ID: %w", err)
		}
		return r.FindByID(ctx, id)
	}

	_, err := r.q.exec(ctx, `
		UPDATE hosts SET as_id = ?, label = ?, internal_ip = ?, public_ip = ?, bind_ip = ?
		WHERE id = ?`,
		h.ASID, h.Label, h.InternalIP, nullString(h.PublicIP), nullString(h.BindIP), h.ID)
	if err != nil {
		return domain.Host{}, fmt.Errorf("failed to update host: %w", err)
	}
	return r.FindByID(ctx, h.ID)
}

// FindByAS lists the hosts of an AS ordered by ID
func (r *hostRepositoryImpl) FindByAS(ctx context.Context, asID int64) ([]domain.Host, error) {
	return r.findMany(ctx, "as_id = ? ORDER BY id", asID)
}

func (r *hostRepositoryImpl) FirstWithPublicIP(ctx context.Context, asID int64) (domain.Host, error) {
	h, err := r.findOne(ctx, "as_id = ? AND public_ip IS NOT NULL ORDER BY id LIMIT 1", asID)
	if err != nil {
		return domain.Host{}, fmt.Errorf("public host of AS %d: %w", asID, err)
	}
	return h, nil
}

// FindNeedingDeployment lists infrastructure hosts whose configuration changed since the last
// deployment. UserAS hosts are configured by their owners and never deployed.
func (r *hostRepositoryImpl) FindNeedingDeployment(ctx context.Context) ([]domain.Host, error) {
	return r.findMany(ctx, "config_version > deployed_version AND as_id NOT IN (SELECT as_id FROM user_ases) ORDER BY id")
}

// BumpConfigVersion marks the configuration of a host as changed
func (r *hostRepositoryImpl) BumpConfigVersion(ctx context.Context, id int64) error {
	result, err := r.q.exec(ctx, "UPDATE hosts SET config_version = config_version + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to bump host config version: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("host with ID %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkDeployed records that version of the configuration runs on the host
func (r *hostRepositoryImpl) MarkDeployed(ctx context.Context, id, version int64) error {
	_, err := r.q.exec(ctx,
		"UPDATE hosts SET deployed_version = ? WHERE id = ? AND deployed_version < ?", version, id, version)
	if err != nil {
		return fmt.Errorf("failed to mark host deployed: %w", err)
	}
	return nil
}
