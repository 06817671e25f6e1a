package repository

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// VPNClientRepository defines domain-specific operations for VPN clients
type VPNClientRepository interface {
	Repository[domain.VPNClient, int64]
	FindByHost(ctx context.Context, hostID int64) ([]domain.VPNClient, error)
	FindByHostAndVPN(ctx context.Context, hostID, vpnID int64) (domain.VPNClient, error)
	FindByHostAndIP(ctx context.Context, hostID int64, ip string) (domain.VPNClient, error)
	// ListIPs returns the tunnel addresses handed out by a VPN.
	ListIPs(ctx context.Context, vpnID int64) ([]string, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type vpnClientRepositoryImpl struct {
	*DatastoreRepository[domain.VPNClient, int64]
}

// NewVPNClientRepository creates a new VPN client repository
func NewVPNClientRepository(db DBTX) VPNClientRepository {
	return newVPNClientRepository(runner{db: db})
}

func newVPNClientRepository(q runner) VPNClientRepository {
	return &vpnClientRepositoryImpl{
		DatastoreRepository: newDatastoreRepository[domain.VPNClient, int64](q, "vpn_clients",
			"id, vpn_id, host_id, ip, active", scanVPNClient),
	}
}

func scanVPNClient(s scanner) (domain.VPNClient, error) {
	var c domain.VPNClient
	err := s.Scan(&c.ID, &c.VPNID, &c.HostID, &c.IP, &c.Active)
	return c, err
}

// Save creates or updates a VPN client
func (r *vpnClientRepositoryImpl) Save(ctx context.Context, c domain.VPNClient) (domain.VPNClient, error) {
	if c.VPNID == 0 || c.HostID == 0 || c.IP == "" {
		return domain.VPNClient{}, fmt.Errorf("VPN client VPN, host and IP are required: %w", ErrInvalidEntity)
	}

	if c.ID == 0 {
		result, err := r.q.exec(ctx, "INSERT INTO vpn_clients (vpn_id, host_id, ip, active) VALUES (?, ?, ?, ?)",
			c.VPNID, c.HostID, c.IP, c.Active)
		if err != nil {
			return domain.VPNClient{}, fmt.Errorf("failed to create VPN client: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.VPNClient{}, fmt.Errorf("failed to get VPN client ID: %w", err)
		}
		c.ID = id
		return c, nil
	}

	_, err := r.q.exec(ctx, "UPDATE vpn_clients SET vpn_id = ?, host_id = ?, ip = ?, active = ? WHERE id = ?",
		c.VPNID, c.HostID, c.IP, c.Active, c.ID)
	if err != nil {
		return domain.VPNClient{}, fmt.Errorf("failed to update VPN client: %w", err)
	}
	return c, nil
}

func (r *vpnClientRepositoryImpl) FindByHost(ctx context.Context, hostID int64) ([]domain.VPNClient, error) {
	return r.findMany(ctx, "host_id = ? ORDER BY id", hostID)
}

func (r *vpnClientRepositoryImpl) FindByHostAndVPN(ctx context.Context, hostID, vpnID int64) (domain.VPNClient, error) {
	c, err := r.findOne(ctx, "host_id = ? AND vpn_id = ?", hostID, vpnID)
	if err != nil {
		return domain.VPNClient{}, fmt.Errorf("VPN client of host %d on VPN %d: %w", hostID, vpnID, err)
	}
	return c, nil
}

func (r *vpnClientRepositoryImpl) FindByHostAndIP(ctx context.Context, hostID int64, ip string) (domain.VPNClient, error) {
	c, err := r.findOne(ctx, "host_id = ? AND ip = ? ORDER BY id LIMIT 1", hostID, ip)
	if err != nil {
		return domain.VPNClient{}, fmt.Errorf("VPN client of host %d with IP %s: %w", hostID, ip, err)
	}
	return c, nil
}

func (r *vpnClientRepositoryImpl) ListIPs(ctx context.Context, vpnID int64) ([]string, error) {
	rows, err := r.q.query(ctx, "SELECT ip FROM vpn_clients WHERE vpn_id = ? ORDER BY id", vpnID)
	if err != nil {
		return nil, fmt.Errorf("failed to list VPN client IPs: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan VPN client IP: %w", err)
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

func (r *vpnClientRepositoryImpl) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := r.q.exec(ctx, "UPDATE vpn_clients SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to update VPN client: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("VPN client with ID %d: %w", id, ErrNotFound)
	}
	return nil
}
