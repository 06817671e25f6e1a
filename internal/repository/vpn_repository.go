package repository

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// VPNRepository defines domain-specific operations for VPN server configurations
type VPNRepository interface {
	Repository[domain.VPN, int64]
}

type vpnRepositoryImpl struct {
	*DatastoreRepository[domain.VPN, int64]
}

// NewVPNRepository creates a new VPN repository
func NewVPNRepository(db DBTX) VPNRepository {
	return newVPNRepository(runner{db: db})
}

func newVPNRepository(q runner) VPNRepository {
	return &vpnRepositoryImpl{
		DatastoreRepository: newDatastoreRepository[domain.VPN, int64](q, "vpns",
			"id, server_host_id, subnet, server_vpn_ip, server_port", scanVPN),
	}
}

func scanVPN(s scanner) (domain.VPN, error) {
	var v domain.VPN
	err := s.Scan(&v.ID, &v.ServerHostID, &v.Subnet, &v.ServerVPNIP, &v.ServerPort)
	return v, err
}

// Save creates or updates a VPN
func (r *vpnRepositoryImpl) Save(ctx context.Context, v domain.VPN) (domain.VPN, error) {
	if v.ServerHostID == 0 || v.Subnet == "" || v.ServerVPNIP == "" {
		return domain.VPN{}, fmt.Errorf("VPN server host, subnet and server IP are required: %w", ErrInvalidEntity)
	}

	if v.ID == 0 {
		result, err := r.q.exec(ctx, `
			INSERT INTO vpns (server_host_id, subnet, server_vpn_ip, server_port)
			VALUES (?, ?, ?, ?)`,
			v.ServerHostID, v.Subnet, v.ServerVPNIP, v.ServerPort)
		if err != nil {
			return domain.VPN{}, fmt.Errorf("failed to create VPN: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.VPN{}, fmt.Errorf("failed to get VPN ID: %w", err)
		}
		v.ID = id
		return v, nil
	}

	_, err := r.q.exec(ctx, `
		UPDATE vpns SET server_host_id = ?, subnet = ?, server_vpn_ip = ?, server_port = ?
		WHERE id = ?`,
		v.ServerHostID, v.Subnet, v.ServerVPNIP, v.ServerPort, v.ID)
	if err != nil {
		return domain.VPN{}, fmt.Errorf("failed to update VPN: %w", err)
	}
	return v, nil
}
