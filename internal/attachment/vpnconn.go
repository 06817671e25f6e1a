package attachment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/logging"
	"github.com/jbweber/homelab/uplink/internal/repository"
	"github.com/jbweber/homelab/uplink/internal/vpn"
)

// ClientAllocator creates VPN clients with a fresh tunnel address.
type ClientAllocator interface {
	CreateClient(ctx context.Context, clients vpn.ClientStore, v domain.VPN, hostID int64, active bool) (domain.VPNClient, error)
}

// VPNConnectionManager keeps one VPN client per host and VPN.
type VPNConnectionManager struct {
	Allocator ClientAllocator
}

// Ensure returns the active client of the host for the VPN of ap, reactivating an existing
// client or creating one.
func (m VPNConnectionManager) Ensure(ctx context.Context, s *repository.Store, hostID int64, ap domain.AttachmentPoint) (domain.VPNClient, domain.VPN, error) {
	if !ap.HasVPN() {
		return domain.VPNClient{}, domain.VPN{}, fmt.Errorf("attachment point %d: %w", ap.ID, ErrVPNUnsupported)
	}
	v, err := s.VPNs.FindByID(ctx, *ap.VPNID)
	if err != nil {
		return domain.VPNClient{}, domain.VPN{}, err
	}

	client, err := s.VPNClients.FindByHostAndVPN(ctx, hostID, v.ID)
	switch {
	case err == nil:
		if !client.Active {
			if err := s.VPNClients.SetActive(ctx, client.ID, true); err != nil {
				return domain.VPNClient{}, domain.VPN{}, err
			}
			client.Active = true
			logging.WithHost(hostID).Debugf("reactivated VPN client %s of VPN %d", client.IP, v.ID)
		}
		return client, v, nil
	case errors.Is(err, repository.ErrNotFound):
		client, err = m.Allocator.CreateClient(ctx, s.VPNClients, v, hostID, true)
		if err != nil {
			return domain.VPNClient{}, domain.VPN{}, err
		}
		logging.WithHost(hostID).Infof("created VPN client %s of VPN %d", client.IP, v.ID)
		return client, v, nil
	default:
		return domain.VPNClient{}, domain.VPN{}, err
	}
}
