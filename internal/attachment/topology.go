package attachment

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

// APPortBase is the lowest port handed out to attachment point interfaces.
const APPortBase = 50000

// AttachmentHost returns the host of the attachment point that UserAS interfaces are placed
// on: the VPN server if the attachment point has a VPN, otherwise its first host with a
// public IP.
func AttachmentHost(ctx context.Context, s *repository.Store, ap domain.AttachmentPoint) (domain.Host, error) {
	if ap.VPNID == nil {
		return s.Hosts.FirstWithPublicIP(ctx, ap.ASID)
	}
	v, err := s.VPNs.FindByID(ctx, *ap.VPNID)
	if err != nil {
		return domain.Host{}, err
	}
	host, err := s.Hosts.FindByID(ctx, v.ServerHostID)
	if err != nil {
		return domain.Host{}, err
	}
	if host.ASID != ap.ASID {
		return domain.Host{}, fmt.Errorf("VPN server of attachment point %d is outside its AS: %w", ap.ID, ErrInvalidState)
	}
	return host, nil
}

// PreferredBorderRouter returns the border router new UserAS interfaces of the attachment
// point start on. The balancer may move them afterwards.
func PreferredBorderRouter(ctx context.Context, s *repository.Store, ap domain.AttachmentPoint) (domain.Host, domain.BorderRouter, error) {
	host, err := AttachmentHost(ctx, s, ap)
	if err != nil {
		return domain.Host{}, domain.BorderRouter{}, err
	}
	br, err := s.BorderRouters.FirstOrCreate(ctx, host.ID)
	if err != nil {
		return domain.Host{}, domain.BorderRouter{}, err
	}
	return host, br, nil
}

// SupportedIPVersions returns the IP versions UserASes can use to reach the attachment point.
func SupportedIPVersions(ctx context.Context, s *repository.Store, ap domain.AttachmentPoint) (map[int]bool, error) {
	host, err := AttachmentHost(ctx, s, ap)
	if err != nil {
		return nil, err
	}
	versions := make(map[int]bool)
	if ip, err := netip.ParseAddr(host.PublicIP); err == nil {
		versions[ipVersion(ip)] = true
	}
	return versions, nil
}

func ipVersion(ip netip.Addr) int {
	if ip.Unmap().Is4() {
		return 4
	}
	return 6
}
