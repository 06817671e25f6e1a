// Package vpn assigns tunnel addresses to VPN clients.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"go4.org/netipx"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// ErrSubnetExhausted is returned when a VPN subnet has no address left for a new client.
var ErrSubnetExhausted = errors.New("VPN subnet exhausted")

// ClientStore persists VPN clients.
type ClientStore interface {
	ListIPs(ctx context.Context, vpnID int64) ([]string, error)
	Save(ctx context.Context, c domain.VPNClient) (domain.VPNClient, error)
}

// Allocator creates VPN clients with the lowest free tunnel address of the VPN subnet.
type Allocator struct{}

// CreateClient creates a client of v for the host.
func (Allocator) CreateClient(ctx context.Context, clients ClientStore, v domain.VPN, hostID int64, active bool) (domain.VPNClient, error) {
	used, err := clients.ListIPs(ctx, v.ID)
	if err != nil {
		return domain.VPNClient{}, err
	}
	ip, err := NextClientIP(v, used)
	if err != nil {
		return domain.VPNClient{}, err
	}
	return clients.Save(ctx, domain.VPNClient{
		VPNID:  v.ID,
		HostID: hostID,
		IP:     ip.String(),
		Active: active,
	})
}

// NextClientIP returns the lowest address of the VPN subnet that is neither the network or
// broadcast address, the server address, nor one of used.
func NextClientIP(v domain.VPN, used []string) (netip.Addr, error) {
	prefix, err := netip.ParsePrefix(v.Subnet)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid VPN subnet %q: %w", v.Subnet, err)
	}
	prefix = prefix.Masked()
	server, err := netip.ParseAddr(v.ServerVPNIP)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid VPN server IP %q: %w", v.ServerVPNIP, err)
	}

	var sb netipx.IPSetBuilder
	sb.AddPrefix(prefix)
	sb.Remove(prefix.Addr())
	sb.Remove(netipx.PrefixLastIP(prefix))
	sb.Remove(server)
	for _, s := range used {
		ip, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("invalid VPN client IP %q: %w", s, err)
		}
		sb.Remove(ip)
	}
	free, err := sb.IPSet()
	if err != nil {
		return netip.Addr{}, err
	}

	ranges := free.Ranges()
	if len(ranges) == 0 {
		return netip.Addr{}, fmt.Errorf("%s: %w", prefix, ErrSubnetExhausted)
	}
	return ranges[0].From(), nil
}
