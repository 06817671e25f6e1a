package attachment

import (
	"context"
	"errors"
	"net/netip"

	"github.com/scionproto/scion/pkg/addr"
	"go4.org/netipx"

	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

const (
	minPort = 1024
	maxPort = 65535
)

// specialPurpose holds the IANA special-purpose ranges that are not reachable from the
// internet, including the private and documentation networks.
var specialPurpose = mustIPSet(
	"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8", "169.254.0.0/16",
	"172.16.0.0/12", "192.0.0.0/24", "192.0.2.0/24", "192.168.0.0/16", "198.18.0.0/15",
	"198.51.100.0/24", "203.0.113.0/24", "240.0.0.0/4",
	"::/128", "::1/128", "64:ff9b:1::/48", "100::/64", "2001::/23", "2001:db8::/32",
	"fc00::/7", "fe80::/10",
)

func mustIPSet(prefixes ...string) *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		b.AddPrefix(netip.MustParsePrefix(p))
	}
	set, err := b.IPSet()
	if err != nil {
		panic(err)
	}
	return set
}

// Validator checks attachment configurations before they are applied.
type Validator struct {
	AllowPrivateIPs bool
}

// Validate checks confs as the complete set of attachments of a UserAS with the given
// installation type. Problems with the confs are reported as one *ValidationError.
func (v Validator) Validate(ctx context.Context, s *repository.Store, installation domain.InstallationType, confs []domain.AttachmentConf) error {
	var vb validationBuilder
	ports := newPortMap()
	seenAP := make(map[int64]int)
	seenLink := make(map[int64]int)
	activeISDs := make(map[addr.ISD]bool)

	for i, conf := range confs {
		n := i + 1
		if prev, dup := seenAP[conf.AttachmentPointID]; dup {
			vb.addf("attachment %d: attachment point %d is already used by attachment %d", n, conf.AttachmentPointID, prev)
		} else {
			seenAP[conf.AttachmentPointID] = n
		}
		if linkID, ok := conf.LinkID(); ok {
			if prev, dup := seenLink[linkID]; dup {
				vb.addf("attachment %d: link %d is already used by attachment %d", n, linkID, prev)
			} else {
				seenLink[linkID] = n
			}
		}

		ap, err := s.AttachmentPoints.FindByID(ctx, conf.AttachmentPointID)
		if errors.Is(err, repository.ErrNotFound) {
			vb.addf("attachment %d: attachment point %d does not exist", n, conf.AttachmentPointID)
			continue
		}
		if err != nil {
			return err
		}
		if conf.Active {
			as, err := s.ASes.FindByID(ctx, ap.ASID)
			if err != nil {
				return err
			}
			activeISDs[as.ISD] = true
		}

		if !validPort(conf.PublicPort) {
			vb.addf("attachment %d: public port %d is outside %d-%d", n, conf.PublicPort, minPort, maxPort)
		}
		if conf.BindPort != 0 && !validPort(conf.BindPort) {
			vb.addf("attachment %d: bind port %d is outside %d-%d", n, conf.BindPort, minPort, maxPort)
		}

		if conf.UseVPN {
			if !ap.HasVPN() {
				vb.addf("attachment %d: attachment point %d does not offer VPN", n, ap.ID)
			}
			continue
		}
		if err := v.checkDirect(ctx, s, &vb, n, ap, conf); err != nil {
			return err
		}
		v.claimPorts(&vb, ports, n, installation, conf)
	}

	if len(seenAP) > domain.MaxAPPerUserAS {
		vb.addf("at most %d attachment points are supported, got %d", domain.MaxAPPerUserAS, len(seenAP))
	}
	if len(activeISDs) > 1 {
		vb.addf("active attachments must all be in the same ISD")
	}
	return vb.build()
}

func (v Validator) checkDirect(ctx context.Context, s *repository.Store, vb *validationBuilder, n int, ap domain.AttachmentPoint, conf domain.AttachmentConf) error {
	if conf.PublicIP == "" {
		vb.addf("attachment %d: public IP is required unless VPN is used", n)
		return nil
	}
	ip, err := netip.ParseAddr(conf.PublicIP)
	if err != nil {
		vb.addf("attachment %d: invalid public IP %q", n, conf.PublicIP)
		return nil
	}
	if reason := v.unusable(ip); reason != "" {
		vb.addf("attachment %d: public IP %s is %s", n, ip, reason)
	}
	if conf.BindIP != "" {
		if _, err := netip.ParseAddr(conf.BindIP); err != nil {
			vb.addf("attachment %d: invalid bind IP %q", n, conf.BindIP)
		}
	}

	versions, err := SupportedIPVersions(ctx, s, ap)
	if err != nil {
		return err
	}
	if version := ipVersion(ip); !versions[version] {
		vb.addf("attachment %d: attachment point %d does not support IPv%d", n, ap.ID, version)
	}
	return nil
}

// unusable returns why ip cannot be the public address of an attachment, or "".
func (v Validator) unusable(ip netip.Addr) string {
	ip = ip.Unmap()
	switch {
	case ip.IsUnspecified():
		return "unspecified"
	case ip.IsMulticast():
		return "a multicast address"
	case ip.IsLinkLocalUnicast():
		return "link-local"
	case ip.Is4() && ip == netip.AddrFrom4([4]byte{255, 255, 255, 255}):
		return "the broadcast address"
	case !v.AllowPrivateIPs && specialPurpose.Contains(ip):
		return "not globally routable"
	}
	return ""
}

func validPort(port int) bool {
	return port >= minPort && port <= maxPort
}

// claimPorts records the addresses of a direct attachment. Ports outside the valid range are
// already reported and not claimed.
func (v Validator) claimPorts(vb *validationBuilder, ports *portMap, n int, installation domain.InstallationType, conf domain.AttachmentConf) {
	if conf.PublicIP != "" && validPort(conf.PublicPort) {
		if prev, clash := ports.claim(conf.PublicIP, conf.PublicPort, n); clash {
			vb.addf("attachment %d: public address %s clashes with attachment %d", n, portKey(conf.PublicIP, conf.PublicPort), prev)
		}
	}
	if validPort(conf.BindPort) {
		ip := conf.BindIP
		if ip == "" {
			ip = conf.PublicIP
		}
		if prev, clash := ports.claim(ip, conf.BindPort, n); clash {
			vb.addf("attachment %d: bind address %s clashes with attachment %d", n, portKey(ip, conf.BindPort), prev)
		}
	}
	if installation == domain.InstallVM {
		port := conf.BindPort
		if port == 0 {
			port = conf.PublicPort
		}
		if !validPort(port) {
			return
		}
		if prev, clash := ports.claim(vmForwarded, port, n); clash {
			vb.addf("attachment %d: forwarded VM port %d clashes with attachment %d", n, port, prev)
		}
	}
}
