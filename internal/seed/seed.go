// Package seed loads infrastructure topologies from YAML files into the datastore.
package seed

import (
	"context"
	"fmt"
	"net/netip"
	"os"

	"github.com/scionproto/scion/pkg/addr"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/uplink/internal/datastore"
	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

// infraPortBase is the first port handed to seeded infrastructure interfaces.
const infraPortBase = 30000

// Topology is the content of a seed file.
type Topology struct {
	ASes  []AS   `yaml:"ases"`
	Links []Link `yaml:"links"`
}

// AS is an AS with its hosts. Setting Owner makes it a UserAS.
type AS struct {
	IA              string           `yaml:"ia"`
	Label           string           `yaml:"label"`
	Core            bool             `yaml:"core"`
	Owner           string           `yaml:"owner"`
	Installation    string           `yaml:"installation"`
	Hosts           []Host           `yaml:"hosts"`
	AttachmentPoint *AttachmentPoint `yaml:"attachment_point"`
}

// Host is a host of an AS. Names are unique across the file.
type Host struct {
	Name       string `yaml:"name"`
	InternalIP string `yaml:"internal_ip"`
	PublicIP   string `yaml:"public_ip"`
	BindIP     string `yaml:"bind_ip"`
}

// AttachmentPoint turns its AS into an attachment point.
type AttachmentPoint struct {
	VPN *VPN `yaml:"vpn"`
}

// VPN is the VPN server of an attachment point.
type VPN struct {
	ServerHost string `yaml:"server_host"`
	Subnet     string `yaml:"subnet"`
	ServerIP   string `yaml:"server_ip"`
	Port       int    `yaml:"port"`
}

// Link connects the hosts named A and B.
type Link struct {
	Type   string `yaml:"type"`
	A      string `yaml:"a"`
	B      string `yaml:"b"`
	Active *bool  `yaml:"active"`
}

// Result maps the names of the seed file to the IDs of the created rows.
type Result struct {
	ASes             map[string]int64 // by ISD-AS
	Hosts            map[string]int64 // by host name
	AttachmentPoints map[string]int64 // by ISD-AS
	VPNs             map[string]int64 // by ISD-AS of the attachment point
	Links            []int64
}

// Load reads and validates a seed file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates seed YAML.
func Parse(data []byte) (*Topology, error) {
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("parsing seed YAML: %w", err)
	}
	if err := validate(&topo); err != nil {
		return nil, fmt.Errorf("validating seed: %w", err)
	}
	return &topo, nil
}

func validate(topo *Topology) error {
	if len(topo.ASes) == 0 {
		return fmt.Errorf("at least one AS is required")
	}
	hosts := make(map[string]bool)
	ases := make(map[addr.IA]bool)
	for _, as := range topo.ASes {
		ia, err := addr.ParseIA(as.IA)
		if err != nil {
			return fmt.Errorf("AS %q: %w", as.IA, err)
		}
		if ases[ia] {
			return fmt.Errorf("AS %s: defined twice", ia)
		}
		ases[ia] = true
		if as.Owner != "" && !domain.InstallationType(as.Installation).Valid() {
			return fmt.Errorf("AS %s: installation must be VM, PKG or SRC, got %q", ia, as.Installation)
		}
		if len(as.Hosts) == 0 {
			return fmt.Errorf("AS %s: at least one host is required", ia)
		}
		for _, h := range as.Hosts {
			if h.Name == "" {
				return fmt.Errorf("AS %s: host name is required", ia)
			}
			if hosts[h.Name] {
				return fmt.Errorf("host %s: defined twice", h.Name)
			}
			hosts[h.Name] = true
			for field, ip := range map[string]string{"internal_ip": h.InternalIP, "public_ip": h.PublicIP, "bind_ip": h.BindIP} {
				if ip == "" && field != "internal_ip" {
					continue
				}
				if _, err := netip.ParseAddr(ip); err != nil {
					return fmt.Errorf("host %s: invalid %s %q", h.Name, field, ip)
				}
			}
		}
		if ap := as.AttachmentPoint; ap != nil && ap.VPN != nil {
			if !hasHost(as, ap.VPN.ServerHost) {
				return fmt.Errorf("AS %s: VPN server host %q is not a host of the AS", ia, ap.VPN.ServerHost)
			}
			if _, err := netip.ParsePrefix(ap.VPN.Subnet); err != nil {
				return fmt.Errorf("AS %s: invalid VPN subnet %q", ia, ap.VPN.Subnet)
			}
			if _, err := netip.ParseAddr(ap.VPN.ServerIP); err != nil {
				return fmt.Errorf("AS %s: invalid VPN server IP %q", ia, ap.VPN.ServerIP)
			}
		}
	}
	for i, l := range topo.Links {
		if !domain.LinkType(l.Type).Valid() {
			return fmt.Errorf("link %d: type must be PROVIDER, CORE or PEER, got %q", i, l.Type)
		}
		if !hosts[l.A] || !hosts[l.B] {
			return fmt.Errorf("link %d: endpoints %q and %q must reference defined hosts", i, l.A, l.B)
		}
	}
	return nil
}

func hasHost(as AS, name string) bool {
	for _, h := range as.Hosts {
		if h.Name == name {
			return true
		}
	}
	return false
}

// Apply writes the topology in one transaction.
func Apply(ctx context.Context, ds *datastore.Datastore, topo *Topology) (*Result, error) {
	var result *Result
	err := ds.Transact(ctx, func(ctx context.Context, tx *datastore.Tx) error {
		var err error
		result, err = apply(ctx, repository.NewStore(tx), topo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func apply(ctx context.Context, st *repository.Store, topo *Topology) (*Result, error) {
	result := &Result{
		ASes:             make(map[string]int64),
		Hosts:            make(map[string]int64),
		AttachmentPoints: make(map[string]int64),
		VPNs:             make(map[string]int64),
	}
	hostAS := make(map[string]int64)

	for _, entry := range topo.ASes {
		ia, _ := addr.ParseIA(entry.IA)
		as := domain.AS{ISD: ia.ISD(), ASN: ia.AS(), Label: entry.Label, Owner: entry.Owner, IsCore: entry.Core}
		if entry.Owner != "" {
			u, err := st.UserASes.Save(ctx, domain.UserAS{AS: as, InstallationType: domain.InstallationType(entry.Installation)})
			if err != nil {
				return nil, err
			}
			as = u.AS
		} else {
			var err error
			if as, err = st.ASes.Save(ctx, as); err != nil {
				return nil, err
			}
		}
		result.ASes[ia.String()] = as.ID

		for _, h := range entry.Hosts {
			host, err := st.Hosts.Save(ctx, domain.Host{
				ASID:       as.ID,
				Label:      h.Name,
				InternalIP: h.InternalIP,
				PublicIP:   h.PublicIP,
				BindIP:     h.BindIP,
			})
			if err != nil {
				return nil, err
			}
			result.Hosts[h.Name] = host.ID
			hostAS[h.Name] = as.ID
		}

		if entry.AttachmentPoint == nil {
			continue
		}
		ap := domain.AttachmentPoint{ASID: as.ID}
		if v := entry.AttachmentPoint.VPN; v != nil {
			created, err := st.VPNs.Save(ctx, domain.VPN{
				ServerHostID: result.Hosts[v.ServerHost],
				Subnet:       v.Subnet,
				ServerVPNIP:  v.ServerIP,
				ServerPort:   v.Port,
			})
			if err != nil {
				return nil, err
			}
			ap.VPNID = &created.ID
			result.VPNs[ia.String()] = created.ID
		}
		saved, err := st.AttachmentPoints.Save(ctx, ap)
		if err != nil {
			return nil, err
		}
		result.AttachmentPoints[ia.String()] = saved.ID
	}

	for _, l := range topo.Links {
		a, err := infraInterface(ctx, st, hostAS[l.A], result.Hosts[l.A])
		if err != nil {
			return nil, err
		}
		b, err := infraInterface(ctx, st, hostAS[l.B], result.Hosts[l.B])
		if err != nil {
			return nil, err
		}
		active := l.Active == nil || *l.Active
		link, err := st.Links.Save(ctx, domain.Link{
			Type:         domain.LinkType(l.Type),
			InterfaceAID: a.ID,
			InterfaceBID: b.ID,
			Active:       active,
		})
		if err != nil {
			return nil, err
		}
		result.Links = append(result.Links, link.ID)
	}
	return result, nil
}

func infraInterface(ctx context.Context, st *repository.Store, asID, hostID int64) (domain.Interface, error) {
	br, err := st.BorderRouters.FirstOrCreate(ctx, hostID)
	if err != nil {
		return domain.Interface{}, err
	}
	port, err := st.Interfaces.NextFreePort(ctx, hostID, infraPortBase)
	if err != nil {
		return domain.Interface{}, err
	}
	return st.Interfaces.Save(ctx, domain.Interface{
		ASID:           asID,
		HostID:         hostID,
		BorderRouterID: br.ID,
		PublicPort:     port,
	})
}
