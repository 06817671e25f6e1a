package attachment

import "github.com/jbweber/homelab/uplink/internal/domain"

// VMLocalIP is the address SCION binds to inside the Vagrant VM. The VM sits behind the NAT
// of its hypervisor, which forwards the public port to it.
const VMLocalIP = "10.0.2.15"

// Address is the underlay address of an interface.
type Address struct {
	PublicIP   string
	PublicPort int
	BindIP     string
	BindPort   int
}

// ResolveAddress returns the address a UserAS interface is configured with. VM installs always
// bind to VMLocalIP, everything else uses the requested address as is.
func ResolveAddress(installation domain.InstallationType, requested Address) Address {
	if installation == domain.InstallVM {
		requested.BindIP = VMLocalIP
	}
	return requested
}

func requestedAddress(conf *domain.AttachmentConf) Address {
	return Address{
		PublicIP:   conf.PublicIP,
		PublicPort: conf.PublicPort,
		BindIP:     conf.BindIP,
		BindPort:   conf.BindPort,
	}
}
