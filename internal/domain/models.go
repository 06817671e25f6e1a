package domain

import (
	"github.com/scionproto/scion/pkg/addr"
)

// MaxAPPerUserAS is the maximum number of attachment points a UserAS may be attached to.
const MaxAPPerUserAS = 5

// LinkType is the relation a Link expresses between its A and B side.
type LinkType string

const (
	LinkProvider LinkType = "PROVIDER" // A side is the parent of B
	LinkCore     LinkType = "CORE"
	LinkPeer     LinkType = "PEER"
)

// Valid reports whether t is one of the known link types.
func (t LinkType) Valid() bool {
	switch t {
	case LinkProvider, LinkCore, LinkPeer:
		return true
	}
	return false
}

// InstallationType describes how a UserAS runs its SCION services.
type InstallationType string

const (
	InstallVM  InstallationType = "VM"  // Vagrant virtual machine
	InstallPKG InstallationType = "PKG" // distribution packages
	InstallSRC InstallationType = "SRC" // built from source
)

// Valid reports whether t is one of the known installation types.
func (t InstallationType) Valid() bool {
	switch t {
	case InstallVM, InstallPKG, InstallSRC:
		return true
	}
	return false
}

// AS represents an autonomous system of the fabric
type AS struct {
	ID     int64    // Unique identifier
	ISD    addr.ISD // Isolation domain the AS belongs to
	ASN    addr.AS  // AS number, unique within the ISD
	Label  string   // Optional label
	Owner  string   // Owning user, empty for infrastructure ASes
	IsCore bool     // Core AS of its ISD
}

// IA returns the ISD-AS pair of the AS.
func (a AS) IA() addr.IA {
	return addr.MustIAFrom(a.ISD, a.ASN)
}

// UserAS is an AS owned by an end user, attached to the fabric through attachment points
type UserAS struct {
	AS
	InstallationType InstallationType
}

// Host represents a machine running SCION services of an AS
type Host struct {
	ID              int64  // Unique identifier
	ASID            int64  // Foreign key to AS
	Label           string // Optional label
	InternalIP      string // AS-internal address
	PublicIP        string // Default public IP of interfaces on this host (optional)
	BindIP          string // Default bind IP of interfaces on this host (optional)
	ConfigVersion   int64  // Bumped on every configuration change
	DeployedVersion int64  // Last configuration version deployed to the host
}

// NeedsDeployment reports whether the host has configuration changes not yet deployed.
func (h Host) NeedsDeployment() bool {
	return h.ConfigVersion > h.DeployedVersion
}

// BorderRouter represents a border router process on a host
type BorderRouter struct {
	ID     int64 // Unique identifier
	HostID int64 // Foreign key to Host
}

// Interface is one endpoint of a Link
type Interface struct {
	ID             int64  // Unique identifier
	InterfaceID    int64  // AS-local interface identifier
	ASID           int64  // Foreign key to AS
	HostID         int64  // Foreign key to Host
	BorderRouterID int64  // Foreign key to BorderRouter
	PublicIP       string // Overrides the host public IP when set
	PublicPort     int
	BindIP         string // Optional, for NAT traversal
	BindPort       int
}

// Link connects two interfaces of different ASes
type Link struct {
	ID           int64 // Unique identifier
	Type         LinkType
	InterfaceAID int64 // Foreign key to Interface (parent side for PROVIDER links)
	InterfaceBID int64 // Foreign key to Interface (child side for PROVIDER links)
	Active       bool
}

// AttachmentPoint marks an AS as a gateway UserASes can attach to
type AttachmentPoint struct {
	ID    int64  // Unique identifier
	ASID  int64  // Foreign key to AS
	VPNID *int64 // Foreign key to VPN (optional)
}

// HasVPN reports whether the attachment point offers VPN connections.
func (ap AttachmentPoint) HasVPN() bool {
	return ap.VPNID != nil
}

// VPN is an OpenVPN server configuration of an attachment point
type VPN struct {
	ID           int64  // Unique identifier
	ServerHostID int64  // Foreign key to Host running the server
	Subnet       string // Tunnel subnet in CIDR notation
	ServerVPNIP  string // Tunnel address of the server
	ServerPort   int
}

// VPNClient is the tunnel endpoint of a host connecting to a VPN
type VPNClient struct {
	ID     int64  // Unique identifier
	VPNID  int64  // Foreign key to VPN
	HostID int64  // Foreign key to Host
	IP     string // Tunnel address assigned to the client
	Active bool
}
