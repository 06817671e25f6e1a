package testutil

import (
	"context"
	"testing"

	"github.com/jbweber/homelab/uplink/internal/datastore"
	"github.com/jbweber/homelab/uplink/internal/seed"
)

// Topology is a small fixture fabric. ISD 1 has a core AS and two attachment points, the
// first offering VPN. ISD 2 has one attachment point. Two UserASes exist without any
// attachment: alice's runs in a VM, bob's from packages.
const Topology = `
ases:
  - ia: 1-ff00:0:110
    core: true
    hosts:
      - {name: core1, internal_ip: 10.1.0.1, public_ip: 192.0.2.1}
  - ia: 1-ff00:0:111
    label: AP with VPN
    hosts:
      - {name: ap1, internal_ip: 10.1.1.1, public_ip: 192.0.2.11}
    attachment_point:
      vpn: {server_host: ap1, subnet: 10.8.0.0/24, server_ip: 10.8.0.1, port: 1194}
  - ia: 1-ff00:0:112
    label: IPv6 AP
    hosts:
      - {name: ap2, internal_ip: 10.1.2.1, public_ip: "2001:db8::12"}
    attachment_point: {}
  - ia: 2-ff00:0:210
    core: true
    hosts:
      - {name: core2, internal_ip: 10.2.0.1, public_ip: 198.51.100.1}
  - ia: 2-ff00:0:211
    label: ISD 2 AP
    hosts:
      - {name: ap3, internal_ip: 10.2.1.1, public_ip: 198.51.100.21}
    attachment_point: {}
  - ia: 1-ffaa:1:1
    owner: alice
    installation: VM
    hosts:
      - {name: alice1, internal_ip: 127.0.0.1}
  - ia: 1-ffaa:1:2
    owner: bob
    installation: PKG
    hosts:
      - {name: bob1, internal_ip: 127.0.0.1}
links:
  - {type: PROVIDER, a: core1, b: ap1}
  - {type: PROVIDER, a: core1, b: ap2}
  - {type: PROVIDER, a: core2, b: ap3}
`

// SetupTestDatastore opens a migrated in-memory datastore that is closed with the test.
func SetupTestDatastore(t *testing.T) *datastore.Datastore {
	t.Helper()
	ds, err := datastore.New(t.Name(), &datastore.Options{InMemory: true, RetryBackoff: 1})
	if err != nil {
		t.Fatalf("Failed to open test datastore: %v", err)
	}
	t.Cleanup(func() {
		if err := ds.Close(); err != nil {
			t.Logf("Warning: failed to close datastore: %v", err)
		}
	})
	return ds
}

// SeedTopology applies the seed YAML to ds.
func SeedTopology(t *testing.T, ds *datastore.Datastore, yaml string) *seed.Result {
	t.Helper()
	topo, err := seed.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to parse topology: %v", err)
	}
	result, err := seed.Apply(context.Background(), ds, topo)
	if err != nil {
		t.Fatalf("Failed to seed topology: %v", err)
	}
	return result
}
