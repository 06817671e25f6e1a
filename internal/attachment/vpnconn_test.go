package attachment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/vpn"
)

func TestVPNConnectionManager_Ensure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := VPNConnectionManager{Allocator: vpn.Allocator{}}
	ap, err := f.st.AttachmentPoints.FindByID(ctx, f.ap("1-ff00:0:111"))
	require.NoError(t, err)

	client, v, err := m.Ensure(ctx, f.st, f.host("alice1"), ap)
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.2", client.IP)
	assert.True(t, client.Active)
	assert.Equal(t, "10.8.0.1", v.ServerVPNIP)

	again, _, err := m.Ensure(ctx, f.st, f.host("alice1"), ap)
	require.NoError(t, err)
	assert.Equal(t, client, again)
	assert.Equal(t, 1, countRows(t, f.ds, "vpn_clients"))

	require.NoError(t, f.st.VPNClients.SetActive(ctx, client.ID, false))
	reactivated, _, err := m.Ensure(ctx, f.st, f.host("alice1"), ap)
	require.NoError(t, err)
	assert.Equal(t, client.ID, reactivated.ID)
	assert.Equal(t, client.IP, reactivated.IP)
	assert.True(t, reactivated.Active)
	assert.Equal(t, 1, countRows(t, f.ds, "vpn_clients"))

	other, _, err := m.Ensure(ctx, f.st, f.host("bob1"), ap)
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.3", other.IP)
}

func TestVPNConnectionManager_Unsupported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ap, err := f.st.AttachmentPoints.FindByID(ctx, f.ap("1-ff00:0:112"))
	require.NoError(t, err)

	_, _, err = VPNConnectionManager{Allocator: vpn.Allocator{}}.Ensure(ctx, f.st, f.host("alice1"), ap)
	require.ErrorIs(t, err, ErrVPNUnsupported)
}

type failingAllocator struct{ err error }

func (a failingAllocator) CreateClient(context.Context, vpn.ClientStore, domain.VPN, int64, bool) (domain.VPNClient, error) {
	return domain.VPNClient{}, a.err
}

func TestService_AllocatorFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.ds, f.deployer, nil, Config{}, WithClientAllocator(failingAllocator{err: vpn.ErrSubnetExhausted}))
	links := countRows(t, f.ds, "links")

	_, err := f.svc.UpdateAttachments(context.Background(), f.alice(), []domain.AttachmentConf{
		{AttachmentPointID: f.ap("1-ff00:0:111"), PublicPort: 50000, UseVPN: true, Active: true},
	}, nil)
	require.True(t, errors.Is(err, vpn.ErrSubnetExhausted))
	assert.Equal(t, links, countRows(t, f.ds, "links"))
	assert.Equal(t, 0, countRows(t, f.ds, "vpn_clients"))
}
