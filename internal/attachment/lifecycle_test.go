package attachment

import (
	"context"
	"testing"

	"github.com/scionproto/scion/pkg/addr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/uplink/internal/asid"
	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

func TestCreateUserAS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, confs, err := f.svc.CreateUserAS(ctx, NewUserAS{Owner: "carol", Label: "home", InstallationType: domain.InstallPKG},
		[]domain.AttachmentConf{{AttachmentPointID: f.ap("2-ff00:0:211"), PublicIP: "203.0.113.5", PublicPort: 50000, Active: true}})
	require.NoError(t, err)
	assert.Equal(t, "2-ffaa:1:3", u.IA().String())
	assert.Equal(t, "carol", u.Owner)
	assert.Equal(t, "home", u.Label)
	require.Len(t, confs, 1)
	_, bound := confs[0].LinkID()
	assert.True(t, bound)

	hosts, err := f.st.Hosts.FindByAS(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "127.0.0.1", hosts[0].InternalIP)
	assert.Equal(t, 1, f.deployer.count(f.host("ap3")))

	active, err := f.svc.IsActive(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCreateUserAS_WithoutAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, confs, err := f.svc.CreateUserAS(ctx, NewUserAS{Owner: "dave", InstallationType: domain.InstallSRC, ISD: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, addr.ISD(2), u.ISD)
	assert.Empty(t, confs)

	_, _, err = f.svc.CreateUserAS(ctx, NewUserAS{Owner: "dave", InstallationType: domain.InstallSRC}, nil)
	assert.ErrorIs(t, err, ErrInvalidState, "an ISD is needed when nothing is attached")
}

func TestCreateUserAS_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ap1 := f.ap("1-ff00:0:111")

	// alice already owns one of her three ASes
	for i := 0; i < 2; i++ {
		_, _, err := f.svc.CreateUserAS(ctx, NewUserAS{Owner: "alice", InstallationType: domain.InstallVM, ISD: 1}, nil)
		require.NoError(t, err)
	}
	_, _, err := f.svc.CreateUserAS(ctx, NewUserAS{Owner: "alice", InstallationType: domain.InstallVM, ISD: 1}, nil)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, err = f.svc.CreateUserAS(ctx, NewUserAS{Owner: "erin", InstallationType: domain.InstallPKG},
		[]domain.AttachmentConf{{AttachmentPointID: ap1, PublicIP: "203.0.113.5", PublicPort: 50000, Active: true, Link: domain.Bound{LinkID: 1}}})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, err = f.svc.CreateUserAS(ctx, NewUserAS{Owner: "erin", InstallationType: "DOCKER", ISD: 1}, nil)
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)

	// a failed attachment leaves no AS behind
	before := countRows(t, f.ds, "ases")
	_, _, err = f.svc.CreateUserAS(ctx, NewUserAS{Owner: "erin", InstallationType: domain.InstallPKG},
		[]domain.AttachmentConf{{AttachmentPointID: f.ap("1-ff00:0:112"), PublicPort: 50000, UseVPN: true, Active: true}})
	assert.ErrorIs(t, err, ErrVPNUnsupported)
	assert.Equal(t, before, countRows(t, f.ds, "ases"))
}

func TestCreateUserAS_RangeExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asids, err := asid.NewAllocator("ffaa:1:1", "ffaa:1:3")
	require.NoError(t, err)
	f.svc = NewService(f.ds, f.deployer, asids, Config{})

	_, _, err = f.svc.CreateUserAS(ctx, NewUserAS{Owner: "frank", InstallationType: domain.InstallPKG, ISD: 1}, nil)
	require.NoError(t, err)
	_, _, err = f.svc.CreateUserAS(ctx, NewUserAS{Owner: "frank", InstallationType: domain.InstallPKG, ISD: 1}, nil)
	assert.ErrorIs(t, err, asid.ErrRangeExhausted)
}

func TestUpdateUserAS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	linkID := f.attach(t, f.alice(), f.ap("1-ff00:0:111"), "203.0.113.5", 50000)
	_, _, userIface := f.linkInterfaces(t, linkID)
	require.Equal(t, VMLocalIP, userIface.BindIP)

	u, err := f.svc.UpdateUserAS(ctx, f.alice(), "laptop", domain.InstallPKG)
	require.NoError(t, err)
	assert.Equal(t, "laptop", u.Label)
	assert.Equal(t, domain.InstallPKG, u.InstallationType)

	_, _, userIface = f.linkInterfaces(t, linkID)
	assert.Empty(t, userIface.BindIP)
	assert.Equal(t, "203.0.113.5", userIface.PublicIP)

	// back to a VM
	_, err = f.svc.UpdateUserAS(ctx, f.alice(), "laptop", domain.InstallVM)
	require.NoError(t, err)
	_, _, userIface = f.linkInterfaces(t, linkID)
	assert.Equal(t, VMLocalIP, userIface.BindIP)

	_, err = f.svc.UpdateUserAS(ctx, 999, "x", domain.InstallVM)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteUserAS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ases, interfaces := countRows(t, f.ds, "ases"), countRows(t, f.ds, "interfaces")

	_, err := f.svc.UpdateAttachments(ctx, f.alice(), []domain.AttachmentConf{
		{AttachmentPointID: f.ap("1-ff00:0:111"), PublicPort: 50000, UseVPN: true, Active: true},
		{AttachmentPointID: f.ap("1-ff00:0:112"), PublicIP: "2001:db8::5", PublicPort: 50000, Active: true},
	}, nil)
	require.NoError(t, err)
	scheduled := f.deployer.count(f.host("ap2"))

	require.NoError(t, f.svc.DeleteUserAS(ctx, f.alice()))

	_, err = f.svc.UserAS(ctx, f.alice())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, ases-1, countRows(t, f.ds, "ases"))
	assert.Equal(t, interfaces, countRows(t, f.ds, "interfaces"))
	assert.Equal(t, 0, countRows(t, f.ds, "vpn_clients"))
	assert.Len(t, routerIDs(t, f.st, f.host("ap1")), 1)
	assert.Len(t, routerIDs(t, f.st, f.host("ap2")), 1)
	assert.Equal(t, scheduled+1, f.deployer.count(f.host("ap2")))

	assert.ErrorIs(t, f.svc.DeleteUserAS(ctx, f.alice()), repository.ErrNotFound)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.attach(t, f.bob(), f.ap("1-ff00:0:111"), "203.0.113.5", 50000)

	require.NoError(t, f.svc.SetActive(ctx, f.bob(), false))
	active, err := f.svc.IsActive(ctx, f.bob())
	require.NoError(t, err)
	assert.False(t, active)
	assert.Len(t, routerIDs(t, f.st, f.host("ap1")), 1)

	require.NoError(t, f.svc.SetActive(ctx, f.bob(), true))
	active, err = f.svc.IsActive(ctx, f.bob())
	require.NoError(t, err)
	assert.True(t, active)
	assert.Len(t, routerIDs(t, f.st, f.host("ap1")), 2)
	assert.Equal(t, 3, f.deployer.count(f.host("ap1")))
}

func TestSetActive_ISDConsistency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	isd1Link := f.attach(t, f.bob(), f.ap("1-ff00:0:111"), "203.0.113.5", 50000)
	bound, err := f.svc.UpdateAttachments(ctx, f.bob(), []domain.AttachmentConf{
		{AttachmentPointID: f.ap("1-ff00:0:111"), PublicIP: "203.0.113.5", PublicPort: 50000, Link: domain.Bound{LinkID: isd1Link}},
		{AttachmentPointID: f.ap("2-ff00:0:211"), PublicIP: "203.0.113.5", PublicPort: 50001, Active: true},
	}, nil)
	require.NoError(t, err)
	isd2Link, _ := bound[1].LinkID()

	// one inactive link in ISD 1, one active link in ISD 2
	require.ErrorIs(t, f.svc.SetActive(ctx, f.bob(), true), ErrISDConsistency)
	activeAPs, err := f.svc.AttachmentPoints(ctx, f.bob(), true)
	require.NoError(t, err)
	require.Len(t, activeAPs, 1)
	assert.Equal(t, f.ap("2-ff00:0:211"), activeAPs[0].ID)

	require.NoError(t, f.svc.SetActive(ctx, f.bob(), false))

	// with only the ISD 1 link left, activating moves the UserAS back
	_, err = f.svc.UpdateAttachments(ctx, f.bob(), nil, []int64{isd2Link})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetActive(ctx, f.bob(), true))
	u, err := f.st.UserASes.FindByID(ctx, f.bob())
	require.NoError(t, err)
	assert.Equal(t, "1-ffaa:1:2", u.IA().String())
	active, err := f.svc.IsActive(ctx, f.bob())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCurrentAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.svc.CurrentAttachments(ctx, f.alice())
	require.NoError(t, err)
	assert.Empty(t, none)

	bound, err := f.svc.UpdateAttachments(ctx, f.alice(), []domain.AttachmentConf{
		{AttachmentPointID: f.ap("1-ff00:0:111"), PublicPort: 50000, UseVPN: true, Active: true},
		{AttachmentPointID: f.ap("1-ff00:0:112"), PublicIP: "2001:db8::5", PublicPort: 50001, BindPort: 40000, Active: true},
	}, nil)
	require.NoError(t, err)
	bound[1].Active = false
	bound, err = f.svc.UpdateAttachments(ctx, f.alice(), bound, nil)
	require.NoError(t, err)

	current, err := f.svc.CurrentAttachments(ctx, f.alice())
	require.NoError(t, err)
	want := []domain.AttachmentConf{
		{AttachmentPointID: f.ap("1-ff00:0:111"), PublicPort: 50000, UseVPN: true, Active: true, Link: bound[0].Link},
		{AttachmentPointID: f.ap("1-ff00:0:112"), PublicIP: "2001:db8::5", PublicPort: 50001, BindIP: VMLocalIP, BindPort: 40000, Link: bound[1].Link},
	}
	assert.Equal(t, want, current)

	// the reconstructed confs apply without changes
	interfaces := countRows(t, f.ds, "interfaces")
	_, err = f.svc.UpdateAttachments(ctx, f.alice(), current, nil)
	require.NoError(t, err)
	assert.Equal(t, interfaces, countRows(t, f.ds, "interfaces"))
}
