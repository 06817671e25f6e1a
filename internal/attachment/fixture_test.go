package attachment

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/uplink/internal/asid"
	"github.com/jbweber/homelab/uplink/internal/datastore"
	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/repository"
	"github.com/jbweber/homelab/uplink/internal/seed"
	"github.com/jbweber/homelab/uplink/internal/testutil"
)

type recordingDeployer struct {
	mu        sync.Mutex
	scheduled []int64
}

func (d *recordingDeployer) Schedule(hostID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled = append(d.scheduled, hostID)
}

func (d *recordingDeployer) count(hostID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, id := range d.scheduled {
		if id == hostID {
			n++
		}
	}
	return n
}

func (d *recordingDeployer) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scheduled)
}

type fixture struct {
	ds       *datastore.Datastore
	ids      *seed.Result
	svc      *Service
	deployer *recordingDeployer
	st       *repository.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ds := testutil.SetupTestDatastore(t)
	ids := testutil.SeedTopology(t, ds, testutil.Topology)
	asids, err := asid.NewAllocator("ffaa:1:1", "ffaa:1:ffff")
	require.NoError(t, err)
	deployer := &recordingDeployer{}
	svc := NewService(ds, deployer, asids, Config{MaxIfacesPerRouter: 2, MaxASPerUser: 3, AllowPrivateIPs: true})
	return &fixture{ds: ds, ids: ids, svc: svc, deployer: deployer, st: repository.NewStore(ds.DB)}
}

func (f *fixture) ap(ia string) int64 { return f.ids.AttachmentPoints[ia] }
func (f *fixture) as(ia string) int64 { return f.ids.ASes[ia] }
func (f *fixture) host(name string) int64 { return f.ids.Hosts[name] }

func (f *fixture) alice() int64 { return f.as("1-ffaa:1:1") }
func (f *fixture) bob() int64 { return f.as("1-ffaa:1:2") }

// attach creates one direct attachment of the UserAS and returns its link.
func (f *fixture) attach(t *testing.T, userASID, apID int64, ip string, port int) int64 {
	t.Helper()
	confs, err := f.svc.UpdateAttachments(context.Background(), userASID, []domain.AttachmentConf{
		{AttachmentPointID: apID, PublicIP: ip, PublicPort: port, Active: true},
	}, nil)
	require.NoError(t, err)
	linkID, ok := confs[0].LinkID()
	require.True(t, ok)
	return linkID
}

// newUser creates a UserAS attached to apID and returns the ID of its attachment link.
func (f *fixture) newUser(t *testing.T, owner string, apID int64, port int) (int64, int64) {
	t.Helper()
	u, confs, err := f.svc.CreateUserAS(context.Background(), NewUserAS{Owner: owner, InstallationType: domain.InstallPKG},
		[]domain.AttachmentConf{{AttachmentPointID: apID, PublicIP: "203.0.113.5", PublicPort: port, Active: true}})
	require.NoError(t, err)
	linkID, ok := confs[0].LinkID()
	require.True(t, ok)
	return u.ID, linkID
}

func (f *fixture) linkInterfaces(t *testing.T, linkID int64) (domain.Link, domain.Interface, domain.Interface) {
	t.Helper()
	ctx := context.Background()
	link, err := f.st.Links.FindByID(ctx, linkID)
	require.NoError(t, err)
	a, b, err := linkInterfaces(ctx, f.st, link)
	require.NoError(t, err)
	return link, a, b
}

func countRows(t *testing.T, ds *datastore.Datastore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, ds.DB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func routerIDs(t *testing.T, st *repository.Store, hostID int64) []int64 {
	t.Helper()
	brs, err := st.BorderRouters.FindByHost(context.Background(), hostID)
	require.NoError(t, err)
	var ids []int64
	for _, br := range brs {
		ids = append(ids, br.ID)
	}
	return ids
}
