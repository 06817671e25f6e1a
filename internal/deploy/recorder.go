package deploy

import (
	"context"

	"github.com/jbweber/homelab/uplink/internal/datastore"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

// Recorder returns a Func that marks the current configuration version of a host as deployed.
// Rendering and shipping the configuration is left to the host side, which polls for it.
func Recorder(ds *datastore.Datastore) Func {
	return func(ctx context.Context, hostID int64) error {
		return ds.Transact(ctx, func(ctx context.Context, tx *datastore.Tx) error {
			hosts := repository.NewStore(tx).Hosts
			host, err := hosts.FindByID(ctx, hostID)
			if err != nil {
				return err
			}
			return hosts.MarkDeployed(ctx, host.ID, host.ConfigVersion)
		})
	}
}
