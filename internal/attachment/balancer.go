package attachment

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/logging"
	"github.com/jbweber/homelab/uplink/internal/metrics"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

// RebalanceResult describes the border router layout of a host after rebalancing.
type RebalanceResult struct {
	HostID int64
	// InfraRouter carries the infrastructure and inactive interfaces.
	InfraRouter int64
	// AttachingRouters carry the active UserAS attachments, in the order they were filled.
	AttachingRouters []int64
	Created          []int64
	Deleted          []int64
	Moved            int // interfaces assigned to a different border router
}

// Changed reports whether rebalancing modified the topology.
func (r RebalanceResult) Changed() bool {
	return r.Moved > 0 || len(r.Created) > 0 || len(r.Deleted) > 0
}

// BorderRouterBalancer spreads the UserAS attachments of a host over border routers.
type BorderRouterBalancer struct{}

// Rebalance assigns the interfaces of the host to border routers. Active infrastructure
// interfaces and all inactive interfaces share the host's first border router. Active
// attaching interfaces are taken in interface identifier order and packed maxIfaces at a time
// onto the other border routers, reusing the lowest IDs first. Routers left without
// interfaces are deleted.
func (BorderRouterBalancer) Rebalance(ctx context.Context, s *repository.Store, hostID int64, maxIfaces int) (RebalanceResult, error) {
	if maxIfaces < 1 {
		return RebalanceResult{}, fmt.Errorf("max interfaces per border router must be positive, got %d: %w", maxIfaces, ErrInvalidState)
	}
	ifaces, err := s.Interfaces.ListHostInterfaces(ctx, hostID)
	if err != nil {
		return RebalanceResult{}, err
	}
	infra, err := s.BorderRouters.FirstOrCreate(ctx, hostID)
	if err != nil {
		return RebalanceResult{}, err
	}
	routers, err := s.BorderRouters.FindByHost(ctx, hostID)
	if err != nil {
		return RebalanceResult{}, err
	}
	var spare []int64
	for _, br := range routers {
		if br.ID != infra.ID {
			spare = append(spare, br.ID)
		}
	}

	result := RebalanceResult{HostID: hostID, InfraRouter: infra.ID}
	assign := func(iface repository.InterfaceUsage, brID int64) error {
		if iface.BorderRouterID == brID {
			return nil
		}
		result.Moved++
		return s.Interfaces.AssignBorderRouter(ctx, iface.ID, brID)
	}

	var attaching []repository.InterfaceUsage
	for _, iface := range ifaces {
		if iface.Active && iface.Attaching {
			attaching = append(attaching, iface)
			continue
		}
		if err := assign(iface, infra.ID); err != nil {
			return RebalanceResult{}, err
		}
	}

	for start := 0; start < len(attaching); start += maxIfaces {
		var brID int64
		if len(spare) > 0 {
			brID, spare = spare[0], spare[1:]
		} else {
			br, err := s.BorderRouters.Create(ctx, hostID)
			if err != nil {
				return RebalanceResult{}, err
			}
			brID = br.ID
			result.Created = append(result.Created, brID)
		}
		result.AttachingRouters = append(result.AttachingRouters, brID)

		end := min(start+maxIfaces, len(attaching))
		for _, iface := range attaching[start:end] {
			if err := assign(iface, brID); err != nil {
				return RebalanceResult{}, err
			}
		}
	}

	for _, brID := range spare {
		if err := s.BorderRouters.DeleteByID(ctx, brID); err != nil {
			return RebalanceResult{}, err
		}
		result.Deleted = append(result.Deleted, brID)
	}

	metrics.BorderRouterRebalances.WithLabelValues("created").Add(float64(len(result.Created)))
	metrics.BorderRouterRebalances.WithLabelValues("deleted").Add(float64(len(result.Deleted)))
	if result.Changed() {
		logging.WithHost(hostID).Infof("rebalanced border routers: %d attaching routers, %d interfaces moved, %d created, %d deleted",
			len(result.AttachingRouters), result.Moved, len(result.Created), len(result.Deleted))
	}
	return result, nil
}
