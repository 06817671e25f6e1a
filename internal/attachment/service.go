// Package attachment reconciles the links between UserASes and the attachment points they
// connect to, and keeps the border routers of attachment points balanced.
package attachment

import (
	"context"
	"errors"
	"fmt"

	"github.com/scionproto/scion/pkg/addr"

	"github.com/jbweber/homelab/uplink/internal/asid"
	"github.com/jbweber/homelab/uplink/internal/datastore"
	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/logging"
	"github.com/jbweber/homelab/uplink/internal/metrics"
	"github.com/jbweber/homelab/uplink/internal/repository"
	"github.com/jbweber/homelab/uplink/internal/vpn"
)

// DefaultMaxIfacesPerRouter is the number of UserAS attachments one border router carries.
const DefaultMaxIfacesPerRouter = 10

// defaultInternalIP is the internal address of the single host of a new UserAS.
const defaultInternalIP = "127.0.0.1"

var (
	invalidErrors = []error{
		ErrISDConsistency, ErrInvalidState, ErrInvalidAttachment,
		repository.ErrNotFound, repository.ErrInvalidEntity, repository.ErrDuplicate,
		asid.ErrRangeExhausted, vpn.ErrSubnetExhausted,
	}
	conflictErrors = []error{datastore.ErrConcurrentModification, datastore.ErrConstraintViolation}
)

// Deployer schedules the deployment of a host's configuration. It is only called after the
// change has been committed.
type Deployer interface {
	Schedule(hostID int64)
}

// Config holds the tunables of the service.
type Config struct {
	MaxIfacesPerRouter int
	MaxASPerUser       int // 0 means unlimited
	AllowPrivateIPs    bool
}

// Option configures a Service.
type Option func(*Service)

// WithStatementCache runs the read-only queries of the service through cached prepared
// statements.
func WithStatementCache(cache *repository.PreparedStatementCache) Option {
	return func(s *Service) {
		s.reads = repository.NewCachedStore(s.ds.DB, cache)
	}
}

// WithClientAllocator replaces the allocator of VPN client addresses.
func WithClientAllocator(a ClientAllocator) Option {
	return func(s *Service) {
		s.reconciler.VPN.Allocator = a
	}
}

// Service applies attachment changes of UserASes. Every mutating operation runs in one
// transaction and schedules deployments of the changed hosts once it has been committed.
type Service struct {
	ds       *datastore.Datastore
	deployer Deployer
	asids    *asid.Allocator
	cfg      Config

	reads      *repository.Store
	reconciler LinkReconciler
	balancer   BorderRouterBalancer
	validator  Validator
}

// NewService creates the service. deployer may be nil when deployments are handled elsewhere.
func NewService(ds *datastore.Datastore, deployer Deployer, asids *asid.Allocator, cfg Config, opts ...Option) *Service {
	if cfg.MaxIfacesPerRouter <= 0 {
		cfg.MaxIfacesPerRouter = DefaultMaxIfacesPerRouter
	}
	s := &Service{
		ds:         ds,
		deployer:   deployer,
		asids:      asids,
		cfg:        cfg,
		reads:      repository.NewStore(ds.DB),
		reconciler: LinkReconciler{VPN: VPNConnectionManager{Allocator: vpn.Allocator{}}},
		validator:  Validator{AllowPrivateIPs: cfg.AllowPrivateIPs},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) observe(operation string, err error) {
	metrics.Reconciliations.WithLabelValues(operation, metrics.ResultOf(err, invalidErrors, conflictErrors)).Inc()
}

// UpdateAttachments applies the desired attachments of a UserAS and removes the links in
// removed. The returned confs are copies of desired, bound to their links.
func (s *Service) UpdateAttachments(ctx context.Context, userASID int64, desired []domain.AttachmentConf, removed []int64) (_ []domain.AttachmentConf, err error) {
	defer func() { s.observe("update_attachments", err) }()
	log := logging.WithUserAS(userASID)
	log.Infof("updating attachments: %d desired, %d removed", len(desired), len(removed))

	var result []domain.AttachmentConf
	err = s.ds.Transact(ctx, func(ctx context.Context, tx *datastore.Tx) error {
		confs := append([]domain.AttachmentConf(nil), desired...)
		if err := s.updateAttachments(ctx, tx, repository.NewStore(tx), userASID, confs, removed); err != nil {
			return err
		}
		result = confs
		return nil
	})
	if err != nil {
		log.Warnf("failed to update attachments: %v", err)
		return nil, err
	}
	log.Infof("attachments updated")
	return result, nil
}

func (s *Service) updateAttachments(ctx context.Context, tx *datastore.Tx, st *repository.Store, userASID int64, confs []domain.AttachmentConf, removed []int64) error {
	userAS, err := st.UserASes.FindByID(ctx, userASID)
	if err != nil {
		return err
	}
	userHost, err := s.userHost(ctx, st, userAS)
	if err != nil {
		return err
	}

	affected := newAPSet()
	for _, conf := range confs {
		ap, err := st.AttachmentPoints.FindByID(ctx, conf.AttachmentPointID)
		if err != nil {
			return err
		}
		affected.add(ap)
	}
	for _, linkID := range removed {
		if err := checkOwnedLink(ctx, st, userAS, linkID); err != nil {
			return err
		}
		ap, err := st.AttachmentPoints.FindByLink(ctx, linkID)
		if err != nil {
			return err
		}
		affected.add(ap)
	}

	kept, err := keptLinks(ctx, st, userAS.ID, confs, removed)
	if err != nil {
		return err
	}
	if n := len(confs) + len(kept); n > domain.MaxAPPerUserAS {
		return fmt.Errorf("UserAS %d cannot have %d attachments, the limit is %d: %w",
			userAS.ID, n, domain.MaxAPPerUserAS, ErrInvalidState)
	}
	if err := s.assignISD(ctx, st, &userAS, affected, confs, kept); err != nil {
		return err
	}

	for i := range confs {
		if _, err := s.reconciler.Reconcile(ctx, st, userAS, userHost, &confs[i]); err != nil {
			return err
		}
	}
	for _, linkID := range removed {
		if err := s.reconciler.Delete(ctx, st, linkID); err != nil {
			return err
		}
	}

	if err := s.rebalanceAndDeploy(ctx, tx, st, affected); err != nil {
		return err
	}

	usedVPNs := make(map[int64]bool)
	for _, conf := range confs {
		if ap := affected.byID[conf.AttachmentPointID]; conf.Active && conf.UseVPN && ap.HasVPN() {
			usedVPNs[*ap.VPNID] = true
		}
	}
	if err := deactivateUnusedVPNClients(ctx, st, userHost.ID, usedVPNs); err != nil {
		return err
	}

	if _, err := st.UserASes.Save(ctx, userAS); err != nil {
		return err
	}
	return st.Hosts.BumpConfigVersion(ctx, userHost.ID)
}

// assignISD moves the UserAS into the ISD of its active attachments, counting both confs and
// the kept links.
func (s *Service) assignISD(ctx context.Context, st *repository.Store, userAS *domain.UserAS, aps *apSet, confs []domain.AttachmentConf, kept []domain.Link) error {
	isds := make(map[addr.ISD]bool)
	for _, conf := range confs {
		if !conf.Active {
			continue
		}
		as, err := st.ASes.FindByID(ctx, aps.byID[conf.AttachmentPointID].ASID)
		if err != nil {
			return err
		}
		isds[as.ISD] = true
	}
	for _, l := range kept {
		if !l.Active {
			continue
		}
		isd, err := linkISD(ctx, st, l.ID)
		if err != nil {
			return err
		}
		isds[isd] = true
	}
	return moveToISD(ctx, st, userAS, isds)
}

// moveToISD sets the ISD of the UserAS to the single ISD in isds. It fails with
// ErrISDConsistency if isds holds more than one ISD and does nothing if it is empty.
func moveToISD(ctx context.Context, st *repository.Store, userAS *domain.UserAS, isds map[addr.ISD]bool) error {
	if len(isds) > 1 {
		return fmt.Errorf("active attachments of UserAS %d span %d ISDs: %w", userAS.ID, len(isds), ErrISDConsistency)
	}
	for isd := range isds {
		if isd == userAS.ISD {
			return nil
		}
		logging.WithUserAS(userAS.ID).Infof("moving UserAS from ISD %d to ISD %d", userAS.ISD, isd)
		if err := st.ASes.SetISD(ctx, userAS.ID, isd); err != nil {
			return err
		}
		userAS.ISD = isd
	}
	return nil
}

// keptLinks returns the attachment links of the UserAS that are neither bound by confs nor
// removed. They stay as they are.
func keptLinks(ctx context.Context, st *repository.Store, userASID int64, confs []domain.AttachmentConf, removed []int64) ([]domain.Link, error) {
	touched := make(map[int64]bool)
	for _, conf := range confs {
		if linkID, ok := conf.LinkID(); ok {
			touched[linkID] = true
		}
	}
	for _, linkID := range removed {
		touched[linkID] = true
	}
	links, err := st.Links.FindByChildAS(ctx, userASID)
	if err != nil {
		return nil, err
	}
	var kept []domain.Link
	for _, l := range links {
		if !touched[l.ID] {
			kept = append(kept, l)
		}
	}
	return kept, nil
}

// linkISD returns the ISD of the attachment point at the parent end of the link.
func linkISD(ctx context.Context, st *repository.Store, linkID int64) (addr.ISD, error) {
	ap, err := st.AttachmentPoints.FindByLink(ctx, linkID)
	if err != nil {
		return 0, err
	}
	as, err := st.ASes.FindByID(ctx, ap.ASID)
	if err != nil {
		return 0, err
	}
	return as.ISD, nil
}

func (s *Service) rebalanceAndDeploy(ctx context.Context, tx *datastore.Tx, st *repository.Store, aps *apSet) error {
	for _, ap := range aps.order {
		host, err := AttachmentHost(ctx, st, ap)
		if err != nil {
			return err
		}
		if _, err := s.balancer.Rebalance(ctx, st, host.ID, s.cfg.MaxIfacesPerRouter); err != nil {
			return err
		}
		if err := s.triggerDeployment(ctx, tx, st, ap); err != nil {
			return err
		}
	}
	return nil
}

// triggerDeployment marks every host of the attachment point's AS as changed and schedules
// their deployment for after the commit.
func (s *Service) triggerDeployment(ctx context.Context, tx *datastore.Tx, st *repository.Store, ap domain.AttachmentPoint) error {
	hosts, err := st.Hosts.FindByAS(ctx, ap.ASID)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		if err := s.bumpHost(ctx, tx, st, h.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) bumpHost(ctx context.Context, tx *datastore.Tx, st *repository.Store, hostID int64) error {
	if err := st.Hosts.BumpConfigVersion(ctx, hostID); err != nil {
		return err
	}
	if s.deployer != nil {
		tx.AfterCommit(func() { s.deployer.Schedule(hostID) })
	}
	return nil
}

func (s *Service) userHost(ctx context.Context, st *repository.Store, userAS domain.UserAS) (domain.Host, error) {
	hosts, err := st.Hosts.FindByAS(ctx, userAS.ID)
	if err != nil {
		return domain.Host{}, err
	}
	if len(hosts) != 1 {
		return domain.Host{}, fmt.Errorf("UserAS %d has %d hosts, expected one: %w", userAS.ID, len(hosts), ErrInvalidState)
	}
	return hosts[0], nil
}

// checkOwnedLink ensures linkID is an attachment link of the UserAS.
func checkOwnedLink(ctx context.Context, st *repository.Store, userAS domain.UserAS, linkID int64) error {
	link, err := st.Links.FindByID(ctx, linkID)
	if err != nil {
		return err
	}
	userIface, err := st.Interfaces.FindByID(ctx, link.InterfaceBID)
	if err != nil {
		return err
	}
	if link.Type != domain.LinkProvider || userIface.ASID != userAS.ID {
		return fmt.Errorf("link %d is not an attachment of UserAS %d: %w", linkID, userAS.ID, ErrInvalidState)
	}
	return nil
}

func deactivateUnusedVPNClients(ctx context.Context, st *repository.Store, hostID int64, used map[int64]bool) error {
	clients, err := st.VPNClients.FindByHost(ctx, hostID)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if c.Active && !used[c.VPNID] {
			if err := st.VPNClients.SetActive(ctx, c.ID, false); err != nil {
				return err
			}
			logging.WithHost(hostID).Debugf("deactivated VPN client %s of VPN %d", c.IP, c.VPNID)
		}
	}
	return nil
}

// SplitBorderRouters rebalances the border routers of an attachment point's attachment host.
// maxIfaces <= 0 uses the configured limit.
func (s *Service) SplitBorderRouters(ctx context.Context, apID int64, maxIfaces int) (result RebalanceResult, err error) {
	defer func() { s.observe("split_border_routers", err) }()
	if maxIfaces <= 0 {
		maxIfaces = s.cfg.MaxIfacesPerRouter
	}
	err = s.ds.Transact(ctx, func(ctx context.Context, tx *datastore.Tx) error {
		st := repository.NewStore(tx)
		ap, err := st.AttachmentPoints.FindByID(ctx, apID)
		if err != nil {
			return err
		}
		host, err := AttachmentHost(ctx, st, ap)
		if err != nil {
			return err
		}
		if result, err = s.balancer.Rebalance(ctx, st, host.ID, maxIfaces); err != nil {
			return err
		}
		if result.Changed() {
			return s.triggerDeployment(ctx, tx, st, ap)
		}
		return nil
	})
	return result, err
}

// IsActive reports whether any attachment of the UserAS is active.
func (s *Service) IsActive(ctx context.Context, userASID int64) (bool, error) {
	if _, err := s.reads.UserASes.FindByID(ctx, userASID); err != nil {
		return false, err
	}
	links, err := s.reads.Links.FindByChildAS(ctx, userASID)
	if err != nil {
		return false, err
	}
	for _, l := range links {
		if l.Active {
			return true, nil
		}
	}
	return false, nil
}

// AttachmentPoints lists the attachment points the UserAS is attached to, ordered by link.
func (s *Service) AttachmentPoints(ctx context.Context, userASID int64, activeOnly bool) ([]domain.AttachmentPoint, error) {
	links, err := s.reads.Links.FindByChildAS(ctx, userASID)
	if err != nil {
		return nil, err
	}
	aps := []domain.AttachmentPoint{}
	for _, l := range links {
		if activeOnly && !l.Active {
			continue
		}
		ap, err := s.reads.AttachmentPoints.FindByLink(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		aps = append(aps, ap)
	}
	return aps, nil
}

// CurrentAttachments returns the configuration of the existing attachments of the UserAS.
func (s *Service) CurrentAttachments(ctx context.Context, userASID int64) ([]domain.AttachmentConf, error) {
	return currentAttachments(ctx, s.reads, userASID)
}

func currentAttachments(ctx context.Context, st *repository.Store, userASID int64) ([]domain.AttachmentConf, error) {
	links, err := st.Links.FindByChildAS(ctx, userASID)
	if err != nil {
		return nil, err
	}
	confs := []domain.AttachmentConf{}
	for _, l := range links {
		ap, err := st.AttachmentPoints.FindByLink(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		userIface, err := st.Interfaces.FindByID(ctx, l.InterfaceBID)
		if err != nil {
			return nil, err
		}
		useVPN, err := isLinkOverVPN(ctx, st, userIface)
		if err != nil {
			return nil, err
		}
		conf := domain.AttachmentConf{
			AttachmentPointID: ap.ID,
			PublicPort:        userIface.PublicPort,
			BindPort:          userIface.BindPort,
			UseVPN:            useVPN,
			Active:            l.Active,
			Link:              domain.Bound{LinkID: l.ID},
		}
		if !useVPN {
			conf.PublicIP = userIface.PublicIP
			conf.BindIP = userIface.BindIP
		}
		confs = append(confs, conf)
	}
	return confs, nil
}

// isLinkOverVPN reports whether the interface uses the tunnel address of a VPN client of its
// host.
func isLinkOverVPN(ctx context.Context, st *repository.Store, iface domain.Interface) (bool, error) {
	if iface.PublicIP == "" {
		return false, nil
	}
	_, err := st.VPNClients.FindByHostAndIP(ctx, iface.HostID, iface.PublicIP)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Validate checks confs as the complete attachment set of a UserAS of the given
// installation type.
func (s *Service) Validate(ctx context.Context, installation domain.InstallationType, confs []domain.AttachmentConf) error {
	return s.validator.Validate(ctx, s.reads, installation, confs)
}

// UserAS returns the UserAS with the given ID.
func (s *Service) UserAS(ctx context.Context, id int64) (domain.UserAS, error) {
	return s.reads.UserASes.FindByID(ctx, id)
}

// SetActive activates or deactivates all attachments of the UserAS.
func (s *Service) SetActive(ctx context.Context, userASID int64, active bool) (err error) {
	defer func() { s.observe("set_active", err) }()
	err = s.ds.Transact(ctx, func(ctx context.Context, tx *datastore.Tx) error {
		st := repository.NewStore(tx)
		userAS, err := st.UserASes.FindByID(ctx, userASID)
		if err != nil {
			return err
		}
		userHost, err := s.userHost(ctx, st, userAS)
		if err != nil {
			return err
		}
		links, err := st.Links.FindByChildAS(ctx, userASID)
		if err != nil {
			return err
		}
		affected := newAPSet()
		isds := make(map[addr.ISD]bool)
		for _, l := range links {
			ap, err := st.AttachmentPoints.FindByLink(ctx, l.ID)
			if err != nil {
				return err
			}
			affected.add(ap)
			as, err := st.ASes.FindByID(ctx, ap.ASID)
			if err != nil {
				return err
			}
			isds[as.ISD] = true
		}
		if active {
			if err := moveToISD(ctx, st, &userAS, isds); err != nil {
				return err
			}
		}
		for _, l := range links {
			if err := st.Links.SetActive(ctx, l.ID, active); err != nil {
				return err
			}
		}
		if err := s.rebalanceAndDeploy(ctx, tx, st, affected); err != nil {
			return err
		}
		return st.Hosts.BumpConfigVersion(ctx, userHost.ID)
	})
	if err == nil {
		logging.WithUserAS(userASID).Infof("set all attachments active=%t", active)
	}
	return err
}

// NewUserAS describes a UserAS to create.
type NewUserAS struct {
	Owner            string
	Label            string
	InstallationType domain.InstallationType
	// ISD of the new AS. It may be left zero when an active attachment determines it.
	ISD addr.ISD
}

// CreateUserAS creates a UserAS with the next free AS number, its host, and its attachments.
func (s *Service) CreateUserAS(ctx context.Context, req NewUserAS, confs []domain.AttachmentConf) (userAS domain.UserAS, bound []domain.AttachmentConf, err error) {
	defer func() { s.observe("create_user_as", err) }()
	if s.asids == nil {
		return domain.UserAS{}, nil, fmt.Errorf("no AS number range configured: %w", ErrInvalidState)
	}
	for _, conf := range confs {
		if _, ok := conf.LinkID(); ok {
			return domain.UserAS{}, nil, fmt.Errorf("attachments of a new UserAS cannot be bound: %w", ErrInvalidState)
		}
	}

	err = s.ds.Transact(ctx, func(ctx context.Context, tx *datastore.Tx) error {
		st := repository.NewStore(tx)
		if s.cfg.MaxASPerUser > 0 {
			n, err := st.UserASes.CountByOwner(ctx, req.Owner)
			if err != nil {
				return err
			}
			if n >= s.cfg.MaxASPerUser {
				return fmt.Errorf("user %q owns %d ASes: %w", req.Owner, n, ErrQuotaExceeded)
			}
		}

		isd := req.ISD
		if isd == 0 {
			var err error
			if isd, err = firstActiveISD(ctx, st, confs); err != nil {
				return err
			}
		}
		asn, err := s.asids.Next(ctx, st.UserASes)
		if err != nil {
			return err
		}
		created, err := st.UserASes.Save(ctx, domain.UserAS{
			AS:               domain.AS{ISD: isd, ASN: asn, Label: req.Label, Owner: req.Owner},
			InstallationType: req.InstallationType,
		})
		if err != nil {
			return err
		}
		if _, err := st.Hosts.Save(ctx, domain.Host{ASID: created.ID, InternalIP: defaultInternalIP}); err != nil {
			return err
		}

		working := append([]domain.AttachmentConf(nil), confs...)
		if err := s.updateAttachments(ctx, tx, st, created.ID, working, nil); err != nil {
			return err
		}
		if userAS, err = st.UserASes.FindByID(ctx, created.ID); err != nil {
			return err
		}
		bound = working
		return nil
	})
	if err != nil {
		return domain.UserAS{}, nil, err
	}
	logging.WithUserAS(userAS.ID).Infof("created UserAS %s for %s", userAS.IA(), userAS.Owner)
	return userAS, bound, nil
}

func firstActiveISD(ctx context.Context, st *repository.Store, confs []domain.AttachmentConf) (addr.ISD, error) {
	for _, conf := range confs {
		if !conf.Active {
			continue
		}
		ap, err := st.AttachmentPoints.FindByID(ctx, conf.AttachmentPointID)
		if err != nil {
			return 0, err
		}
		as, err := st.ASes.FindByID(ctx, ap.ASID)
		if err != nil {
			return 0, err
		}
		return as.ISD, nil
	}
	return 0, fmt.Errorf("an ISD or an active attachment is required: %w", ErrInvalidState)
}

// UpdateUserAS changes the label and installation type of a UserAS. Changing the installation
// type re-applies the address policy to the existing attachments.
func (s *Service) UpdateUserAS(ctx context.Context, id int64, label string, installation domain.InstallationType) (userAS domain.UserAS, err error) {
	defer func() { s.observe("update_user_as", err) }()
	err = s.ds.Transact(ctx, func(ctx context.Context, tx *datastore.Tx) error {
		st := repository.NewStore(tx)
		current, err := st.UserASes.FindByID(ctx, id)
		if err != nil {
			return err
		}
		previous := current.InstallationType
		current.Label = label
		current.InstallationType = installation
		if userAS, err = st.UserASes.Save(ctx, current); err != nil {
			return err
		}
		if previous == installation {
			host, err := s.userHost(ctx, st, current)
			if err != nil {
				return err
			}
			return st.Hosts.BumpConfigVersion(ctx, host.ID)
		}

		confs, err := currentAttachments(ctx, st, id)
		if err != nil {
			return err
		}
		for i := range confs {
			if previous == domain.InstallVM && confs[i].BindIP == VMLocalIP {
				confs[i].BindIP = ""
			}
		}
		return s.updateAttachments(ctx, tx, st, id, confs, nil)
	})
	return userAS, err
}

// DeleteUserAS removes a UserAS with its links, host and VPN clients, and rebalances the
// attachment points it was attached to.
func (s *Service) DeleteUserAS(ctx context.Context, id int64) (err error) {
	defer func() { s.observe("delete_user_as", err) }()
	err = s.ds.Transact(ctx, func(ctx context.Context, tx *datastore.Tx) error {
		st := repository.NewStore(tx)
		if _, err := st.UserASes.FindByID(ctx, id); err != nil {
			return err
		}
		links, err := st.Links.FindByChildAS(ctx, id)
		if err != nil {
			return err
		}
		affected := newAPSet()
		for _, l := range links {
			ap, err := st.AttachmentPoints.FindByLink(ctx, l.ID)
			if err != nil {
				return err
			}
			affected.add(ap)
			if err := s.reconciler.Delete(ctx, st, l.ID); err != nil {
				return err
			}
		}
		// interfaces pin their border routers, which go with the host
		ifaces, err := st.Interfaces.FindByAS(ctx, id)
		if err != nil {
			return err
		}
		for _, iface := range ifaces {
			if err := st.Interfaces.DeleteByID(ctx, iface.ID); err != nil {
				return err
			}
		}
		if err := st.ASes.DeleteByID(ctx, id); err != nil {
			return err
		}
		return s.rebalanceAndDeploy(ctx, tx, st, affected)
	})
	if err == nil {
		logging.WithUserAS(id).Infof("deleted UserAS")
	}
	return err
}

// apSet is an insertion ordered set of attachment points.
type apSet struct {
	order []domain.AttachmentPoint
	byID  map[int64]domain.AttachmentPoint
}

func newAPSet() *apSet {
	return &apSet{byID: make(map[int64]domain.AttachmentPoint)}
}

func (s *apSet) add(ap domain.AttachmentPoint) {
	if _, ok := s.byID[ap.ID]; ok {
		return
	}
	s.byID[ap.ID] = ap
	s.order = append(s.order, ap)
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
