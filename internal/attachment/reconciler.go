package attachment

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/logging"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

// LinkReconciler makes the link of an attachment and its two interfaces match an
// AttachmentConf.
type LinkReconciler struct {
	VPN VPNConnectionManager
}

// Reconcile creates the link of a pending conf or updates the link a bound conf refers to.
// conf is updated in place: a created link binds it, and its bind IP reflects the address
// policy of the installation type.
func (r LinkReconciler) Reconcile(ctx context.Context, s *repository.Store, userAS domain.UserAS, userHost domain.Host, conf *domain.AttachmentConf) (domain.Link, error) {
	ap, err := s.AttachmentPoints.FindByID(ctx, conf.AttachmentPointID)
	if err != nil {
		return domain.Link{}, err
	}
	if conf.UseVPN && !ap.HasVPN() {
		return domain.Link{}, fmt.Errorf("attachment point %d: %w", ap.ID, ErrVPNUnsupported)
	}
	if linkID, ok := conf.LinkID(); ok {
		return r.update(ctx, s, userAS, userHost, ap, linkID, conf)
	}
	return r.create(ctx, s, userAS, userHost, ap, conf)
}

func (r LinkReconciler) create(ctx context.Context, s *repository.Store, userAS domain.UserAS, userHost domain.Host, ap domain.AttachmentPoint, conf *domain.AttachmentConf) (domain.Link, error) {
	if !conf.Active {
		return domain.Link{}, fmt.Errorf("new attachment to attachment point %d must be active: %w", ap.ID, ErrInvalidState)
	}
	apHost, apBR, err := PreferredBorderRouter(ctx, s, ap)
	if err != nil {
		return domain.Link{}, err
	}
	userBR, err := s.BorderRouters.FirstOrCreate(ctx, userHost.ID)
	if err != nil {
		return domain.Link{}, err
	}

	apIface := domain.Interface{ASID: ap.ASID, HostID: apHost.ID, BorderRouterID: apBR.ID}
	userIface := domain.Interface{ASID: userAS.ID, HostID: userHost.ID, BorderRouterID: userBR.ID}
	if err := r.applyAddresses(ctx, s, userAS, userHost, ap, conf, &apIface, &userIface); err != nil {
		return domain.Link{}, err
	}
	if apIface.PublicPort, err = s.Interfaces.NextFreePort(ctx, apHost.ID, APPortBase); err != nil {
		return domain.Link{}, err
	}

	if apIface, err = s.Interfaces.Save(ctx, apIface); err != nil {
		return domain.Link{}, err
	}
	if userIface, err = s.Interfaces.Save(ctx, userIface); err != nil {
		return domain.Link{}, err
	}
	link, err := s.Links.Save(ctx, domain.Link{
		Type:         domain.LinkProvider,
		InterfaceAID: apIface.ID,
		InterfaceBID: userIface.ID,
		Active:       true,
	})
	if err != nil {
		return domain.Link{}, err
	}
	conf.Link = domain.Bound{LinkID: link.ID}
	logging.WithUserAS(userAS.ID).Infof("created link %d to attachment point %d", link.ID, ap.ID)
	return link, nil
}

func (r LinkReconciler) update(ctx context.Context, s *repository.Store, userAS domain.UserAS, userHost domain.Host, ap domain.AttachmentPoint, linkID int64, conf *domain.AttachmentConf) (domain.Link, error) {
	link, err := s.Links.FindByID(ctx, linkID)
	if err != nil {
		return domain.Link{}, err
	}
	apIface, userIface, err := linkInterfaces(ctx, s, link)
	if err != nil {
		return domain.Link{}, err
	}
	if link.Type != domain.LinkProvider || userIface.ASID != userAS.ID {
		return domain.Link{}, fmt.Errorf("link %d is not an attachment of UserAS %d: %w", link.ID, userAS.ID, ErrInvalidState)
	}
	if apIface.ASID != ap.ASID {
		return domain.Link{}, fmt.Errorf("link %d cannot move to attachment point %d: %w", link.ID, ap.ID, ErrInvalidState)
	}

	apHost, apBR, err := PreferredBorderRouter(ctx, s, ap)
	if err != nil {
		return domain.Link{}, err
	}
	if apIface.HostID != apHost.ID || apIface.PublicPort == 0 {
		if apIface.PublicPort, err = s.Interfaces.NextFreePort(ctx, apHost.ID, APPortBase); err != nil {
			return domain.Link{}, err
		}
		apIface.HostID = apHost.ID
	}
	apIface.BorderRouterID = apBR.ID
	if err := r.applyAddresses(ctx, s, userAS, userHost, ap, conf, &apIface, &userIface); err != nil {
		return domain.Link{}, err
	}

	if _, err := s.Interfaces.Save(ctx, apIface); err != nil {
		return domain.Link{}, err
	}
	if _, err := s.Interfaces.Save(ctx, userIface); err != nil {
		return domain.Link{}, err
	}
	link.Active = conf.Active
	if link, err = s.Links.Save(ctx, link); err != nil {
		return domain.Link{}, err
	}
	logging.WithUserAS(userAS.ID).Debugf("updated link %d to attachment point %d", link.ID, ap.ID)
	return link, nil
}

// applyAddresses sets the underlay addresses of both interfaces. Over VPN the user side uses
// its tunnel address and the attachment point side the server's. Otherwise the user side gets
// the resolved requested address, and the attachment point side inherits its host's IP.
func (r LinkReconciler) applyAddresses(ctx context.Context, s *repository.Store, userAS domain.UserAS, userHost domain.Host, ap domain.AttachmentPoint, conf *domain.AttachmentConf, apIface, userIface *domain.Interface) error {
	if conf.UseVPN {
		client, v, err := r.VPN.Ensure(ctx, s, userHost.ID, ap)
		if err != nil {
			return err
		}
		userIface.PublicIP = client.IP
		userIface.PublicPort = conf.PublicPort
		userIface.BindIP = ""
		userIface.BindPort = 0
		apIface.PublicIP = v.ServerVPNIP
		return nil
	}

	resolved := ResolveAddress(userAS.InstallationType, requestedAddress(conf))
	conf.BindIP = resolved.BindIP
	userIface.PublicIP = resolved.PublicIP
	userIface.PublicPort = resolved.PublicPort
	userIface.BindIP = resolved.BindIP
	userIface.BindPort = resolved.BindPort
	apIface.PublicIP = ""
	return nil
}

// Delete removes a link with both of its interfaces.
func (r LinkReconciler) Delete(ctx context.Context, s *repository.Store, linkID int64) error {
	return s.Links.DeleteByID(ctx, linkID)
}

func linkInterfaces(ctx context.Context, s *repository.Store, link domain.Link) (a, b domain.Interface, err error) {
	if a, err = s.Interfaces.FindByID(ctx, link.InterfaceAID); err != nil {
		return domain.Interface{}, domain.Interface{}, err
	}
	if b, err = s.Interfaces.FindByID(ctx, link.InterfaceBID); err != nil {
		return domain.Interface{}, domain.Interface{}, err
	}
	return a, b, nil
}
