package repository

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// LinkRepository defines domain-specific operations for links
type LinkRepository interface {
	Repository[domain.Link, int64]
	// FindByChildAS lists the PROVIDER links whose B side belongs to the AS.
	FindByChildAS(ctx context.Context, asID int64) ([]domain.Link, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type linkRepositoryImpl struct {
	*DatastoreRepository[domain.Link, int64]
}

const linkColumns = "id, type, interface_a_id, interface_b_id, active"

// NewLinkRepository creates a new link repository
func NewLinkRepository(db DBTX) LinkRepository {
	return newLinkRepository(runner{db: db})
}

func newLinkRepository(q runner) LinkRepository {
	return &linkRepositoryImpl{
		DatastoreRepository: newDatastoreRepository[domain.Link, int64](q, "links", linkColumns, scanLink),
	}
}

func scanLink(s scanner) (domain.Link, error) {
	var l domain.Link
	var linkType string
	if err := s.Scan(&l.ID, &linkType, &l.InterfaceAID, &l.InterfaceBID, &l.Active); err != nil {
		return domain.Link{}, err
	}
	l.Type = domain.LinkType(linkType)
	return l, nil
}

// Save creates or updates a link
func (r *linkRepositoryImpl) Save(ctx context.Context, l domain.Link) (domain.Link, error) {
	if !l.Type.Valid() {
		return domain.Link{}, fmt.Errorf("link type %q: %w", l.Type, ErrInvalidEntity)
	}
	if l.InterfaceAID == 0 || l.InterfaceBID == 0 || l.InterfaceAID == l.InterfaceBID {
		return domain.Link{}, fmt.Errorf("link needs two distinct interfaces: %w", ErrInvalidEntity)
	}

	var sameAS int
	err := r.q.queryRow(ctx, `
		SELECT COUNT(*) FROM interfaces a JOIN interfaces b ON a.as_id = b.as_id
		WHERE a.id = ? AND b.id = ?`, l.InterfaceAID, l.InterfaceBID).Scan(&sameAS)
	if err != nil {
		return domain.Link{}, fmt.Errorf("failed to check link interfaces: %w", err)
	}
	if sameAS > 0 {
		return domain.Link{}, fmt.Errorf("link interfaces belong to the same AS: %w", ErrInvalidEntity)
	}

	if l.ID == 0 {
		result, err := r.q.exec(ctx, `
			INSERT INTO links (type, interface_a_id, interface_b_id, active)
			VALUES (?, ?, ?, ?)`,
			string(l.Type), l.InterfaceAID, l.InterfaceBID, l.Active)
		if err != nil {
			return domain.Link{}, fmt.Errorf("failed to create link: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Link{}, fmt.Errorf("failed to get link ID: %w", err)
		}
		l.ID = id
		return l, nil
	}

	_, err = r.q.exec(ctx, `
		UPDATE links SET type = ?, interface_a_id = ?, interface_b_id = ?, active = ?
		WHERE id = ?`,
		string(l.Type), l.InterfaceAID, l.InterfaceBID, l.Active, l.ID)
	if err != nil {
		return domain.Link{}, fmt.Errorf("failed to update link: %w", err)
	}
	return l, nil
}

// DeleteByID removes a link together with both of its interfaces
func (r *linkRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	l, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	// deleting an interface cascades to the link
	if _, err := r.q.exec(ctx, "DELETE FROM interfaces WHERE id IN (?, ?)", l.InterfaceAID, l.InterfaceBID); err != nil {
		return fmt.Errorf("failed to delete link %d: %w", id, err)
	}
	return nil
}

func (r *linkRepositoryImpl) FindByChildAS(ctx context.Context, asID int64) ([]domain.Link, error) {
	return r.findMany(ctx, `type = 'PROVIDER' AND interface_b_id IN (SELECT id FROM interfaces WHERE as_id = ?)
		ORDER BY id`, asID)
}

func (r *linkRepositoryImpl) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := r.q.exec(ctx, "UPDATE links SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("link with ID %d: %w", id, ErrNotFound)
	}
	return nil
}
