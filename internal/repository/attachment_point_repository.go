package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// AttachmentPointRepository defines domain-specific operations for attachment points
type AttachmentPointRepository interface {
	Repository[domain.AttachmentPoint, int64]
	FindByAS(ctx context.Context, asID int64) (domain.AttachmentPoint, error)
	// FindByLink returns the attachment point owning the A side of a link.
	FindByLink(ctx context.Context, linkID int64) (domain.AttachmentPoint, error)
}

type attachmentPointRepositoryImpl struct {
	*DatastoreRepository[domain.AttachmentPoint, int64]
}

// NewAttachmentPointRepository creates a new attachment point repository
func NewAttachmentPointRepository(db DBTX) AttachmentPointRepository {
	return newAttachmentPointRepository(runner{db: db})
}

func newAttachmentPointRepository(q runner) AttachmentPointRepository {
	return &attachmentPointRepositoryImpl{
		DatastoreRepository: newDatastoreRepository[domain.AttachmentPoint, int64](q, "attachment_points", "id, as_id, vpn_id", scanAttachmentPoint),
	}
}

func scanAttachmentPoint(s scanner) (domain.AttachmentPoint, error) {
	var ap domain.AttachmentPoint
	var vpnID sql.NullInt64
	if err := s.Scan(&ap.ID, &ap.ASID, &vpnID); err != nil {
		return domain.AttachmentPoint{}, err
	}
	if vpnID.Valid {
		ap.VPNID = &vpnID.Int64
	}
	return ap, nil
}

// Save creates or updates an attachment point
func (r *attachmentPointRepositoryImpl) Save(ctx context.Context, ap domain.AttachmentPoint) (domain.AttachmentPoint, error) {
	if ap.ASID == 0 {
		return domain.AttachmentPoint{}, fmt.Errorf("attachment point AS is required: %w", ErrInvalidEntity)
	}
	var vpnID any
	if ap.VPNID != nil {
		vpnID = *ap.VPNID
	}

	if ap.ID == 0 {
		result, err := r.q.exec(ctx, "INSERT INTO attachment_points (as_id, vpn_id) VALUES (?, ?)", ap.ASID, vpnID)
		if err != nil {
			return domain.AttachmentPoint{}, fmt.Errorf("failed to create attachment point: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.AttachmentPoint{}, fmt.Errorf("failed to get attachment point ID: %w", err)
		}
		ap.ID = id
		return ap, nil
	}

	_, err := r.q.exec(ctx, "UPDATE attachment_points SET as_id = ?, vpn_id = ? WHERE id = ?", ap.ASID, vpnID, ap.ID)
	if err != nil {
		return domain.AttachmentPoint{}, fmt.Errorf("failed to update attachment point: %w", err)
	}
	return ap, nil
}

func (r *attachmentPointRepositoryImpl) FindByAS(ctx context.Context, asID int64) (domain.AttachmentPoint, error) {
	ap, err := r.findOne(ctx, "as_id = ?", asID)
	if err != nil {
		return domain.AttachmentPoint{}, fmt.Errorf("attachment point of AS %d: %w", asID, err)
	}
	return ap, nil
}

func (r *attachmentPointRepositoryImpl) FindByLink(ctx context.Context, linkID int64) (domain.AttachmentPoint, error) {
	ap, err := r.findOne(ctx, `as_id = (
		SELECT i.as_id FROM links l JOIN interfaces i ON i.id = l.interface_a_id WHERE l.id = ?)`, linkID)
	if err != nil {
		return domain.AttachmentPoint{}, fmt.Errorf("attachment point of link %d: %w", linkID, err)
	}
	return ap, nil
}
