package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scionproto/scion/pkg/addr"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// ASRepository defines domain-specific operations for ASes
type ASRepository interface {
	Repository[domain.AS, int64]
	FindByIA(ctx context.Context, ia addr.IA) (domain.AS, error)
	// SetISD moves the AS to another isolation domain.
	SetISD(ctx context.Context, id int64, isd addr.ISD) error
}

type asRepositoryImpl struct {
	*DatastoreRepository[domain.AS, int64]
}

const asColumns = "id, isd, as_number, label, owner, is_core"

// NewASRepository creates a new AS repository
func NewASRepository(db DBTX) ASRepository {
	return newASRepository(runner{db: db})
}

func newASRepository(q runner) ASRepository {
	return &asRepositoryImpl{
		DatastoreRepository: newDatastoreRepository[domain.AS, int64](q, "ases", asColumns, scanAS),
	}
}

func scanAS(s scanner) (domain.AS, error) {
	var as domain.AS
	var isd, asn int64
	var owner sql.NullString
	if err := s.Scan(&as.ID, &isd, &asn, &as.Label, &owner, &as.IsCore); err != nil {
		return domain.AS{}, err
	}
	as.ISD = addr.ISD(isd)
	as.ASN = addr.AS(asn)
	as.Owner = owner.String
	return as, nil
}

// Save creates or updates an AS
func (r *asRepositoryImpl) Save(ctx context.Context, as domain.AS) (domain.AS, error) {
	if as.ISD == 0 {
		return domain.AS{}, fmt.Errorf("AS ISD is required: %w", ErrInvalidEntity)
	}
	if as.ASN == 0 {
		return domain.AS{}, fmt.Errorf("AS number is required: %w", ErrInvalidEntity)
	}

	var count int
	err := r.q.queryRow(ctx, "SELECT COUNT(*) FROM ases WHERE isd = ? AND as_number = ? AND id != ?",
		int64(as.ISD), int64(as.ASN), as.ID).Scan(&count)
	if err != nil {
		return domain.AS{}, fmt.Errorf("failed to check for duplicate AS: %w", err)
	}
	if count > 0 {
		return domain.AS{}, fmt.Errorf("AS %s: %w", as.IA(), ErrDuplicate)
	}

	if as.ID == 0 {
		result, err := r.q.exec(ctx, `
			INSERT INTO ases (isd, as_number, label, owner, is_core)
			VALUES (?, ?, ?, ?, ?)`,
			int64(as.ISD), int64(as.ASN), as.Label, nullString(as.Owner), as.IsCore)
		if err != nil {
			return domain.AS{}, fmt.Errorf("failed to create AS: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.AS{}, fmt.Errorf("failed to get AS ID: %w", err)
		}
		as.ID = id
		return as, nil
	}

	_, err = r.q.exec(ctx, `
		UPDATE ases SET isd = ?, as_number = ?, label = ?, owner = ?, is_core = ?
		WHERE id = ?`,
		int64(as.ISD), int64(as.ASN), as.Label, nullString(as.Owner), as.IsCore, as.ID)
	if err != nil {
		return domain.AS{}, fmt.Errorf("failed to update AS: %w", err)
	}
	return as, nil
}

// FindByIA finds an AS by its ISD-AS pair
func (r *asRepositoryImpl) FindByIA(ctx context.Context, ia addr.IA) (domain.AS, error) {
	as, err := r.findOne(ctx, "isd = ? AND as_number = ?", int64(ia.ISD()), int64(ia.AS()))
	if err != nil {
		return domain.AS{}, fmt.Errorf("AS %s: %w", ia, err)
	}
	return as, nil
}

func (r *asRepositoryImpl) SetISD(ctx context.Context, id int64, isd addr.ISD) error {
	result, err := r.q.exec(ctx, "UPDATE ases SET isd = ? WHERE id = ?", int64(isd), id)
	if err != nil {
		return fmt.Errorf("failed to update AS ISD: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("AS with ID %d: %w", id, ErrNotFound)
	}
	return nil
}
