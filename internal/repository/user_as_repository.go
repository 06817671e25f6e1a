package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scionproto/scion/pkg/addr"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// UserASRepository defines domain-specific operations for UserASes
type UserASRepository interface {
	Repository[domain.UserAS, int64]
	FindByOwner(ctx context.Context, owner string) ([]domain.UserAS, error)
	CountByOwner(ctx context.Context, owner string) (int, error)
	// MaxASNumber returns the highest AS number held by any UserAS, and false if there is none.
	MaxASNumber(ctx context.Context) (addr.AS, bool, error)
}

type userASRepositoryImpl struct {
	*DatastoreRepository[domain.UserAS, int64]
	ases ASRepository
}

const userASColumns = "a.id, a.isd, a.as_number, a.label, a.owner, a.is_core, u.installation_type"

// NewUserASRepository creates a new UserAS repository
func NewUserASRepository(db DBTX) UserASRepository {
	return newUserASRepository(runner{db: db})
}

func newUserASRepository(q runner) UserASRepository {
	base := newDatastoreRepository[domain.UserAS, int64](q, "ases", userASColumns, scanUserAS)
	base.from = "ases a JOIN user_ases u ON u.as_id = a.id"
	base.idCol = "a.id"
	return &userASRepositoryImpl{
		DatastoreRepository: base,
		ases:                newASRepository(q),
	}
}

func scanUserAS(s scanner) (domain.UserAS, error) {
	var u domain.UserAS
	var isd, asn int64
	var owner sql.NullString
	var installation string
	if err := s.Scan(&u.ID, &isd, &asn, &u.Label, &owner, &u.IsCore, &installation); err != nil {
		return domain.UserAS{}, err
	}
	u.ISD = addr.ISD(isd)
	u.ASN = addr.AS(asn)
	u.Owner = owner.String
	u.InstallationType = domain.InstallationType(installation)
	return u, nil
}

// Save creates or updates a UserAS together with its AS row
func (r *userASRepositoryImpl) Save(ctx context.Context, u domain.UserAS) (domain.UserAS, error) {
	if u.Owner == "" {
		return domain.UserAS{}, fmt.Errorf("UserAS owner is required: %w", ErrInvalidEntity)
	}
	if !u.InstallationType.Valid() {
		return domain.UserAS{}, fmt.Errorf("UserAS installation type %q: %w", u.InstallationType, ErrInvalidEntity)
	}

	creating := u.ID == 0
	as, err := r.ases.Save(ctx, u.AS)
	if err != nil {
		return domain.UserAS{}, err
	}
	u.AS = as

	if creating {
		_, err = r.q.exec(ctx, "INSERT INTO user_ases (as_id, installation_type) VALUES (?, ?)",
			u.ID, string(u.InstallationType))
	} else {
		_, err = r.q.exec(ctx, "UPDATE user_ases SET installation_type = ? WHERE as_id = ?",
			string(u.InstallationType), u.ID)
	}
	if err != nil {
		return domain.UserAS{}, fmt.Errorf("failed to save UserAS: %w", err)
	}
	return u, nil
}

// FindByOwner lists the UserASes of one user
func (r *userASRepositoryImpl) FindByOwner(ctx context.Context, owner string) ([]domain.UserAS, error) {
	return r.findMany(ctx, "a.owner = ? ORDER BY a.id", owner)
}

// CountByOwner counts the UserASes of one user
func (r *userASRepositoryImpl) CountByOwner(ctx context.Context, owner string) (int, error) {
	var count int
	err := r.q.queryRow(ctx, "SELECT COUNT(*) FROM "+r.from+" WHERE a.owner = ?", owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count UserASes: %w", err)
	}
	return count, nil
}

func (r *userASRepositoryImpl) MaxASNumber(ctx context.Context) (addr.AS, bool, error) {
	var highest sql.NullInt64
	err := r.q.queryRow(ctx, "SELECT MAX(a.as_number) FROM "+r.from).Scan(&highest)
	if err != nil {
		return 0, false, fmt.Errorf("failed to find highest UserAS number: %w", err)
	}
	if !highest.Valid {
		return 0, false, nil
	}
	return addr.AS(highest.Int64), true, nil
}
