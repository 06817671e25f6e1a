package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbweber/homelab/uplink/internal/domain"
)

// InterfaceUsage is an interface together with the state of the link it terminates.
type InterfaceUsage struct {
	domain.Interface
	Active bool // the link of the interface is active
	// Attaching is set for the A side of a PROVIDER link whose B side belongs to a UserAS.
	Attaching bool
}

// InterfaceRepository defines domain-specific operations for interfaces
type InterfaceRepository interface {
	Repository[domain.Interface, int64]
	FindByAS(ctx context.Context, asID int64) ([]domain.Interface, error)
	// ListHostInterfaces lists the interfaces of a host ordered by interface identifier,
	// then by row ID.
	ListHostInterfaces(ctx context.Context, hostID int64) ([]InterfaceUsage, error)
	AssignBorderRouter(ctx context.Context, id, borderRouterID int64) error
	// NextInterfaceID returns the lowest interface identifier not used in the AS.
	NextInterfaceID(ctx context.Context, asID int64) (int64, error)
	// NextFreePort returns the lowest public port at or above start not used on the host.
	NextFreePort(ctx context.Context, hostID int64, start int) (int, error)
}

type interfaceRepositoryImpl struct {
	*DatastoreRepository[domain.Interface, int64]
}

const interfaceColumns = "id, interface_id, as_id, host_id, border_router_id, public_ip, public_port, bind_ip, bind_port"

// NewInterfaceRepository creates a new interface repository
func NewInterfaceRepository(db DBTX) InterfaceRepository {
	return newInterfaceRepository(runner{db: db})
}

func newInterfaceRepository(q runner) InterfaceRepository {
	return &interfaceRepositoryImpl{
		DatastoreRepository: newDatastoreRepository[domain.Interface, int64](q, "interfaces", interfaceColumns, scanInterface),
	}
}

func scanInterface(s scanner) (domain.Interface, error) {
	var i domain.Interface
	var publicIP, bindIP sql.NullString
	var publicPort, bindPort sql.NullInt64
	err := s.Scan(&i.ID, &i.InterfaceID, &i.ASID, &i.HostID, &i.BorderRouterID,
		&publicIP, &publicPort, &bindIP, &bindPort)
	if err != nil {
		return domain.Interface{}, err
	}
	i.PublicIP = publicIP.String
	i.PublicPort = int(publicPort.Int64)
	i.BindIP = bindIP.String
	i.BindPort = int(bindPort.Int64)
	return i, nil
}

// Save creates or updates an interface. New interfaces without an interface identifier get the
// lowest free one of their AS.
func (r *interfaceRepositoryImpl) Save(ctx context.Context, i domain.Interface) (domain.Interface, error) {
	if i.ASID == 0 || i.HostID == 0 || i.BorderRouterID == 0 {
		return domain.Interface{}, fmt.Errorf("interface AS, host and border router are required: %w", ErrInvalidEntity)
	}

	if i.ID == 0 {
		if i.InterfaceID == 0 {
			next, err := r.NextInterfaceID(ctx, i.ASID)
			if err != nil {
				return domain.Interface{}, err
			}
			i.InterfaceID = next
		}
		result, err := r.q.exec(ctx, `
			INSERT INTO interfaces (interface_id, as_id, host_id, border_router_id, public_ip, public_port, bind_ip, bind_port)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i.InterfaceID, i.ASID, i.HostID, i.BorderRouterID,
			nullString(i.PublicIP), nullInt(i.PublicPort), nullString(i.BindIP), nullInt(i.BindPort))
		if err != nil {
			return domain.Interface{}, fmt.Errorf("failed to create interface: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Interface{}, fmt.Errorf("failed to get interface ID: %w", err)
		}
		i.ID = id
		return i, nil
	}

	_, err := r.q.exec(ctx, `
		UPDATE interfaces
		SET interface_id = ?, as_id = ?, host_id = ?, border_router_id = ?, public_ip = ?, public_port = ?, bind_ip = ?, bind_port = ?
		WHERE id = ?`,
		i.InterfaceID, i.ASID, i.HostID, i.BorderRouterID,
		nullString(i.PublicIP), nullInt(i.PublicPort), nullString(i.BindIP), nullInt(i.BindPort), i.ID)
	if err != nil {
		return domain.Interface{}, fmt.Errorf("failed to update interface: %w", err)
	}
	return i, nil
}

func (r *interfaceRepositoryImpl) FindByAS(ctx context.Context, asID int64) ([]domain.Interface, error) {
	return r.findMany(ctx, "as_id = ? ORDER BY interface_id, id", asID)
}

func (r *interfaceRepositoryImpl) ListHostInterfaces(ctx context.Context, hostID int64) ([]InterfaceUsage, error) {
	rows, err := r.q.query(ctx, `
		SELECT i.id, i.interface_id, i.as_id, i.host_id, i.border_router_id,
			i.public_ip, i.public_port, i.bind_ip, i.bind_port,
			COALESCE(l.active, 0),
			CASE WHEN l.type = 'PROVIDER' AND l.interface_a_id = i.id AND b_as.owner IS NOT NULL
				THEN 1 ELSE 0 END
		FROM interfaces i
		LEFT JOIN links l ON l.interface_a_id = i.id OR l.interface_b_id = i.id
		LEFT JOIN interfaces b ON b.id = l.interface_b_id
		LEFT JOIN ases b_as ON b_as.id = b.as_id
		WHERE i.host_id = ?
		ORDER BY i.interface_id, i.id`, hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces of host %d: %w", hostID, err)
	}
	defer rows.Close()

	var usages []InterfaceUsage
	for rows.Next() {
		var u InterfaceUsage
		var publicIP, bindIP sql.NullString
		var publicPort, bindPort sql.NullInt64
		err := rows.Scan(&u.ID, &u.InterfaceID, &u.ASID, &u.HostID, &u.BorderRouterID,
			&publicIP, &publicPort, &bindIP, &bindPort, &u.Active, &u.Attaching)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interface: %w", err)
		}
		u.PublicIP = publicIP.String
		u.PublicPort = int(publicPort.Int64)
		u.BindIP = bindIP.String
		u.BindPort = int(bindPort.Int64)
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list interfaces of host %d: %w", hostID, err)
	}
	return usages, nil
}

func (r *interfaceRepositoryImpl) AssignBorderRouter(ctx context.Context, id, borderRouterID int64) error {
	result, err := r.q.exec(ctx, "UPDATE interfaces SET border_router_id = ? WHERE id = ?", borderRouterID, id)
	if err != nil {
		return fmt.Errorf("failed to assign interface %d to border router %d: %w", id, borderRouterID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("interface with ID %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *interfaceRepositoryImpl) NextInterfaceID(ctx context.Context, asID int64) (int64, error) {
	used, err := r.intColumn(ctx, "SELECT interface_id FROM interfaces WHERE as_id = ? ORDER BY interface_id", asID)
	if err != nil {
		return 0, fmt.Errorf("failed to find free interface ID: %w", err)
	}
	next := int64(1)
	for _, id := range used {
		if id > next {
			break
		}
		if id == next {
			next++
		}
	}
	return next, nil
}

func (r *interfaceRepositoryImpl) NextFreePort(ctx context.Context, hostID int64, start int) (int, error) {
	used, err := r.intColumn(ctx, `
		SELECT DISTINCT public_port FROM interfaces
		WHERE host_id = ? AND public_port >= ? ORDER BY public_port`, hostID, start)
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}
	next := int64(start)
	for _, port := range used {
		if port > next {
			break
		}
		next = port + 1
	}
	if next > 65535 {
		return 0, fmt.Errorf("no free port on host %d: %w", hostID, ErrNotFound)
	}
	return int(next), nil
}

func (r *interfaceRepositoryImpl) intColumn(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
