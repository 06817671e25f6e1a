package repository

import "database/sql"

// Store bundles the repositories of the topology over one query surface. A Store built on a
// transaction reads and writes inside that transaction.
type Store struct {
	ASes             ASRepository
	UserASes         UserASRepository
	Hosts            HostRepository
	BorderRouters    BorderRouterRepository
	Interfaces       InterfaceRepository
	Links            LinkRepository
	AttachmentPoints AttachmentPointRepository
	VPNs             VPNRepository
	VPNClients       VPNClientRepository
}

// NewStore creates the repositories on db, typically a transaction.
func NewStore(db DBTX) *Store {
	return newStore(runner{db: db})
}

// NewCachedStore creates repositories that run their queries through prepared statements
// cached on the connection pool. It must not be used inside a transaction.
func NewCachedStore(db *sql.DB, cache *PreparedStatementCache) *Store {
	return newStore(runner{db: db, stmts: cache})
}

func newStore(q runner) *Store {
	return &Store{
		ASes:             newASRepository(q),
		UserASes:         newUserASRepository(q),
		Hosts:            newHostRepository(q),
		BorderRouters:    newBorderRouterRepository(q),
		Interfaces:       newInterfaceRepository(q),
		Links:            newLinkRepository(q),
		AttachmentPoints: newAttachmentPointRepository(q),
		VPNs:             newVPNRepository(q),
		VPNClients:       newVPNClientRepository(q),
	}
}
