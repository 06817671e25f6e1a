package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(tx *sql.Tx) error {
				// Balancer and attachment lookups walk these columns on every reconciliation.
				return execAll(tx, []string{
					"CREATE INDEX IF NOT EXISTS idx_hosts_as_id ON hosts(as_id)",
					"CREATE INDEX IF NOT EXISTS idx_border_routers_host_id ON border_routers(host_id)",
					"CREATE INDEX IF NOT EXISTS idx_interfaces_host_id ON interfaces(host_id, interface_id)",
					"CREATE INDEX IF NOT EXISTS idx_interfaces_border_router_id ON interfaces(border_router_id)",
					"CREATE INDEX IF NOT EXISTS idx_vpn_clients_host_id ON vpn_clients(host_id)",
					"CREATE INDEX IF NOT EXISTS idx_ases_owner ON ases(owner)",
				})
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx, []string{
					"DROP INDEX IF EXISTS idx_hosts_as_id",
					"DROP INDEX IF EXISTS idx_border_routers_host_id",
					"DROP INDEX IF EXISTS idx_interfaces_host_id",
					"DROP INDEX IF EXISTS idx_interfaces_border_router_id",
					"DROP INDEX IF EXISTS idx_vpn_clients_host_id",
					"DROP INDEX IF EXISTS idx_ases_owner",
				})
			},
		},
	}
}
