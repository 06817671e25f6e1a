package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns all initial migrations
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_topology_tables",
			Up: func(tx *sql.Tx) error {
				return execAll(tx, []string{
					`CREATE TABLE ases (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						isd INTEGER NOT NULL,
						as_number INTEGER NOT NULL,
						label TEXT NOT NULL DEFAULT '',
						owner TEXT,
						is_core BOOLEAN NOT NULL DEFAULT 0,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (isd, as_number)
					)`,
					`CREATE TABLE hosts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						as_id INTEGER NOT NULL,
						label TEXT NOT NULL DEFAULT '',
						internal_ip TEXT NOT NULL,
						public_ip TEXT,
						bind_ip TEXT,
						config_version INTEGER NOT NULL DEFAULT 1,
						deployed_version INTEGER NOT NULL DEFAULT 0,
						FOREIGN KEY (as_id) REFERENCES ases(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE border_routers (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						host_id INTEGER NOT NULL,
						FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE interfaces (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						interface_id INTEGER NOT NULL,
						as_id INTEGER NOT NULL,
						host_id INTEGER NOT NULL,
						border_router_id INTEGER NOT NULL,
						public_ip TEXT,
						public_port INTEGER,
						bind_ip TEXT,
						bind_port INTEGER,
						UNIQUE (as_id, interface_id),
						FOREIGN KEY (as_id) REFERENCES ases(id) ON DELETE CASCADE,
						FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE,
						FOREIGN KEY (border_router_id) REFERENCES border_routers(id) ON DELETE RESTRICT
					)`,
					`CREATE TABLE links (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						type TEXT NOT NULL CHECK (type IN ('PROVIDER', 'CORE', 'PEER')),
						interface_a_id INTEGER NOT NULL UNIQUE,
						interface_b_id INTEGER NOT NULL UNIQUE,
						active BOOLEAN NOT NULL DEFAULT 1,
						FOREIGN KEY (interface_a_id) REFERENCES interfaces(id) ON DELETE CASCADE,
						FOREIGN KEY (interface_b_id) REFERENCES interfaces(id) ON DELETE CASCADE
					)`,
				})
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx, []string{
					`DROP TABLE IF EXISTS links`,
					`DROP TABLE IF EXISTS interfaces`,
					`DROP TABLE IF EXISTS border_routers`,
					`DROP TABLE IF EXISTS hosts`,
					`DROP TABLE IF EXISTS ases`,
				})
			},
		},
		{
			Version: 2,
			Name:    "create_attachment_tables",
			Up: func(tx *sql.Tx) error {
				return execAll(tx, []string{
					`CREATE TABLE user_ases (
						as_id INTEGER PRIMARY KEY,
						installation_type TEXT NOT NULL CHECK (installation_type IN ('VM', 'PKG', 'SRC')),
						FOREIGN KEY (as_id) REFERENCES ases(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE vpns (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						server_host_id INTEGER NOT NULL,
						subnet TEXT NOT NULL,
						server_vpn_ip TEXT NOT NULL,
						server_port INTEGER NOT NULL,
						FOREIGN KEY (server_host_id) REFERENCES hosts(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE attachment_points (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						as_id INTEGER NOT NULL UNIQUE,
						vpn_id INTEGER UNIQUE,
						FOREIGN KEY (as_id) REFERENCES ases(id) ON DELETE CASCADE,
						FOREIGN KEY (vpn_id) REFERENCES vpns(id) ON DELETE SET NULL
					)`,
					`CREATE TABLE vpn_clients (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						vpn_id INTEGER NOT NULL,
						host_id INTEGER NOT NULL,
						ip TEXT NOT NULL,
						active BOOLEAN NOT NULL DEFAULT 1,
						UNIQUE (vpn_id, host_id),
						UNIQUE (vpn_id, ip),
						FOREIGN KEY (vpn_id) REFERENCES vpns(id) ON DELETE CASCADE,
						FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE
					)`,
				})
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx, []string{
					`DROP TABLE IF EXISTS vpn_clients`,
					`DROP TABLE IF EXISTS attachment_points`,
					`DROP TABLE IF EXISTS vpns`,
					`DROP TABLE IF EXISTS user_ases`,
				})
			},
		},
	}
}

func execAll(tx *sql.Tx, statements []string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
