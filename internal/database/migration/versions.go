package migration

// All returns the schema history in order.
func All() []Migration {
	return []Migration{
		createRevocationTables{},
		createUserTable{},
	}
}

// Revocation entries and invalidation markers. Postgres keeps timestamps as
// TIMESTAMPTZ, SQLite as unix milliseconds.
type createRevocationTables struct{}

func (createRevocationTables) Identifier() string {
	return "20250101000000_create_revocation_tables"
}

func (createRevocationTables) Up(dialect Dialect) string {
	if dialect == DialectPostgres {
		return `
			CREATE TABLE IF NOT EXISTS tbl_revoked_token (
				jti TEXT PRIMARY KEY,
				user_id TEXT,
				kind TEXT NOT NULL,
				reason TEXT NOT NULL,
				revoked_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_revoked_token_expires_at ON tbl_revoked_token (expires_at);
			CREATE INDEX IF NOT EXISTS idx_revoked_token_user_id ON tbl_revoked_token (user_id);

			CREATE TABLE IF NOT EXISTS tbl_user_invalidation (
				user_id TEXT PRIMARY KEY,
				reason TEXT NOT NULL,
				invalidated_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_user_invalidation_expires_at ON tbl_user_invalidation (expires_at);
		`
	}

	return `
		CREATE TABLE IF NOT EXISTS tbl_revoked_token (
			jti TEXT NOT NULL PRIMARY KEY,
			user_id TEXT,
			kind TEXT NOT NULL,
			reason TEXT NOT NULL,
			revoked_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_revoked_token_expires_at ON tbl_revoked_token (expires_at);
		CREATE INDEX IF NOT EXISTS idx_revoked_token_user_id ON tbl_revoked_token (user_id);

		CREATE TABLE IF NOT EXISTS tbl_user_invalidation (
			user_id TEXT NOT NULL PRIMARY KEY,
			reason TEXT NOT NULL,
			invalidated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_user_invalidation_expires_at ON tbl_user_invalidation (expires_at);
	`
}

type createUserTable struct{}

func (createUserTable) Identifier() string {
	return "20250101000001_create_user_table"
}

func (createUserTable) Up(dialect Dialect) string {
	if dialect == DialectPostgres {
		return `
			CREATE TABLE IF NOT EXISTS tbl_user (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				username TEXT UNIQUE,
				password_hash TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				last_login_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`
	}

	return `
		CREATE TABLE IF NOT EXISTS tbl_user (
			id TEXT NOT NULL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT UNIQUE,
			password_hash TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at INTEGER,
			created_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER) * 1000)
		);
	`
}
