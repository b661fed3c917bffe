package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// One row per anonymous id, created at bootstrap
		`CREATE TABLE IF NOT EXISTS users (
			anon_id           TEXT PRIMARY KEY,
			linked_account_id TEXT,
			display_name      TEXT,
			avatar_url        TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,

		// Spendable balance; only the credits engine writes here
		`CREATE TABLE IF NOT EXISTS credits (
			anon_id    TEXT PRIMARY KEY REFERENCES users(anon_id),
			balance    INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,

		// Append-only ledger. seq breaks ties between equal timestamps.
		`CREATE TABLE IF NOT EXISTS credit_ledger (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			anon_id    TEXT NOT NULL REFERENCES users(anon_id),
			amount     INTEGER NOT NULL,
			kind       TEXT NOT NULL CHECK(kind IN ('initial', 'daily_bonus', 'spend', 'earn', 'adjust')),
			reason     TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_anon_created ON credit_ledger(anon_id, created_at DESC, seq DESC)`,

		// Daily bonus eligibility marker (not part of the ledger)
		`CREATE TABLE IF NOT EXISTS bonus_claims (
			anon_id         TEXT PRIMARY KEY REFERENCES users(anon_id),
			last_claimed_at TEXT NOT NULL
		)`,
	}
}
