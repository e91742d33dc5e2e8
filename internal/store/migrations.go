package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create pairing requests and allow list",
		SQL: `
			CREATE TABLE pairing_requests (
				channel      TEXT NOT NULL,
				sender_id    TEXT NOT NULL,
				code         TEXT NOT NULL,
				name         TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL,
				last_seen_at TEXT NOT NULL,
				PRIMARY KEY (channel, sender_id)
			);

			CREATE UNIQUE INDEX idx_pairing_code ON pairing_requests (channel, code);

			CREATE TABLE allow_from (
				channel  TEXT NOT NULL,
				entry    TEXT NOT NULL,
				added_at TEXT NOT NULL,
				PRIMARY KEY (channel, entry)
			);
		`,
	},
	{
		Version: 2,
		Name:    "create session metadata",
		SQL: `
			CREATE TABLE session_meta (
				session_key        TEXT PRIMARY KEY,
				agent_id           TEXT NOT NULL,
				channel            TEXT NOT NULL,
				account_id         TEXT NOT NULL DEFAULT '',
				chat_type          TEXT NOT NULL,
				peer_id            TEXT NOT NULL,
				last_to            TEXT NOT NULL DEFAULT '',
				last_channel_index INTEGER NOT NULL DEFAULT 0,
				updated_at         TEXT NOT NULL
			);

			CREATE INDEX idx_session_meta_account ON session_meta (channel, account_id);
		`,
	},
}
