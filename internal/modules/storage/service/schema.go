package service

// Схема совместима с postgres и sqlite: деньги TEXT (decimal строкой),
// время BIGINT (unix ms), JSON в TEXT.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS incoming_positions (
		id                TEXT PRIMARY KEY,
		exchange          TEXT    NOT NULL,
		position_id       TEXT    NOT NULL,
		symbol            TEXT    NOT NULL,
		side              TEXT    NOT NULL,
		entry_price       TEXT    NOT NULL DEFAULT '0',
		quantity          TEXT    NOT NULL DEFAULT '0',
		leverage          TEXT    NOT NULL DEFAULT '0',
		unrealized_pnl    TEXT    NOT NULL DEFAULT '0',
		mark_price        TEXT    NOT NULL DEFAULT '0',
		stop_loss         TEXT    NOT NULL DEFAULT '0',
		take_profit       TEXT    NOT NULL DEFAULT '0',
		status            TEXT    NOT NULL,
		opening_eval_done INTEGER NOT NULL DEFAULT 0,
		metadata          TEXT    NOT NULL DEFAULT '{}',
		raw_payload       TEXT    NOT NULL DEFAULT '',
		close_payload     TEXT    NOT NULL DEFAULT '',
		close_misses      INTEGER NOT NULL DEFAULT 0,
		first_missed_at   BIGINT  NOT NULL DEFAULT 0,
		opened_at         BIGINT  NOT NULL,
		created_at        BIGINT  NOT NULL,
		updated_at        BIGINT  NOT NULL,
		UNIQUE (exchange, position_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incoming_positions_status ON incoming_positions (status, opening_eval_done)`,
	`CREATE TABLE IF NOT EXISTS day_ledgers (
		date_unix  BIGINT PRIMARY KEY,
		trades     TEXT   NOT NULL,
		blotter    TEXT   NOT NULL,
		pnl        TEXT   NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trade_annotations (
		trade_id   TEXT PRIMARY KEY,
		date_unix  BIGINT NOT NULL,
		exchange   TEXT   NOT NULL,
		symbol     TEXT   NOT NULL,
		metadata   TEXT   NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_annotations_date ON trade_annotations (date_unix)`,
}
