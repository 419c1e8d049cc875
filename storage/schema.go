/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSchema creates every table the store needs. Safe to call more than
// once. The DDL sticks to the subset shared by SQLite and PostgreSQL.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Content
CREATE TABLE IF NOT EXISTS media_pair (
    group_id TEXT NOT NULL,
    media_key TEXT NOT NULL,
    PRIMARY KEY (group_id, media_key)
);

CREATE TABLE IF NOT EXISTS word (
    group_id TEXT NOT NULL,
    word TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (group_id, word)
);

CREATE TABLE IF NOT EXISTS poll (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    variant TEXT NOT NULL CHECK (variant IN ('poll', 'two_truths', 'would_you_rather', 'this_or_that', 'fill_blank')),
    question TEXT NOT NULL,
    allow_multiple BOOLEAN NOT NULL DEFAULT FALSE,
    template TEXT NOT NULL DEFAULT '',
    lie_index INTEGER NOT NULL DEFAULT -1,
    position INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_poll_group_id ON poll(group_id);

CREATE TABLE IF NOT EXISTS poll_option (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_poll_option_poll_id ON poll_option(poll_id);

-- Results
CREATE TABLE IF NOT EXISTS match_result (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    game_id TEXT NOT NULL,
    score INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_match_result_group_id ON match_result(group_id);

CREATE TABLE IF NOT EXISTS chain_result (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    game_id TEXT NOT NULL,
    won BOOLEAN NOT NULL,
    score INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chain_result_group_id ON chain_result(group_id);

-- Ballots
CREATE TABLE IF NOT EXISTS ballot (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    poll_id TEXT NOT NULL,
    voter_id TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (poll_id, voter_id)
);

CREATE TABLE IF NOT EXISTS ballot_option (
    ballot_id TEXT NOT NULL REFERENCES ballot(id) ON DELETE CASCADE,
    option_id TEXT NOT NULL,
    PRIMARY KEY (ballot_id, option_id)
);

CREATE INDEX IF NOT EXISTS idx_ballot_option_option_id ON ballot_option(option_id);

CREATE TABLE IF NOT EXISTS blank_response (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    poll_id TEXT NOT NULL,
    voter_id TEXT NOT NULL,
    filled_text TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS lie_guess (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    poll_id TEXT NOT NULL,
    voter_id TEXT NOT NULL,
    statement_index INTEGER NOT NULL,
    correct BOOLEAN NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
