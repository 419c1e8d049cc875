/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package storage keeps game content and results in a SQL database.
//
// A Store serves media pairs, word pools and polls per group, and records
// finished games and ballots. It runs on SQLite (modernc.org/sqlite, no cgo)
// or PostgreSQL (lib/pq); queries use $N placeholders, which both accept.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Seednode/icebox/games/match"
	"github.com/Seednode/icebox/games/session"
	"github.com/Seednode/icebox/games/vote"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

type Store struct {
	db     *sql.DB
	driver string

	// Pairs is how many media pairs MediaPairs deals per game.
	Pairs int
}

// Open connects to the database and creates any missing tables.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	// SQLite allows a single writer, and every connection to :memory: is
	// its own database.
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	if err := CreateSchema(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Store{db: db, driver: driver, Pairs: match.DefaultPairs}, nil
}

// Driver names the database driver in use.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// MediaPairs returns up to Pairs random media keys of the group.
func (s *Store) MediaPairs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT media_key FROM media_pair
		WHERE group_id = $1
		ORDER BY RANDOM()
		LIMIT $2
	`, groupID, s.Pairs)
	if err != nil {
		return nil, fmt.Errorf("query media pairs: %w", err)
	}

	return scanStrings(rows)
}

// WordPool returns the group's words in insertion order.
func (s *Store) WordPool(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT word FROM word
		WHERE group_id = $1
		ORDER BY position, word
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query word pool: %w", err)
	}

	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}

// Polls returns the group's polls with their options. Counts are zero;
// Restore brings in the recorded answers.
func (s *Store) Polls(ctx context.Context, groupID string) ([]vote.Poll, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant, question, allow_multiple, template, lie_index
		FROM poll
		WHERE group_id = $1
		ORDER BY position, created_at, id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query polls: %w", err)
	}

	var polls []vote.Poll
	for rows.Next() {
		p := vote.Poll{GroupID: groupID}
		var variant string
		if err := rows.Scan(&p.ID, &variant, &p.Question, &p.AllowMultiple, &p.Template, &p.LieIndex); err != nil {
			rows.Close()

			return nil, fmt.Errorf("scan poll: %w", err)
		}
		p.Variant = vote.Variant(variant)
		polls = append(polls, p)
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polls: %w", err)
	}

	for i := range polls {
		opts, err := s.options(ctx, polls[i].ID)
		if err != nil {
			return nil, err
		}
		polls[i].Options = opts
	}

	return polls, nil
}

func (s *Store) options(ctx context.Context, pollID string) ([]vote.Option, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text FROM poll_option
		WHERE poll_id = $1
		ORDER BY position
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	var opts []vote.Option
	for rows.Next() {
		var o vote.Option
		if err := rows.Scan(&o.ID, &o.Text); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		opts = append(opts, o)
	}

	return opts, rows.Err()
}

func (s *Store) poll(ctx context.Context, pollID string) (vote.Poll, error) {
	var p vote.Poll
	var variant string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, variant, question, allow_multiple, template, lie_index
		FROM poll WHERE id = $1
	`, pollID).Scan(&p.ID, &p.GroupID, &variant, &p.Question, &p.AllowMultiple, &p.Template, &p.LieIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return vote.Poll{}, fmt.Errorf("%w: %s", vote.ErrUnknownPoll, pollID)
	}
	if err != nil {
		return vote.Poll{}, fmt.Errorf("query poll: %w", err)
	}
	p.Variant = vote.Variant(variant)

	p.Options, err = s.options(ctx, pollID)
	if err != nil {
		return vote.Poll{}, err
	}

	return p, nil
}

// AddMediaPairs stores media keys for a group. Existing keys are kept.
func (s *Store) AddMediaPairs(ctx context.Context, groupID string, keys ...string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO media_pair (group_id, media_key)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, groupID, k)
			if err != nil {
				return fmt.Errorf("insert media pair: %w", err)
			}
		}

		return nil
	})
}

// AddWords appends words to a group's pool. Existing words are kept.
func (s *Store) AddWords(ctx context.Context, groupID string, words ...string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var next int
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position) + 1, 0) FROM word WHERE group_id = $1
		`, groupID).Scan(&next)
		if err != nil {
			return fmt.Errorf("query word position: %w", err)
		}

		for i, w := range words {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO word (group_id, word, position)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, groupID, w, next+i)
			if err != nil {
				return fmt.Errorf("insert word: %w", err)
			}
		}

		return nil
	})
}

// SavePoll stores a poll and its options. The poll must be valid.
func (s *Store) SavePoll(ctx context.Context, p vote.Poll) error {
	if err := p.Validate(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var next int
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position) + 1, 0) FROM poll WHERE group_id = $1
		`, p.GroupID).Scan(&next)
		if err != nil {
			return fmt.Errorf("query poll position: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO poll (id, group_id, variant, question, allow_multiple, template, lie_index, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.ID, p.GroupID, string(p.Variant), p.Question, p.AllowMultiple, p.Template, p.LieIndex, next)
		if err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}

		for i, o := range p.Options {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO poll_option (id, poll_id, text, position)
				VALUES ($1, $2, $3, $4)
			`, o.ID, p.ID, o.Text, i)
			if err != nil {
				return fmt.Errorf("insert option: %w", err)
			}
		}

		return nil
	})
}

func (s *Store) MatchCompleted(ctx context.Context, r session.MatchResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_result (id, group_id, game_id, score)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), r.GroupID, r.GameID, r.Score)
	if err != nil {
		return fmt.Errorf("insert match result: %w", err)
	}

	return nil
}

func (s *Store) ChainCompleted(ctx context.Context, r session.ChainResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_result (id, group_id, game_id, won, score)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), r.GroupID, r.GameID, r.Won, r.Score)
	if err != nil {
		return fmt.Errorf("insert chain result: %w", err)
	}

	return nil
}

// VoteCast stores a ballot. The first ballot of a voter on a poll wins;
// later ones are ignored.
func (s *Store) VoteCast(ctx context.Context, v session.VoteCast) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		id := uuid.NewString()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO ballot (id, group_id, poll_id, voter_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, id, v.GroupID, v.PollID, v.VoterID)
		if err != nil {
			return fmt.Errorf("insert ballot: %w", err)
		}

		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}

		for _, o := range v.OptionIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO ballot_option (ballot_id, option_id)
				VALUES ($1, $2)
			`, id, o)
			if err != nil {
				return fmt.Errorf("insert ballot option: %w", err)
			}
		}

		return nil
	})
}

func (s *Store) BlankFilled(ctx context.Context, b session.BlankFilled) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blank_response (id, group_id, poll_id, voter_id, filled_text)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), b.GroupID, b.GameID, b.VoterID, b.Text)
	if err != nil {
		return fmt.Errorf("insert blank response: %w", err)
	}

	return nil
}

func (s *Store) LieGuessed(ctx context.Context, l session.LieGuessed) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lie_guess (id, group_id, poll_id, voter_id, statement_index, correct)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), l.GroupID, l.GameID, l.VoterID, l.Statement, l.Correct)
	if err != nil {
		return fmt.Errorf("insert lie guess: %w", err)
	}

	return nil
}

// Tally computes the all-time results of a stored poll by replaying every
// recorded answer through a fresh aggregator.
func (s *Store) Tally(ctx context.Context, pollID string) (vote.Results, error) {
	p, err := s.poll(ctx, pollID)
	if err != nil {
		return vote.Results{}, err
	}

	agg := vote.NewAggregator()
	if err := agg.Load(p); err != nil {
		return vote.Results{}, err
	}

	if err := s.Restore(ctx, agg, pollID); err != nil {
		return vote.Results{}, err
	}

	return agg.Results(pollID)
}

// Restore replays the recorded answers of each poll into agg, which must
// already hold the polls. Voters restored this way cannot answer again.
func (s *Store) Restore(ctx context.Context, agg *vote.Aggregator, pollIDs ...string) error {
	for _, pollID := range pollIDs {
		p, ok := agg.Poll(pollID)
		if !ok {
			return fmt.Errorf("%w: %q", vote.ErrUnknownPoll, pollID)
		}

		if err := s.restore(ctx, agg, p); err != nil {
			return fmt.Errorf("restore poll %s: %w", pollID, err)
		}
	}

	return nil
}

func (s *Store) restore(ctx context.Context, agg *vote.Aggregator, p vote.Poll) error {
	pollID := p.ID

	switch p.Variant {
	case vote.VariantFillBlank:
		return s.replay(ctx, `
			SELECT voter_id, filled_text FROM blank_response
			WHERE poll_id = $1 ORDER BY recorded_at, id
		`, pollID, func(voter, text string) {
			_, _ = agg.Respond(pollID, voter, text)
		})

	case vote.VariantTwoTruths:
		return s.replay(ctx, `
			SELECT voter_id, CAST(statement_index AS TEXT) FROM lie_guess
			WHERE poll_id = $1 ORDER BY recorded_at, id
		`, pollID, func(voter, statement string) {
			if n, err := strconv.Atoi(statement); err == nil {
				_, _, _ = agg.GuessLie(pollID, voter, n)
			}
		})
	}

	picks := make(map[string][]string)
	var order []string
	err := s.replay(ctx, `
		SELECT b.voter_id, bo.option_id
		FROM ballot b JOIN ballot_option bo ON bo.ballot_id = b.id
		WHERE b.poll_id = $1 ORDER BY b.recorded_at, b.id
	`, pollID, func(voter, option string) {
		if _, ok := picks[voter]; !ok {
			order = append(order, voter)
		}
		picks[voter] = append(picks[voter], option)
	})
	if err != nil {
		return err
	}

	for _, voter := range order {
		_, _ = agg.Cast(pollID, voter, picks[voter])
	}

	return nil
}

func (s *Store) replay(ctx context.Context, query, pollID string, f func(a, b string)) error {
	rows, err := s.db.QueryContext(ctx, query, pollID)
	if err != nil {
		return fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return fmt.Errorf("scan answer: %w", err)
		}
		f(a, b)
	}

	return rows.Err()
}

// Leaderboard returns the best memory scores recorded for a group.
func (s *Store) Leaderboard(ctx context.Context, groupID string, limit int) ([]session.MatchResult, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT game_id, score FROM match_result
		WHERE group_id = $1
		ORDER BY score DESC, recorded_at
		LIMIT $2
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []session.MatchResult
	for rows.Next() {
		r := session.MatchResult{GroupID: groupID}
		if err := rows.Scan(&r.GameID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan match result: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		return err
	}

	return tx.Commit()
}
