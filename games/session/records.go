/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import "context"

// Recorder receives terminal events for persistence. Calls are made at most
// once per event, off the game's own goroutine; a failing call is logged
// and otherwise ignored.
type Recorder interface {
	MatchCompleted(ctx context.Context, r MatchResult) error
	ChainCompleted(ctx context.Context, r ChainResult) error
	VoteCast(ctx context.Context, v VoteCast) error
	BlankFilled(ctx context.Context, b BlankFilled) error
	LieGuessed(ctx context.Context, l LieGuessed) error
}

type MatchResult struct {
	GroupID string `json:"group_id"`
	GameID  string `json:"game_id"`
	Score   int    `json:"score"`
}

type ChainResult struct {
	GroupID string `json:"group_id"`
	GameID  string `json:"game_id"`
	Won     bool   `json:"won"`
	Score   int    `json:"score"`
}

type VoteCast struct {
	GroupID   string   `json:"group_id"`
	PollID    string   `json:"poll_id"`
	VoterID   string   `json:"voter_id"`
	OptionIDs []string `json:"option_ids"`
}

// BlankFilled is a fill-in-the-blank answer. GameID is the poll id.
type BlankFilled struct {
	GroupID string `json:"group_id"`
	GameID  string `json:"game_id"`
	VoterID string `json:"voter_id"`
	Text    string `json:"filled_text"`
}

// LieGuessed is a two-truths guess. GameID is the poll id.
type LieGuessed struct {
	GroupID   string `json:"group_id"`
	GameID    string `json:"game_id"`
	VoterID   string `json:"voter_id"`
	Statement int    `json:"guessed_statement_index"`
	Correct   bool   `json:"correct"`
}

type discard struct{}

func (discard) MatchCompleted(context.Context, MatchResult) error { return nil }
func (discard) ChainCompleted(context.Context, ChainResult) error { return nil }
func (discard) VoteCast(context.Context, VoteCast) error          { return nil }
func (discard) BlankFilled(context.Context, BlankFilled) error    { return nil }
func (discard) LieGuessed(context.Context, LieGuessed) error      { return nil }
