/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package content supplies the raw material for each group's games: media
// keys for the memory board, a word pool for the association chain and the
// polls used by the icebreakers.
package content

import (
	"context"
	"errors"

	"github.com/Seednode/icebox/games/vote"
)

// ErrEmpty is returned when a source has nothing for a group.
var ErrEmpty = errors.New("no content for group")

// Source provides per-group game content.
type Source interface {
	// MediaPairs returns distinct media keys; each becomes one pair of cards.
	MediaPairs(ctx context.Context, groupID string) ([]string, error)
	WordPool(ctx context.Context, groupID string) ([]string, error)
	Polls(ctx context.Context, groupID string) ([]vote.Poll, error)
}

// Fallback asks Primary first and uses Secondary when Primary fails or has
// nothing for the group.
type Fallback struct {
	Primary   Source
	Secondary Source
}

func (f Fallback) MediaPairs(ctx context.Context, groupID string) ([]string, error) {
	keys, err := f.Primary.MediaPairs(ctx, groupID)
	if err == nil && len(keys) > 0 {
		return keys, nil
	}

	return f.Secondary.MediaPairs(ctx, groupID)
}

func (f Fallback) WordPool(ctx context.Context, groupID string) ([]string, error) {
	words, err := f.Primary.WordPool(ctx, groupID)
	if err == nil && len(words) > 0 {
		return words, nil
	}

	return f.Secondary.WordPool(ctx, groupID)
}

func (f Fallback) Polls(ctx context.Context, groupID string) ([]vote.Poll, error) {
	polls, err := f.Primary.Polls(ctx, groupID)
	if err == nil && len(polls) > 0 {
		return polls, nil
	}

	return f.Secondary.Polls(ctx, groupID)
}
