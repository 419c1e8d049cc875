/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package content

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/Seednode/icebox/games/vote"
)

var mediaKeys = []string{
	"🐶", "🐱", "🦊", "🐼", "🐨", "🦁", "🐸", "🐙", "🦄", "🐝",
	"🌵", "🌻", "🍄", "🍉", "🍒", "🥑", "🍩", "🎈", "🎸", "🚲",
	"⚽", "🎲", "🪁", "🧩",
}

var wordPool = []string{
	"coffee", "morning", "sunrise", "beach", "sand", "castle",
	"king", "crown", "jewel", "treasure", "map", "journey",
	"train", "station", "city", "night", "stars", "moon",
}

// Static serves a built-in catalogue. Polls are generated once per group
// so that ballots keep pointing at the same option ids.
type Static struct {
	Pairs int

	mu    sync.Mutex
	polls map[string][]vote.Poll
}

func NewStatic(pairs int) *Static {
	return &Static{Pairs: pairs, polls: make(map[string][]vote.Poll)}
}

// MediaKeys returns every media key of the built-in catalogue.
func MediaKeys() []string {
	return append([]string(nil), mediaKeys...)
}

// Words returns the built-in word pool.
func Words() []string {
	return append([]string(nil), wordPool...)
}

func (s *Static) MediaPairs(_ context.Context, _ string) ([]string, error) {
	n := s.Pairs
	if n <= 0 || n > len(mediaKeys) {
		return nil, fmt.Errorf("built-in catalogue has %d media keys, %d requested", len(mediaKeys), n)
	}

	keys := make([]string, 0, n)
	for _, i := range rand.Perm(len(mediaKeys))[:n] {
		keys = append(keys, mediaKeys[i])
	}

	return keys, nil
}

func (s *Static) WordPool(_ context.Context, _ string) ([]string, error) {
	return Words(), nil
}

func (s *Static) Polls(_ context.Context, groupID string) ([]vote.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if polls, ok := s.polls[groupID]; ok {
		return polls, nil
	}

	polls, err := Icebreakers(groupID)
	if err != nil {
		return nil, err
	}
	s.polls[groupID] = polls

	return polls, nil
}

// Icebreakers builds a fresh set of sample polls, one or more of every
// variant, with new ids.
func Icebreakers(groupID string) ([]vote.Poll, error) {
	var polls []vote.Poll

	add := func(p vote.Poll, err error) error {
		if err != nil {
			return err
		}
		polls = append(polls, p)

		return nil
	}

	for _, err := range []error{
		add(vote.NewPoll(groupID, "Where should the next meetup be?", []string{"Park", "Pub", "Bowling", "Karaoke"}, false)),
		add(vote.NewPoll(groupID, "Which snacks should we bring?", []string{"Chips", "Fruit", "Cookies", "Veggies"}, true)),
		add(vote.NewWouldYouRather(groupID, "Be able to fly", "Be invisible")),
		add(vote.NewThisOrThat(groupID, "Mountains", "Beach")),
		add(vote.NewTwoTruths(groupID, "the host", [3]string{
			"I have run a marathon",
			"I have met a famous astronaut",
			"I can juggle five balls",
		}, 2)),
		add(vote.NewFillBlank(groupID, "The best part of my week is ___.")),
	} {
		if err != nil {
			return nil, err
		}
	}

	return polls, nil
}
