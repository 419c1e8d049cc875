/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package match implements the Photo-Memory game: a board of face-down
// cards dealt in pairs, flipped two at a time against a countdown.
//
// State holds the pure transitions. Engine wraps a State with the timers
// that drive evaluation delays, the countdown and the timeout re-deal.
package match

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

const (
	Reward       = 10
	RoundSeconds = 60
	DefaultPairs = 9

	MatchDelay    = 600 * time.Millisecond
	MismatchDelay = 1200 * time.Millisecond
	TimeoutDelay  = 2 * time.Second
)

var (
	ErrNoPairs      = errors.New("no media pairs to deal")
	ErrDuplicateKey = errors.New("duplicate media key")
)

type Phase int

const (
	PhaseLoading Phase = iota
	PhasePlaying
	PhaseEvaluating
	PhaseCompleted
	PhaseTimedOut
)

var phaseNames = [...]string{
	PhaseLoading:    "loading",
	PhasePlaying:    "playing",
	PhaseEvaluating: "evaluating",
	PhaseCompleted:  "completed",
	PhaseTimedOut:   "timed_out",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Card is one face of the board. Two cards sharing a MediaKey form a pair.
type Card struct {
	Index    int
	MediaKey string
}

// State is the board for one deal.
type State struct {
	Cards            []Card
	Flipped          []int
	Matched          map[int]bool
	Score            int
	SecondsRemaining int
	Phase            Phase
}

// Deal lays out two cards per key in a uniformly random order and resets
// the round.
func (s *State) Deal(keys []string, r *rand.Rand) error {
	if len(keys) == 0 {
		return ErrNoPairs
	}

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, k)
		}
		seen[k] = true
	}

	faces := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		faces = append(faces, k, k)
	}

	// Fisher-Yates
	for i := len(faces) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		faces[i], faces[j] = faces[j], faces[i]
	}

	s.Cards = make([]Card, len(faces))
	for i, k := range faces {
		s.Cards[i] = Card{Index: i, MediaKey: k}
	}
	s.Flipped = nil
	s.Matched = make(map[int]bool, len(faces))
	s.Score = 0
	s.SecondsRemaining = RoundSeconds
	s.Phase = PhasePlaying

	return nil
}

// Flip turns card i face up. It reports false, leaving the state untouched,
// when the flip is not allowed.
func (s *State) Flip(i int) bool {
	switch {
	case s.Phase != PhasePlaying:
		return false
	case i < 0 || i >= len(s.Cards):
		return false
	case s.Matched[i]:
		return false
	case len(s.Flipped) >= 2:
		return false
	case slices.Contains(s.Flipped, i):
		return false
	}

	s.Flipped = append(s.Flipped, i)
	if len(s.Flipped) == 2 {
		s.Phase = PhaseEvaluating
	}

	return true
}

// IsMatch reports whether the two flipped cards form a pair.
func (s *State) IsMatch() bool {
	if len(s.Flipped) != 2 {
		return false
	}
	a, b := s.Flipped[0], s.Flipped[1]

	return a != b && s.Cards[a].MediaKey == s.Cards[b].MediaKey
}

// Resolve settles an evaluation and reports whether it was a match.
func (s *State) Resolve() bool {
	if s.Phase != PhaseEvaluating || len(s.Flipped) != 2 {
		return false
	}

	matched := s.IsMatch()
	if matched {
		s.Matched[s.Flipped[0]] = true
		s.Matched[s.Flipped[1]] = true
		s.Score += Reward
	}
	s.Flipped = nil

	if s.Done() {
		s.Phase = PhaseCompleted
	} else {
		s.Phase = PhasePlaying
	}

	return matched
}

// Tick consumes one second of the countdown and reports whether the round
// ran out of time on this tick.
func (s *State) Tick() bool {
	if s.Phase != PhasePlaying && s.Phase != PhaseEvaluating {
		return false
	}
	if s.Done() || s.SecondsRemaining <= 0 {
		return false
	}

	s.SecondsRemaining--
	if s.SecondsRemaining > 0 {
		return false
	}

	s.Flipped = nil
	s.Phase = PhaseTimedOut

	return true
}

// Done reports whether every card has been matched.
func (s *State) Done() bool {
	return len(s.Cards) > 0 && len(s.Matched) == len(s.Cards)
}

func (s *State) clone() State {
	c := *s
	c.Cards = slices.Clone(s.Cards)
	c.Flipped = slices.Clone(s.Flipped)
	c.Matched = make(map[int]bool, len(s.Matched))
	for k, v := range s.Matched {
		c.Matched[k] = v
	}

	return c
}

// CardView is a card as shown to players: the media key is only present
// while the card is face up.
type CardView struct {
	Index    int    `json:"index"`
	MediaKey string `json:"media_key,omitempty"`
	FaceUp   bool   `json:"face_up"`
	Matched  bool   `json:"matched"`
}

// Snapshot is the player-facing view of a board.
type Snapshot struct {
	Version          uint64     `json:"version"`
	Phase            Phase      `json:"phase"`
	Cards            []CardView `json:"cards"`
	Score            int        `json:"score"`
	SecondsRemaining int        `json:"seconds_remaining"`
	Pairs            int        `json:"pairs"`
}

func (s *State) view(version uint64) Snapshot {
	cards := make([]CardView, len(s.Cards))
	for i, c := range s.Cards {
		up := s.Matched[i] || slices.Contains(s.Flipped, i)
		cards[i] = CardView{Index: c.Index, FaceUp: up, Matched: s.Matched[i]}
		if up {
			cards[i].MediaKey = c.MediaKey
		}
	}

	return Snapshot{
		Version:          version,
		Phase:            s.Phase,
		Cards:            cards,
		Score:            s.Score,
		SecondsRemaining: s.SecondsRemaining,
		Pairs:            len(s.Cards) / 2,
	}
}
