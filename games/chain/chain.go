/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package chain implements the Word-Association game. Players extend a
// chain one word at a time from a fixed pool; a word outside the pool, a
// word already in the chain, or a repeat of the current word ends the game.
package chain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrInsufficientContent = errors.New("word pool needs at least two distinct words")

type Phase int

const (
	PhaseLoading Phase = iota
	PhasePlaying
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhasePlaying:
		return "playing"
	case PhaseGameOver:
		return "game_over"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Outcome describes what a guess did.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeAccepted
	OutcomeWon
	OutcomeLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeWon:
		return "won"
	case OutcomeLost:
		return "lost"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Miss records the guess that ended a lost game, plus a word that would
// have been accepted. HasHint is false when no unused word remained.
type Miss struct {
	Guess   string `json:"guess"`
	Hint    string `json:"hint,omitempty"`
	HasHint bool   `json:"has_hint"`
}

// Snapshot is a copy of the game.
type Snapshot struct {
	Phase   Phase    `json:"phase"`
	Pool    int      `json:"pool_size"`
	Chain   []string `json:"chain"`
	Current string   `json:"current_word"`
	Score   int      `json:"score"`
	Won     bool     `json:"won"`
	Miss    *Miss    `json:"miss,omitempty"`
}

// Normalize trims and lower-cases a word.
func Normalize(word string) string {
	// a Caser carries state and cannot be shared between goroutines
	return cases.Lower(language.Und).String(strings.TrimSpace(word))
}

// Engine runs one Word-Association session.
type Engine struct {
	mu sync.Mutex

	pool    []string
	inPool  map[string]bool
	used    map[string]bool
	chain   []string
	current string
	score   int
	phase   Phase
	won     bool
	miss    *Miss
}

func NewEngine() *Engine {
	return &Engine{}
}

// Start loads a word pool and seeds the chain with its first word.
// Duplicate and blank entries are dropped after normalization.
func (e *Engine) Start(pool []string) error {
	words := make([]string, 0, len(pool))
	seen := make(map[string]bool, len(pool))
	for _, w := range pool {
		w = Normalize(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(words) < 2 {
		e.phase = PhaseLoading

		return fmt.Errorf("%w: got %d", ErrInsufficientContent, len(words))
	}

	e.pool = words
	e.inPool = seen
	e.chain = []string{words[0]}
	e.used = map[string]bool{words[0]: true}
	e.current = words[0]
	e.score = 0
	e.phase = PhasePlaying
	e.won = false
	e.miss = nil

	return nil
}

// Guess submits the next word of the chain.
func (e *Engine) Guess(raw string) Outcome {
	word := Normalize(raw)
	if word == "" {
		return OutcomeIgnored
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhasePlaying {
		return OutcomeIgnored
	}

	if !e.inPool[word] || e.used[word] || word == e.current {
		e.phase = PhaseGameOver
		e.won = false
		e.miss = &Miss{Guess: word}
		e.miss.Hint, e.miss.HasHint = e.hintLocked()

		return OutcomeLost
	}

	e.chain = append(e.chain, word)
	e.used[word] = true
	e.current = word
	e.score++

	if len(e.chain) == len(e.pool) {
		e.phase = PhaseGameOver
		e.won = true

		return OutcomeWon
	}

	return OutcomeAccepted
}

// hintLocked picks the first pool word that would still have been accepted.
func (e *Engine) hintLocked() (string, bool) {
	for _, w := range e.pool {
		if !e.used[w] && w != e.current {
			return w, true
		}
	}

	return "", false
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.phase
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Phase:   e.phase,
		Pool:    len(e.pool),
		Chain:   slices.Clone(e.chain),
		Current: e.current,
		Score:   e.score,
		Won:     e.won,
	}
	if e.miss != nil {
		m := *e.miss
		s.Miss = &m
	}

	return s
}
