/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/Seednode/icebox/games/chain"
	"github.com/Seednode/icebox/games/match"
	"github.com/Seednode/icebox/games/vote"
)

type Kind string

const (
	KindMemory Kind = "memory"
	KindChain  Kind = "chain"
	KindPolls  Kind = "polls"
)

var Kinds = []Kind{KindMemory, KindChain, KindPolls}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type Status int

const (
	StatusLoading Status = iota
	StatusReady
	StatusFailed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Key identifies one game of one group.
type Key struct {
	GroupID string
	GameID  string
}

func (k Key) String() string {
	return k.GroupID + "/" + k.GameID
}

// PollView is a poll together with its current tally. Rounded holds whole
// percentages per option that always add up to 100 once anyone has voted.
type PollView struct {
	Poll    vote.Poll    `json:"poll"`
	Results vote.Results `json:"results"`
	Rounded []int        `json:"rounded_percent"`
}

// Update is what subscribers see after every change to a session.
type Update struct {
	Kind   Kind            `json:"kind"`
	Status Status          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Match  *match.Snapshot `json:"match,omitempty"`
	Chain  *chain.Snapshot `json:"chain,omitempty"`
	Polls  []PollView      `json:"polls,omitempty"`
}

// Session is one play-through of one game kind.
type Session struct {
	key  Key
	kind Kind

	mu         sync.Mutex
	status     Status
	err        error
	lastActive time.Time
	subs       map[int]func(Update)
	nextSub    int

	match *match.Engine
	chain *chain.Engine
	polls *vote.Aggregator
}

func newSession(key Key, kind Kind, now time.Time) *Session {
	return &Session{
		key:        key,
		kind:       kind,
		status:     StatusLoading,
		lastActive: now,
		subs:       make(map[int]func(Update)),
	}
}

func (s *Session) Key() Key   { return s.key }
func (s *Session) Kind() Kind { return s.kind }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Err returns the reason a session failed to load.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Subscribe registers f for every future update and returns a function
// that removes it.
func (s *Session) Subscribe(f func(Update)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = f

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.subs, id)
	}
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	u := Update{Kind: s.kind, Status: s.status}
	if s.err != nil {
		u.Error = s.err.Error()
	}
	m, c, p := s.match, s.chain, s.polls
	s.mu.Unlock()

	switch {
	case m != nil:
		snap := m.Snapshot()
		u.Match = &snap
	case c != nil:
		snap := c.Snapshot()
		u.Chain = &snap
	case p != nil:
		u.Polls = pollViews(p)
	}

	return u
}

func pollViews(a *vote.Aggregator) []PollView {
	polls := a.Polls()

	views := make([]PollView, len(polls))
	for i, p := range polls {
		res := vote.Compute(p)
		views[i] = PollView{Poll: p, Results: res, Rounded: vote.Round(res)}
	}

	return views
}

// busy reports whether the session is in a state that must not be
// replaced: still loading, or in the middle of a flip evaluation.
func (s *Session) busy() bool {
	s.mu.Lock()
	status, m := s.status, s.match
	s.mu.Unlock()

	if status == StatusLoading {
		return true
	}

	return status == StatusReady && m != nil && m.Phase() == match.PhaseEvaluating
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive = now
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActive
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusReady:
		return nil
	case StatusClosed:
		return ErrNoSession
	}

	return ErrNotReady
}

func (s *Session) close() {
	s.mu.Lock()
	s.status = StatusClosed
	m := s.match
	s.subs = make(map[int]func(Update))
	s.mu.Unlock()

	if m != nil {
		m.Close()
	}
}

func (s *Session) publish(u Update) {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()

		return
	}
	subs := make([]func(Update), 0, len(s.subs))
	for _, f := range s.subs {
		subs = append(subs, f)
	}
	s.mu.Unlock()

	for _, f := range subs {
		f(u)
	}
}

func (s *Session) publishSnapshot() {
	s.publish(s.Snapshot())
}
