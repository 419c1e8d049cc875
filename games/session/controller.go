/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session binds each (group, game) pair to a running game engine.
//
// The Controller fetches content once when a session opens, forwards player
// intents to the engine, and hands terminal events (scores, ballots) to a
// Recorder without waiting for them. A session whose content could not be
// loaded stays failed until it is explicitly reopened.
//
// Poll games of one group share a single aggregator, so a voter gets one
// ballot per poll no matter how many games of the group are played.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Seednode/icebox/games/chain"
	"github.com/Seednode/icebox/games/content"
	"github.com/Seednode/icebox/games/match"
	"github.com/Seednode/icebox/games/vote"
)

var (
	ErrContentUnavailable = errors.New("game content unavailable")
	ErrBusy               = errors.New("game is still loading or evaluating")
	ErrNoSession          = errors.New("no such game session")
	ErrNotReady           = errors.New("game session is not ready")
	ErrWrongKind          = errors.New("intent does not apply to this game")
	ErrUnknownKind        = errors.New("unknown game kind")
)

const defaultSubmitTimeout = 10 * time.Second

// History replays answers recorded by earlier runs into an aggregator
// holding the given polls.
type History interface {
	Restore(ctx context.Context, a *vote.Aggregator, pollIDs ...string) error
}

type Controller struct {
	source        content.Source
	recorder      Recorder
	history       History
	clock         clockwork.Clock
	logger        *slog.Logger
	submitTimeout time.Duration

	mu       sync.Mutex
	sessions map[Key]*Session
	groups   map[string]*vote.Aggregator

	inflight sync.WaitGroup
}

type Option func(*Controller)

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithHistory makes poll games start from the answers h has recorded.
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

func WithClock(cl clockwork.Clock) Option {
	return func(c *Controller) { c.clock = cl }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Controller) { c.submitTimeout = d }
}

func New(source content.Source, opts ...Option) *Controller {
	c := &Controller{
		source:        source,
		recorder:      discard{},
		clock:         clockwork.NewRealClock(),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		submitTimeout: defaultSubmitTimeout,
		sessions:      make(map[Key]*Session),
		groups:        make(map[string]*vote.Aggregator),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Open starts a new session of kind for key, replacing any previous one.
// It fails with ErrBusy while the previous session is still loading or
// evaluating. When content cannot be fetched the session is kept in the
// failed state and the error wraps ErrContentUnavailable.
func (c *Controller) Open(ctx context.Context, key Key, kind Kind) (*Session, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if old, ok := c.sessions[key]; ok {
		if old.busy() {
			c.mu.Unlock()

			return nil, ErrBusy
		}
		old.close()
	}
	s := newSession(key, kind, c.clock.Now())
	c.sessions[key] = s
	c.mu.Unlock()

	if err := c.load(ctx, s); err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.err = err
		s.mu.Unlock()

		c.logger.Warn("game content unavailable", "game", key.String(), "kind", kind, "error", err)
		s.publishSnapshot()

		return s, err
	}

	s.mu.Lock()
	s.status = StatusReady
	s.mu.Unlock()

	c.logger.Info("game opened", "game", key.String(), "kind", kind)
	s.publishSnapshot()

	return s, nil
}

func (c *Controller) load(ctx context.Context, s *Session) error {
	key := s.key

	switch s.kind {
	case KindMemory:
		keys, err := c.source.MediaPairs(ctx, key.GroupID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrContentUnavailable, err)
		}
		if len(keys) == 0 {
			return fmt.Errorf("%w: %w", ErrContentUnavailable, content.ErrEmpty)
		}

		e := match.NewEngine(
			match.WithClock(c.clock),
			match.OnChange(func(snap match.Snapshot) {
				s.publish(Update{Kind: KindMemory, Status: s.Status(), Match: &snap})
			}),
			match.OnComplete(func(score int) {
				c.logger.Info("memory game completed", "game", key.String(), "score", score)
				c.submit("match", func(ctx context.Context) error {
					return c.recorder.MatchCompleted(ctx, MatchResult{GroupID: key.GroupID, GameID: key.GameID, Score: score})
				})
			}),
		)

		s.mu.Lock()
		s.match = e
		s.mu.Unlock()

		if err := e.Start(keys); err != nil {
			return fmt.Errorf("%w: %w", ErrContentUnavailable, err)
		}

	case KindChain:
		words, err := c.source.WordPool(ctx, key.GroupID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrContentUnavailable, err)
		}

		e := chain.NewEngine()
		if err := e.Start(words); err != nil {
			return fmt.Errorf("%w: %w", ErrContentUnavailable, err)
		}

		s.mu.Lock()
		s.chain = e
		s.mu.Unlock()

	case KindPolls:
		polls, err := c.source.Polls(ctx, key.GroupID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrContentUnavailable, err)
		}

		a, err := c.groupPolls(ctx, key, polls)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrContentUnavailable, err)
		}
		if a.Len() == 0 {
			return fmt.Errorf("%w: %w", ErrContentUnavailable, content.ErrEmpty)
		}

		s.mu.Lock()
		s.polls = a
		s.mu.Unlock()
	}

	return nil
}

// groupPolls returns the aggregator shared by the poll games of a group,
// adding the polls it does not hold yet along with their recorded answers.
// History is read into a private aggregator first, so a failed read leaves
// the shared one as it was.
func (c *Controller) groupPolls(ctx context.Context, key Key, polls []vote.Poll) (*vote.Aggregator, error) {
	c.mu.Lock()
	shared := c.groups[key.GroupID]
	c.mu.Unlock()

	var fresh []vote.Poll
	for _, p := range polls {
		if shared != nil {
			if _, ok := shared.Poll(p.ID); ok {
				continue
			}
		}
		fresh = append(fresh, p)
	}

	loaded := vote.NewAggregator()
	if err := loaded.Load(fresh...); err != nil {
		c.logger.Warn("skipped invalid polls", "game", key.String(), "error", err)
	}

	if c.history != nil && loaded.Len() > 0 {
		ids := make([]string, 0, loaded.Len())
		for _, p := range loaded.Polls() {
			ids = append(ids, p.ID)
		}
		if err := c.history.Restore(ctx, loaded, ids...); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	shared, ok := c.groups[key.GroupID]
	if !ok {
		shared = vote.NewAggregator()
		c.groups[key.GroupID] = shared
	}
	shared.Merge(loaded)

	return shared, nil
}

// Session returns the session for key, if any.
func (c *Controller) Session(key Key) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[key]

	return s, ok
}

func (c *Controller) ready(key Key, kind Kind) (*Session, error) {
	s, ok := c.Session(key)
	if !ok {
		return nil, ErrNoSession
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.kind != kind {
		return nil, fmt.Errorf("%w: %s game", ErrWrongKind, s.kind)
	}
	s.touch(c.clock.Now())

	return s, nil
}

// Flip turns over a card and reports whether the flip was accepted.
func (c *Controller) Flip(key Key, index int) (bool, error) {
	s, err := c.ready(key, KindMemory)
	if err != nil {
		return false, err
	}

	return s.match.Flip(index), nil
}

// Guess submits the next word of a chain game.
func (c *Controller) Guess(key Key, word string) (chain.Outcome, error) {
	s, err := c.ready(key, KindChain)
	if err != nil {
		return chain.OutcomeIgnored, err
	}

	outcome := s.chain.Guess(word)
	if outcome == chain.OutcomeIgnored {
		return outcome, nil
	}

	snap := s.chain.Snapshot()
	s.publish(Update{Kind: KindChain, Status: StatusReady, Chain: &snap})

	if outcome == chain.OutcomeWon || outcome == chain.OutcomeLost {
		res := ChainResult{GroupID: key.GroupID, GameID: key.GameID, Won: snap.Won, Score: snap.Score}
		c.logger.Info("chain game over", "game", key.String(), "won", res.Won, "score", res.Score)
		c.submit("chain", func(ctx context.Context) error {
			return c.recorder.ChainCompleted(ctx, res)
		})
	}

	return outcome, nil
}

// Vote casts a ballot of fixed options.
func (c *Controller) Vote(key Key, pollID, voterID string, optionIDs []string) (vote.Ballot, error) {
	s, err := c.ready(key, KindPolls)
	if err != nil {
		return vote.Ballot{}, err
	}

	b, err := s.polls.Cast(pollID, voterID, optionIDs)
	if err != nil {
		return vote.Ballot{}, err
	}
	c.publishPolls(key.GroupID)

	ev := VoteCast{GroupID: key.GroupID, PollID: pollID, VoterID: voterID, OptionIDs: b.OptionIDs}
	c.submit("vote", func(ctx context.Context) error {
		return c.recorder.VoteCast(ctx, ev)
	})

	return b, nil
}

// Respond answers a fill-in-the-blank poll.
func (c *Controller) Respond(key Key, pollID, voterID, text string) (vote.Ballot, error) {
	s, err := c.ready(key, KindPolls)
	if err != nil {
		return vote.Ballot{}, err
	}

	b, err := s.polls.Respond(pollID, voterID, text)
	if err != nil {
		return vote.Ballot{}, err
	}
	c.publishPolls(key.GroupID)

	ev := BlankFilled{GroupID: key.GroupID, GameID: pollID, VoterID: voterID, Text: strings.TrimSpace(text)}
	c.submit("blank", func(ctx context.Context) error {
		return c.recorder.BlankFilled(ctx, ev)
	})

	return b, nil
}

// GuessLie answers a two-truths poll and reports whether the guess was right.
func (c *Controller) GuessLie(key Key, pollID, voterID string, statement int) (bool, error) {
	s, err := c.ready(key, KindPolls)
	if err != nil {
		return false, err
	}

	correct, _, err := s.polls.GuessLie(pollID, voterID, statement)
	if err != nil {
		return false, err
	}
	c.publishPolls(key.GroupID)

	ev := LieGuessed{GroupID: key.GroupID, GameID: pollID, VoterID: voterID, Statement: statement, Correct: correct}
	c.submit("lie", func(ctx context.Context) error {
		return c.recorder.LieGuessed(ctx, ev)
	})

	return correct, nil
}

// publishPolls pushes the shared tally to every poll game of a group.
func (c *Controller) publishPolls(groupID string) {
	c.mu.Lock()
	var games []*Session
	for key, s := range c.sessions {
		if key.GroupID == groupID && s.kind == KindPolls {
			games = append(games, s)
		}
	}
	c.mu.Unlock()

	for _, s := range games {
		s.publishSnapshot()
	}
}

// Ballots returns the answers voterID has given on the polls of the game.
func (c *Controller) Ballots(key Key, voterID string) []vote.Ballot {
	s, ok := c.Session(key)
	if !ok || voterID == "" {
		return nil
	}

	s.mu.Lock()
	a := s.polls
	s.mu.Unlock()

	if a == nil {
		return nil
	}

	return a.BallotsOf(voterID)
}

// PollResults returns the live tally of a poll shared by the games of a group.
func (c *Controller) PollResults(groupID, pollID string) (vote.Results, bool) {
	c.mu.Lock()
	a, ok := c.groups[groupID]
	c.mu.Unlock()

	if !ok {
		return vote.Results{}, false
	}

	res, err := a.Results(pollID)
	if err != nil {
		return vote.Results{}, false
	}

	return res, true
}

// Touch marks the session for key as active.
func (c *Controller) Touch(key Key) {
	if s, ok := c.Session(key); ok {
		s.touch(c.clock.Now())
	}
}

// Restart begins the game again. A ready memory game is re-dealt with the
// same cards; anything else is reopened with freshly fetched content.
func (c *Controller) Restart(ctx context.Context, key Key) (*Session, error) {
	s, ok := c.Session(key)
	if !ok {
		return nil, ErrNoSession
	}

	if s.kind == KindMemory && s.ready() == nil {
		if s.busy() {
			return nil, ErrBusy
		}
		s.touch(c.clock.Now())

		if err := s.match.Restart(); err != nil {
			return nil, err
		}

		return s, nil
	}

	return c.Open(ctx, key, s.kind)
}

// Close ends the session for key and cancels its timers.
func (c *Controller) Close(key Key) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	delete(c.sessions, key)
	c.releaseGroupLocked(key.GroupID)
	c.mu.Unlock()

	if ok {
		s.close()
	}
}

// Reap closes sessions idle for longer than idle and returns how many were closed.
func (c *Controller) Reap(idle time.Duration) int {
	cutoff := c.clock.Now().Add(-idle)

	c.mu.Lock()
	var stale []*Session
	for key, s := range c.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(c.sessions, key)
		}
	}
	for _, s := range stale {
		c.releaseGroupLocked(s.key.GroupID)
	}
	c.mu.Unlock()

	for _, s := range stale {
		s.close()
		c.logger.Info("game reaped", "game", s.key.String())
	}

	return len(stale)
}

// releaseGroupLocked drops the shared polls of a group once no game of it
// is left. Without a History they are kept, since they are the only record
// of who already voted.
func (c *Controller) releaseGroupLocked(groupID string) {
	if c.history == nil {
		return
	}
	for key := range c.sessions {
		if key.GroupID == groupID {
			return
		}
	}
	delete(c.groups, groupID)
}

// Wait blocks until every pending Recorder call has returned.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) submit(event string, f func(ctx context.Context) error) {
	c.inflight.Add(1)

	go func() {
		defer c.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.submitTimeout)
		defer cancel()

		if err := f(ctx); err != nil {
			c.logger.Warn("failed to record game event", "event", event, "error", err)
		}
	}()
}
