/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package vote

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Ballot is one voter's final choice on one poll.
type Ballot struct {
	PollID    string   `json:"poll_id"`
	VoterID   string   `json:"voter_id"`
	OptionIDs []string `json:"option_ids"`
}

// Aggregator caches the polls of a group and applies ballots to them.
// Counts loaded from the content service are the starting point; ballots
// cast through the aggregator are added on top.
type Aggregator struct {
	mu      sync.Mutex
	order   []string
	polls   map[string]*Poll
	ballots map[string]map[string]Ballot
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		polls:   make(map[string]*Poll),
		ballots: make(map[string]map[string]Ballot),
	}
}

// Load adds or refreshes polls. Invalid polls are skipped and reported.
func (a *Aggregator) Load(polls ...Poll) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, p := range polls {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("poll %q: %w", p.ID, err))
			continue
		}

		c := p.clone()
		if _, ok := a.polls[p.ID]; !ok {
			a.order = append(a.order, p.ID)
		}
		a.polls[p.ID] = &c
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Len returns the number of loaded polls.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.order)
}

func (a *Aggregator) Poll(id string) (Poll, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.polls[id]
	if !ok {
		return Poll{}, false
	}

	return p.clone(), true
}

// Polls returns every loaded poll in load order.
func (a *Aggregator) Polls() []Poll {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Poll, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.polls[id].clone())
	}

	return out
}

// Merge adds the polls of other that a does not hold yet, together with
// their counts and ballots. Polls already in a are left untouched.
func (a *Aggregator) Merge(other *Aggregator) {
	other.mu.Lock()
	polls := make([]Poll, 0, len(other.order))
	ballots := make(map[string]map[string]Ballot, len(other.order))
	for _, id := range other.order {
		polls = append(polls, other.polls[id].clone())
		ballots[id] = maps.Clone(other.ballots[id])
	}
	other.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range polls {
		if _, ok := a.polls[p.ID]; ok {
			continue
		}
		a.order = append(a.order, p.ID)
		a.polls[p.ID] = &p
		if len(ballots[p.ID]) > 0 {
			a.ballots[p.ID] = ballots[p.ID]
		}
	}
}

// BallotsOf returns every ballot of voterID, in poll order.
func (a *Aggregator) BallotsOf(voterID string) []Ballot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Ballot
	for _, id := range a.order {
		if b, ok := a.ballots[id][voterID]; ok {
			out = append(out, b)
		}
	}

	return out
}

func (a *Aggregator) Ballot(pollID, voterID string) (Ballot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.ballots[pollID][voterID]

	return b, ok
}

// Results tallies a loaded poll.
func (a *Aggregator) Results(pollID string) (Results, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.polls[pollID]
	if !ok {
		return Results{}, fmt.Errorf("%w: %q", ErrUnknownPoll, pollID)
	}

	return Compute(*p), nil
}

// Cast records a choice of fixed options. Nothing changes when the ballot
// is rejected.
func (a *Aggregator) Cast(pollID, voterID string, optionIDs []string) (Ballot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.openLocked(pollID, voterID)
	if err != nil {
		return Ballot{}, err
	}
	if p.Variant == VariantFillBlank || p.Variant == VariantTwoTruths {
		return Ballot{}, fmt.Errorf("%w: cast on %s", ErrWrongVariant, p.Variant)
	}

	if len(optionIDs) == 0 {
		return Ballot{}, ErrEmptySelection
	}
	if len(optionIDs) > 1 && !p.AllowMultiple {
		return Ballot{}, ErrTooManyOptions
	}

	idx := make([]int, 0, len(optionIDs))
	seen := make(map[string]bool, len(optionIDs))
	for _, id := range optionIDs {
		if seen[id] {
			return Ballot{}, fmt.Errorf("%w: %q", ErrDuplicateOption, id)
		}
		seen[id] = true

		i := p.option(id)
		if i < 0 {
			return Ballot{}, fmt.Errorf("%w: %q", ErrUnknownOption, id)
		}
		idx = append(idx, i)
	}

	for _, i := range idx {
		p.Options[i].Votes++
	}

	return a.recordLocked(pollID, voterID, append([]string(nil), optionIDs...)), nil
}

// Respond records a fill-in-the-blank answer. Answers that only differ in
// case or surrounding space share one option, whose vote count is the
// number of players who gave that answer.
func (a *Aggregator) Respond(pollID, voterID, text string) (Ballot, error) {
	text = strings.TrimSpace(text)

	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.openLocked(pollID, voterID)
	if err != nil {
		return Ballot{}, err
	}
	if p.Variant != VariantFillBlank {
		return Ballot{}, fmt.Errorf("%w: respond on %s", ErrWrongVariant, p.Variant)
	}
	if text == "" {
		return Ballot{}, ErrEmptyResponse
	}

	fold := cases.Fold()
	key := fold.String(text)
	i := -1
	for j, o := range p.Options {
		if fold.String(o.Text) == key {
			i = j
			break
		}
	}
	if i < 0 {
		p.Options = append(p.Options, Option{ID: uuid.NewString(), Text: text})
		i = len(p.Options) - 1
	}
	p.Options[i].Votes++

	return a.recordLocked(pollID, voterID, []string{p.Options[i].ID}), nil
}

// GuessLie records a two-truths guess and reports whether statement, the
// 1-based position of the chosen statement, is the lie.
func (a *Aggregator) GuessLie(pollID, voterID string, statement int) (bool, Ballot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.openLocked(pollID, voterID)
	if err != nil {
		return false, Ballot{}, err
	}
	if p.Variant != VariantTwoTruths {
		return false, Ballot{}, fmt.Errorf("%w: guess on %s", ErrWrongVariant, p.Variant)
	}
	if statement < 1 || statement > len(p.Options) {
		return false, Ballot{}, ErrBadStatement
	}

	opt := &p.Options[statement-1]
	opt.Votes++
	b := a.recordLocked(pollID, voterID, []string{opt.ID})

	return statement == p.LieIndex, b, nil
}

func (a *Aggregator) openLocked(pollID, voterID string) (*Poll, error) {
	if voterID == "" {
		return nil, ErrAnonymous
	}

	p, ok := a.polls[pollID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPoll, pollID)
	}

	if _, voted := a.ballots[pollID][voterID]; voted {
		return nil, ErrAlreadyVoted
	}

	return p, nil
}

func (a *Aggregator) recordLocked(pollID, voterID string, optionIDs []string) Ballot {
	b := Ballot{PollID: pollID, VoterID: voterID, OptionIDs: optionIDs}

	if a.ballots[pollID] == nil {
		a.ballots[pollID] = make(map[string]Ballot)
	}
	a.ballots[pollID][voterID] = b

	return b
}
