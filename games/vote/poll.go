/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package vote holds the poll protocol shared by the icebreaker games.
//
// Every variant is a Poll: a question with an ordered list of options and a
// vote count per option. Variants only differ in how many options they
// carry and how a player picks one:
//
//   - VariantPoll: two or more fixed options, optionally multi-select
//   - VariantWouldYouRather, VariantThisOrThat: exactly two fixed options
//   - VariantTwoTruths: three statements, one of which is the lie
//   - VariantFillBlank: options are created from free-text responses
//
// Ballots are final. A voter gets one ballot per poll and cannot change it.
package vote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BlankToken marks the gap in a fill-in-the-blank template.
const BlankToken = "___"

type Variant string

const (
	VariantPoll           Variant = "poll"
	VariantTwoTruths      Variant = "two_truths"
	VariantWouldYouRather Variant = "would_you_rather"
	VariantThisOrThat     Variant = "this_or_that"
	VariantFillBlank      Variant = "fill_blank"
)

var (
	ErrInvalidPoll     = errors.New("invalid poll")
	ErrUnknownPoll     = errors.New("unknown poll")
	ErrAnonymous       = errors.New("voter id is required")
	ErrAlreadyVoted    = errors.New("already voted on this poll")
	ErrEmptySelection  = errors.New("no option selected")
	ErrTooManyOptions  = errors.New("poll accepts a single option")
	ErrDuplicateOption = errors.New("option selected more than once")
	ErrUnknownOption   = errors.New("unknown option")
	ErrWrongVariant    = errors.New("operation not supported by this poll variant")
	ErrEmptyResponse   = errors.New("response is empty")
	ErrBadStatement    = errors.New("statement must be 1, 2 or 3")
)

type Option struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

type Poll struct {
	ID            string   `json:"id"`
	GroupID       string   `json:"group_id"`
	Variant       Variant  `json:"variant"`
	Question      string   `json:"question"`
	Options       []Option `json:"options"`
	AllowMultiple bool     `json:"allow_multiple"`

	// Template is the fill-in-the-blank sentence, containing one BlankToken.
	Template string `json:"template,omitempty"`

	// LieIndex is the 1-based position of the false statement in a
	// two-truths poll. It is never sent to players.
	LieIndex int `json:"-"`
}

func newOptions(texts ...string) []Option {
	opts := make([]Option, len(texts))
	for i, t := range texts {
		opts[i] = Option{ID: uuid.NewString(), Text: strings.TrimSpace(t)}
	}

	return opts
}

// NewPoll builds a generic poll with the given options, in order.
func NewPoll(groupID, question string, options []string, allowMultiple bool) (Poll, error) {
	p := Poll{
		ID:            uuid.NewString(),
		GroupID:       groupID,
		Variant:       VariantPoll,
		Question:      strings.TrimSpace(question),
		Options:       newOptions(options...),
		AllowMultiple: allowMultiple,
	}

	return p, p.Validate()
}

func NewWouldYouRather(groupID, a, b string) (Poll, error) {
	p := Poll{
		ID:       uuid.NewString(),
		GroupID:  groupID,
		Variant:  VariantWouldYouRather,
		Question: "Would you rather...",
		Options:  newOptions(a, b),
	}

	return p, p.Validate()
}

func NewThisOrThat(groupID, this, that string) (Poll, error) {
	p := Poll{
		ID:       uuid.NewString(),
		GroupID:  groupID,
		Variant:  VariantThisOrThat,
		Question: "This or that?",
		Options:  newOptions(this, that),
	}

	return p, p.Validate()
}

// NewTwoTruths builds a two-truths-and-a-lie poll. lie is the 1-based
// position of the false statement and is fixed for the life of the poll.
func NewTwoTruths(groupID, author string, statements [3]string, lie int) (Poll, error) {
	p := Poll{
		ID:       uuid.NewString(),
		GroupID:  groupID,
		Variant:  VariantTwoTruths,
		Question: fmt.Sprintf("Which of %s's statements is the lie?", author),
		Options:  newOptions(statements[:]...),
		LieIndex: lie,
	}

	return p, p.Validate()
}

func NewFillBlank(groupID, template string) (Poll, error) {
	p := Poll{
		ID:       uuid.NewString(),
		GroupID:  groupID,
		Variant:  VariantFillBlank,
		Question: strings.TrimSpace(template),
		Template: strings.TrimSpace(template),
	}

	return p, p.Validate()
}

// Fill renders a fill-in-the-blank template with text in place of the blank.
func Fill(template, text string) string {
	return strings.Replace(template, BlankToken, strings.TrimSpace(text), 1)
}

// Validate checks that the poll has the shape its variant requires.
func (p Poll) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPoll)
	}

	ids := make(map[string]bool, len(p.Options))
	for _, o := range p.Options {
		if o.ID == "" || ids[o.ID] {
			return fmt.Errorf("%w: option ids must be unique and non-empty", ErrInvalidPoll)
		}
		if o.Votes < 0 {
			return fmt.Errorf("%w: negative vote count", ErrInvalidPoll)
		}
		ids[o.ID] = true
	}

	if p.AllowMultiple && p.Variant != VariantPoll {
		return fmt.Errorf("%w: %s polls are single choice", ErrInvalidPoll, p.Variant)
	}

	switch p.Variant {
	case VariantPoll:
		if len(p.Options) < 2 {
			return fmt.Errorf("%w: need at least two options", ErrInvalidPoll)
		}
	case VariantWouldYouRather, VariantThisOrThat:
		if len(p.Options) != 2 {
			return fmt.Errorf("%w: %s needs exactly two options", ErrInvalidPoll, p.Variant)
		}
	case VariantTwoTruths:
		if len(p.Options) != 3 {
			return fmt.Errorf("%w: two truths needs exactly three statements", ErrInvalidPoll)
		}
		if p.LieIndex < 1 || p.LieIndex > 3 {
			return fmt.Errorf("%w: %w", ErrInvalidPoll, ErrBadStatement)
		}
	case VariantFillBlank:
		if strings.Count(p.Template, BlankToken) != 1 {
			return fmt.Errorf("%w: template needs exactly one %q", ErrInvalidPoll, BlankToken)
		}
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidPoll, p.Variant)
	}

	return nil
}

func (p *Poll) option(id string) int {
	for i, o := range p.Options {
		if o.ID == id {
			return i
		}
	}

	return -1
}

func (p Poll) clone() Poll {
	c := p
	c.Options = append([]Option(nil), p.Options...)

	return c
}
