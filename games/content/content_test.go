package content

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/icebox/games/vote"
)

func TestStaticMediaPairs(t *testing.T) {
	s := NewStatic(9)

	keys, err := s.MediaPairs(context.Background(), "g")
	require.NoError(t, err)
	require.Len(t, keys, 9)

	seen := map[string]bool{}
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}

	_, err = NewStatic(100).MediaPairs(context.Background(), "g")
	assert.Error(t, err)
}

func TestStaticPollsAreStablePerGroup(t *testing.T) {
	s := NewStatic(9)
	ctx := context.Background()

	first, err := s.Polls(ctx, "g1")
	require.NoError(t, err)
	again, err := s.Polls(ctx, "g1")
	require.NoError(t, err)
	other, err := s.Polls(ctx, "g2")
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first[0].ID, other[0].ID)

	variants := map[vote.Variant]bool{}
	for _, p := range first {
		require.NoError(t, p.Validate())
		assert.Equal(t, "g1", p.GroupID)
		variants[p.Variant] = true
	}
	assert.Len(t, variants, 5)
}

func TestStaticWordPoolIsACopy(t *testing.T) {
	s := NewStatic(9)

	words, err := s.WordPool(context.Background(), "g")
	require.NoError(t, err)
	words[0] = "changed"

	again, _ := s.WordPool(context.Background(), "g")
	assert.NotEqual(t, "changed", again[0])
}

type stubSource struct {
	keys  []string
	words []string
	polls []vote.Poll
	err   error
}

func (s stubSource) MediaPairs(context.Context, string) ([]string, error) { return s.keys, s.err }
func (s stubSource) WordPool(context.Context, string) ([]string, error)   { return s.words, s.err }
func (s stubSource) Polls(context.Context, string) ([]vote.Poll, error)   { return s.polls, s.err }

func TestFallback(t *testing.T) {
	ctx := context.Background()
	secondary := stubSource{keys: []string{"b"}, words: []string{"x", "y"}, polls: []vote.Poll{{ID: "s"}}}

	tests := []struct {
		name    string
		primary stubSource
		keys    []string
	}{
		{name: "primary wins", primary: stubSource{keys: []string{"a"}}, keys: []string{"a"}},
		{name: "empty primary", primary: stubSource{}, keys: []string{"b"}},
		{name: "failing primary", primary: stubSource{keys: []string{"a"}, err: errors.New("down")}, keys: []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Fallback{Primary: tt.primary, Secondary: secondary}

			keys, err := f.MediaPairs(ctx, "g")
			require.NoError(t, err)
			assert.Equal(t, tt.keys, keys)
		})
	}

	f := Fallback{Primary: stubSource{}, Secondary: secondary}
	words, err := f.WordPool(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, words)

	polls, err := f.Polls(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, "s", polls[0].ID)
}
