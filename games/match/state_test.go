package match

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func board(faces ...string) State {
	s := State{
		Matched:          map[int]bool{},
		SecondsRemaining: RoundSeconds,
		Phase:            PhasePlaying,
	}
	for i, f := range faces {
		s.Cards = append(s.Cards, Card{Index: i, MediaKey: f})
	}

	return s
}

func TestDealBuildsPairs(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}

	var s State
	require.NoError(t, s.Deal(keys, rand.New(rand.NewPCG(1, 2))))

	require.Len(t, s.Cards, 18)
	counts := map[string]int{}
	for i, c := range s.Cards {
		assert.Equal(t, i, c.Index)
		counts[c.MediaKey]++
	}
	for _, k := range keys {
		assert.Equal(t, 2, counts[k], "key %q", k)
	}

	assert.Equal(t, PhasePlaying, s.Phase)
	assert.Zero(t, s.Score)
	assert.Empty(t, s.Flipped)
	assert.Empty(t, s.Matched)
	assert.Equal(t, RoundSeconds, s.SecondsRemaining)
}

func TestDealRejectsBadKeys(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	var s State
	assert.ErrorIs(t, s.Deal(nil, r), ErrNoPairs)
	assert.ErrorIs(t, s.Deal([]string{"a", "b", "a"}, r), ErrDuplicateKey)
}

func TestDealShufflesEveryPosition(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	keys := []string{"x", "y", "z"}

	first := map[string]int{}
	last := map[string]int{}
	const rounds = 3000
	for range rounds {
		var s State
		require.NoError(t, s.Deal(keys, r))
		first[s.Cards[0].MediaKey]++
		last[s.Cards[len(s.Cards)-1].MediaKey]++
	}

	for _, k := range keys {
		assert.InDelta(t, rounds/3, first[k], 150, "first position, key %q", k)
		assert.InDelta(t, rounds/3, last[k], 150, "last position, key %q", k)
	}
}

func TestMismatchThenMatch(t *testing.T) {
	s := board("X", "X", "Y", "Y", "Z", "Z")

	require.True(t, s.Flip(0))
	require.True(t, s.Flip(2))
	assert.Equal(t, PhaseEvaluating, s.Phase)

	assert.False(t, s.Resolve())
	assert.Empty(t, s.Flipped)
	assert.Zero(t, s.Score)
	assert.Equal(t, PhasePlaying, s.Phase)

	require.True(t, s.Flip(0))
	require.True(t, s.Flip(1))
	assert.True(t, s.Resolve())
	assert.Equal(t, 10, s.Score)
	assert.Equal(t, map[int]bool{0: true, 1: true}, s.Matched)
	assert.Equal(t, PhasePlaying, s.Phase)
}

func TestFlipRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *State)
		flip  int
	}{
		{name: "negative index", flip: -1},
		{name: "index past end", flip: 6},
		{
			name:  "already matched",
			setup: func(s *State) { s.Matched[0], s.Matched[1] = true, true },
			flip:  1,
		},
		{
			name:  "already flipped",
			setup: func(s *State) { s.Flipped = []int{3} },
			flip:  3,
		},
		{
			name:  "evaluating",
			setup: func(s *State) { s.Flip(0); s.Flip(2) },
			flip:  4,
		},
		{
			name:  "timed out",
			setup: func(s *State) { s.Phase = PhaseTimedOut },
			flip:  4,
		},
		{
			name:  "loading",
			setup: func(s *State) { s.Phase = PhaseLoading },
			flip:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := board("X", "X", "Y", "Y", "Z", "Z")
			if tt.setup != nil {
				tt.setup(&s)
			}
			before := s.clone()

			assert.False(t, s.Flip(tt.flip))
			assert.Equal(t, before, s)
		})
	}
}

func TestCompletion(t *testing.T) {
	s := board("X", "Y", "X", "Y")

	s.Flip(0)
	s.Flip(2)
	s.Resolve()
	s.Flip(1)
	s.Flip(3)
	s.Resolve()

	assert.True(t, s.Done())
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, 20, s.Score)
	assert.False(t, s.Tick(), "countdown stops once the board is cleared")
}

func TestTickExpires(t *testing.T) {
	s := board("X", "X")
	s.SecondsRemaining = 2
	s.Flip(0)

	assert.False(t, s.Tick())
	assert.Equal(t, 1, s.SecondsRemaining)
	assert.True(t, s.Tick())
	assert.Equal(t, PhaseTimedOut, s.Phase)
	assert.Empty(t, s.Flipped)
	assert.False(t, s.Tick())
}

// Random play never breaks the pairing or scoring invariants.
func TestRandomPlayInvariants(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))

	for range 50 {
		var s State
		require.NoError(t, s.Deal([]string{"a", "b", "c", "d", "e", "f"}, r))

		score := 0
		for step := 0; step < 500 && !s.Done(); step++ {
			s.Flip(r.IntN(len(s.Cards)+2) - 1)
			if s.Phase == PhaseEvaluating {
				matched := s.Resolve()
				if matched {
					score += Reward
				}
			}

			require.Zero(t, len(s.Matched)%2)
			require.LessOrEqual(t, len(s.Matched), len(s.Cards))
			require.LessOrEqual(t, len(s.Flipped), 2)
			require.Equal(t, score, s.Score)
			for _, i := range s.Flipped {
				require.False(t, s.Matched[i])
			}
		}
	}
}

func TestSnapshotHidesFaceDownCards(t *testing.T) {
	s := board("X", "X", "Y", "Y")
	s.Flip(2)

	snap := s.view(4)
	assert.Equal(t, uint64(4), snap.Version)
	assert.Equal(t, 2, snap.Pairs)
	assert.Empty(t, snap.Cards[0].MediaKey)
	assert.False(t, snap.Cards[0].FaceUp)
	assert.Equal(t, "Y", snap.Cards[2].MediaKey)
	assert.True(t, snap.Cards[2].FaceUp)
}
