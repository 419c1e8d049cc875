package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/icebox/games/content"
	"github.com/Seednode/icebox/games/session"
	"github.com/Seednode/icebox/games/vote"
	"github.com/Seednode/icebox/storage"
)

type testEnv struct {
	cfg   *Config
	ctl   *session.Controller
	gm    *GameManager
	store *storage.Store
	srv   *httptest.Server
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()

	cfg := validConfig()
	ctl := session.New(content.NewStatic(4))

	env := &testEnv{cfg: cfg, ctl: ctl, gm: newGameManager(cfg, ctl, 0)}

	if withStore {
		store, err := storage.Open(context.Background(), storage.DriverSQLite, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		env.store = store
	}

	errs := make(chan error, 16)
	env.srv = httptest.NewServer(newRouter(cfg, env.gm, env.store, errs))
	t.Cleanup(env.srv.Close)
	t.Cleanup(func() {
		select {
		case err := <-errs:
			t.Errorf("handler reported error: %v", err)
		default:
		}
	})

	return env
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(e.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func (e *testEnv) dial(t *testing.T, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+path, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}

	return conn, resp, err
}

// dialAs connects with the player cookie set to playerID.
func (e *testEnv) dialAs(t *testing.T, path, playerID string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Cookie", playerCookieName+"="+playerID)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+path, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(data)
}

// readUntil reads messages until one of the given type satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, match func(map[string]any) bool) map[string]any {
	t.Helper()

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))

		if msg["type"] == typ && (match == nil || match(msg)) {
			return msg
		}
	}
}

func TestStaticRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ok\n", readBody(t, resp))

	resp = env.get(t, "/version")
	assert.Equal(t, "icebox v"+releaseVersion+"\n", readBody(t, resp))
	assert.Equal(t, "default-src 'self'", resp.Header.Get("Content-Security-Policy"))

	resp = env.get(t, "/robots.txt")
	assert.Contains(t, readBody(t, resp), "Disallow: /play/")

	resp = env.get(t, "/favicon.svg")
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))

	resp = env.get(t, "/assets/play.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/javascript; charset=utf-8", resp.Header.Get("Content-Type"))

	resp = env.get(t, "/assets/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHomePageEscapesGroup(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.get(t, "/?group=a%20%3Cb%3E")
	body := readBody(t, resp)

	assert.Contains(t, body, `value="a &lt;b&gt;"`)
	assert.Contains(t, body, `/play/memory/a%20%3Cb%3E`)
	assert.NotContains(t, body, "<b>")

	resp = env.get(t, "/")
	assert.Contains(t, readBody(t, resp), "/play/chain/lobby")
}

func TestNewGameRedirect(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.get(t, "/play/memory/lobby")
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Regexp(t, `^/play/memory/lobby/[A-Za-z0-9]{8}$`, resp.Header.Get("Location"))

	resp = env.get(t, "/play/darts/lobby")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlayPageAndQR(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.get(t, "/play/polls/lobby/abcd1234")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "play.js")
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"))

	resp = env.get(t, "/play/polls/lobby/abcd1234/qr")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestChainOverWebsocket(t *testing.T) {
	env := newTestEnv(t, false)

	conn, _, err := env.dial(t, "/play/chain/lobby/g1/ws")
	require.NoError(t, err)

	readUntil(t, conn, "state", func(m map[string]any) bool {
		return m["status"] == "ready"
	})

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "guess", Word: "Morning"}))
	res := readUntil(t, conn, "result", nil)
	assert.Equal(t, "guess", res["intent"])
	assert.Equal(t, true, res["accepted"])
	assert.Equal(t, "accepted", res["outcome"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "flip", Index: 0}))
	errMsg := readUntil(t, conn, "error", nil)
	assert.NotEmpty(t, errMsg["message"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "guess", Word: "zebra"}))
	res = readUntil(t, conn, "result", nil)
	assert.Equal(t, "lost", res["outcome"])

	s, ok := env.ctl.Session(session.Key{GroupID: "lobby", GameID: "g1"})
	require.True(t, ok)
	snap := s.Snapshot()
	require.NotNil(t, snap.Chain)
	assert.Equal(t, 1, snap.Chain.Score)
	require.NotNil(t, snap.Chain.Miss)
	assert.Equal(t, "zebra", snap.Chain.Miss.Guess)
}

func TestWebsocketRejectsOtherKindForSameGame(t *testing.T) {
	env := newTestEnv(t, false)

	conn, _, err := env.dial(t, "/play/chain/lobby/g1/ws")
	require.NoError(t, err)
	readUntil(t, conn, "state", nil)

	_, resp, err := env.dial(t, "/play/memory/lobby/g1/ws")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, resp, err = env.dial(t, "/play/darts/lobby/g1/ws")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPollsOverWebsocketShareState(t *testing.T) {
	env := newTestEnv(t, false)

	alice, _, err := env.dial(t, "/play/polls/lobby/p1/ws")
	require.NoError(t, err)
	readUntil(t, alice, "state", func(m map[string]any) bool { return m["status"] == "ready" })

	bob, _, err := env.dial(t, "/play/polls/lobby/p1/ws")
	require.NoError(t, err)
	readUntil(t, bob, "state", func(m map[string]any) bool { return m["status"] == "ready" })

	s, ok := env.ctl.Session(session.Key{GroupID: "lobby", GameID: "p1"})
	require.True(t, ok)
	poll := s.Snapshot().Polls[0].Poll

	require.NoError(t, alice.WriteJSON(ClientMessage{
		Type:      "vote",
		PollID:    poll.ID,
		OptionIDs: []string{poll.Options[0].ID},
	}))
	res := readUntil(t, alice, "result", nil)
	assert.Equal(t, true, res["accepted"])

	// bob sees alice's ballot in the shared tally
	readUntil(t, bob, "state", func(m map[string]any) bool {
		polls, _ := m["polls"].([]any)
		if len(polls) == 0 {
			return false
		}
		first, _ := polls[0].(map[string]any)
		results, _ := first["results"].(map[string]any)
		return results["total"] == float64(1)
	})
}

func TestPollStateCarriesOwnBallots(t *testing.T) {
	env := newTestEnv(t, false)

	isReady := func(m map[string]any) bool { return m["status"] == "ready" }
	ballotsOf := func(m map[string]any) []any {
		ballots, _ := m["ballots"].([]any)
		return ballots
	}

	alice := env.dialAs(t, "/play/polls/lobby/p2/ws", "alice")
	readUntil(t, alice, "state", isReady)
	bob := env.dialAs(t, "/play/polls/lobby/p2/ws", "bob")
	readUntil(t, bob, "state", isReady)

	s, ok := env.ctl.Session(session.Key{GroupID: "lobby", GameID: "p2"})
	require.True(t, ok)
	poll := s.Snapshot().Polls[0].Poll

	require.NoError(t, alice.WriteJSON(ClientMessage{
		Type:      "vote",
		PollID:    poll.ID,
		OptionIDs: []string{poll.Options[0].ID},
	}))

	state := readUntil(t, alice, "state", func(m map[string]any) bool { return len(ballotsOf(m)) == 1 })
	ballot, _ := ballotsOf(state)[0].(map[string]any)
	assert.Equal(t, poll.ID, ballot["poll_id"])
	assert.Equal(t, "alice", ballot["voter_id"])

	state = readUntil(t, bob, "state", func(m map[string]any) bool {
		polls, _ := m["polls"].([]any)
		if len(polls) == 0 {
			return false
		}
		first, _ := polls[0].(map[string]any)
		results, _ := first["results"].(map[string]any)
		return results["total"] == float64(1)
	})
	assert.Empty(t, ballotsOf(state))

	require.NoError(t, alice.Close())

	// a reloaded page learns what was already answered
	again := env.dialAs(t, "/play/polls/lobby/p2/ws", "alice")
	state = readUntil(t, again, "state", isReady)
	require.Len(t, ballotsOf(state), 1)

	polls, _ := state["polls"].([]any)
	first, _ := polls[0].(map[string]any)
	assert.Len(t, first["rounded_percent"], len(poll.Options))
}

func TestResultsAPI(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	resp := env.get(t, "/api/groups/lobby/polls/nope/results")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	key := session.Key{GroupID: "lobby", GameID: "live"}
	s, err := env.ctl.Open(ctx, key, session.KindPolls)
	require.NoError(t, err)
	live := s.Snapshot().Polls[0].Poll
	_, err = env.ctl.Vote(key, live.ID, "alice", []string{live.Options[1].ID})
	require.NoError(t, err)

	resp = env.get(t, "/api/groups/lobby/polls/"+live.ID+"/results")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got resultsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "live", got.Source)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, []int{0, 100, 0, 0}, got.Rounded)

	stored, err := vote.NewThisOrThat("lobby", "Tea", "Coffee")
	require.NoError(t, err)
	require.NoError(t, env.store.SavePoll(ctx, stored))
	require.NoError(t, env.store.VoteCast(ctx, session.VoteCast{
		GroupID:   "lobby",
		PollID:    stored.ID,
		VoterID:   "bob",
		OptionIDs: []string{stored.Options[0].ID},
	}))

	resp = env.get(t, "/api/groups/lobby/polls/"+stored.ID+"/results")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got = resultsResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "stored", got.Source)
	assert.Equal(t, []int{100, 0}, got.Rounded)
}

func TestLeaderboardAPI(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	resp := env.get(t, "/api/groups/lobby/leaderboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", readBody(t, resp))

	require.NoError(t, env.store.MatchCompleted(ctx, session.MatchResult{GroupID: "lobby", GameID: "a", Score: 4}))
	require.NoError(t, env.store.MatchCompleted(ctx, session.MatchResult{GroupID: "lobby", GameID: "b", Score: 9}))

	resp = env.get(t, "/api/groups/lobby/leaderboard")
	var top []session.MatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&top))
	require.Len(t, top, 2)
	assert.Equal(t, 9, top[0].Score)
}

func TestLeaderboardNeedsStore(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.get(t, "/api/groups/lobby/leaderboard")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGameManagerReap(t *testing.T) {
	env := newTestEnv(t, false)
	env.gm.idleTimeout = time.Minute

	key := session.Key{GroupID: "lobby", GameID: "old"}
	_, err := env.gm.getHub(env.cfg, key, session.KindChain)
	require.NoError(t, err)

	_, err = env.gm.getHub(env.cfg, key, session.KindMemory)
	assert.ErrorIs(t, err, errKindMismatch)

	assert.Zero(t, env.gm.reap(time.Now()))
	assert.Equal(t, 1, env.gm.reap(time.Now().Add(2*time.Minute)))

	_, err = env.gm.getHub(env.cfg, key, session.KindMemory)
	assert.NoError(t, err)
}

func TestGameManagerReapKeepsActiveSessions(t *testing.T) {
	clk := clockwork.NewFakeClock()
	ctl := session.New(content.NewStatic(4), session.WithClock(clk))
	gm := newGameManager(validConfig(), ctl, 0)
	gm.idleTimeout = time.Minute

	key := session.Key{GroupID: "lobby", GameID: "busy"}
	_, err := gm.getHub(validConfig(), key, session.KindChain)
	require.NoError(t, err)
	_, err = ctl.Open(context.Background(), key, session.KindChain)
	require.NoError(t, err)

	orphan := session.Key{GroupID: "lobby", GameID: "orphan"}
	_, err = ctl.Open(context.Background(), orphan, session.KindChain)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	// the hub was just active, so its session stays; the orphan has no hub
	assert.Equal(t, 1, gm.reap(time.Now()))
	_, ok := ctl.Session(key)
	assert.True(t, ok)
	_, ok = ctl.Session(orphan)
	assert.False(t, ok)
}

func TestNewGameIDAvoidsLiveGames(t *testing.T) {
	env := newTestEnv(t, false)

	seen := make(map[string]bool)
	for range 20 {
		id := env.gm.newGameID("lobby")
		assert.Regexp(t, `^[A-Za-z0-9]{8}$`, id)
		assert.False(t, seen[id])
		seen[id] = true

		_, err := env.gm.getHub(env.cfg, session.Key{GroupID: "lobby", GameID: id}, session.KindPolls)
		require.NoError(t, err)
	}
}

func TestSeedGroup(t *testing.T) {
	ctx := context.Background()

	store, err := storage.Open(ctx, storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, seedGroup(ctx, store, "lobby"))

	words, err := store.WordPool(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, content.Words(), words)

	polls, err := store.Polls(ctx, "lobby")
	require.NoError(t, err)
	assert.NotEmpty(t, polls)

	require.NoError(t, seedGroup(ctx, store, "lobby"))
	again, err := store.Polls(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, polls, again, "seeding twice keeps the first polls")

	store.Pairs = 3
	keys, err := store.MediaPairs(ctx, "lobby")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	other, err := store.WordPool(ctx, "elsewhere")
	require.NoError(t, err)
	assert.Empty(t, other)
}
