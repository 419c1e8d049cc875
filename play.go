/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Icebox game hubs
//
// Every game lives at /play/:kind/:group/:gameid and is backed by one
// session in the session controller. A hub per game relays player intents
// from websockets to the controller and fans session updates back out.
//
// Features:
// - WebSockets per game: /play/:kind/:group/:gameid/ws
// - Game kinds: memory (photo pairs), chain (word association), polls
// - Players identified by cookie, which doubles as the voter id
// - Intents from one game are handled in arrival order by the hub's run loop
// - Errors are sent only to the client whose intent failed
// - Poll state carries the answers the receiving player already gave
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current game, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/icebox/games/chain"
	"github.com/Seednode/icebox/games/session"
	"github.com/Seednode/icebox/games/vote"
)

// Messages coming from clients
type ClientMessage struct {
	Type      string   `json:"type"`                 // "start", "restart", "flip", "guess", "vote", "respond", "lie"
	Index     int      `json:"index,omitempty"`      // flip
	Word      string   `json:"word,omitempty"`       // guess
	PollID    string   `json:"poll_id,omitempty"`    // vote / respond / lie
	OptionIDs []string `json:"option_ids,omitempty"` // vote
	Text      string   `json:"text,omitempty"`       // respond
	Statement int      `json:"statement,omitempty"`  // lie
}

// Messages sent to clients
type StateMessage struct {
	Type string `json:"type"` // "state"
	session.Update
	Ballots []vote.Ballot `json:"ballots,omitempty"` // polls, this player's answers
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// ResultMessage answers the sender of an intent.
type ResultMessage struct {
	Type     string        `json:"type"`   // "result"
	Intent   string        `json:"intent"` // the client message type
	Accepted bool          `json:"accepted"`
	Outcome  chain.Outcome `json:"outcome,omitempty"`
	PollID   string        `json:"poll_id,omitempty"`
	Correct  *bool         `json:"correct,omitempty"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type intent struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	key  session.Key
	kind session.Kind
	ctl  *session.Controller

	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	intents  chan intent
	quit     chan struct{}

	mu          sync.Mutex
	closed      bool
	lastActive  time.Time
	sess        *session.Session
	unsubscribe func()
}

func newHub(key session.Key, kind session.Kind, ctl *session.Controller) *Hub {
	return &Hub{
		key:        key,
		kind:       kind,
		ctl:        ctl,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		intents:    make(chan intent),
		quit:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.closed {
				h.mu.Unlock()
				close(c.send)
				_ = c.conn.Close()

				return
			}
			h.lastActive = time.Now()
			h.clients[c] = true
			h.mu.Unlock()

			s, ok := h.ctl.Session(h.key)
			if !ok || s.Kind() != h.kind || s.Status() == session.StatusClosed {
				h.open(cfg, c)

				continue
			}

			h.ctl.Touch(h.key)
			h.follow(s)
			h.sendTo(c, h.state(c, s.Snapshot()))

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case in := <-h.intents:
			h.handle(cfg, in)

		case <-h.quit:
			return
		}
	}
}

// open starts the game from scratch with freshly fetched content.
func (h *Hub) open(cfg *Config, c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s, err := h.ctl.Open(ctx, h.key, h.kind)
	if s != nil {
		h.follow(s)
	}
	if err != nil {
		logf(cfg, "GAMES: Failed to open %s game %s: %v", h.kind, h.key, err)
		h.sendError(c, err)

		return
	}

	logf(cfg, "GAMES: Started %s game %s", h.kind, h.key)
}

// follow subscribes the hub to s, dropping any previous subscription, and
// pushes the current state of s to every client.
func (h *Hub) follow(s *session.Session) {
	h.mu.Lock()
	if h.sess == s || h.closed {
		h.mu.Unlock()

		return
	}
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.sess = s
	h.unsubscribe = s.Subscribe(h.broadcast)
	h.mu.Unlock()

	h.broadcast(s.Snapshot())
}

func (h *Hub) handle(cfg *Config, in intent) {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()

	c, msg := in.client, in.msg
	res := ResultMessage{Type: "result", Intent: msg.Type, PollID: msg.PollID}

	var err error
	switch msg.Type {
	case "start":
		h.open(cfg, c)

		return

	case "restart":
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var s *session.Session
		s, err = h.ctl.Restart(ctx, h.key)
		if errors.Is(err, session.ErrNoSession) {
			h.open(cfg, c)

			return
		}
		if s != nil {
			h.follow(s)
		}
		res.Accepted = err == nil

	case "flip":
		res.Accepted, err = h.ctl.Flip(h.key, msg.Index)

	case "guess":
		res.Outcome, err = h.ctl.Guess(h.key, msg.Word)
		res.Accepted = err == nil && res.Outcome != chain.OutcomeIgnored

	case "vote":
		_, err = h.ctl.Vote(h.key, msg.PollID, c.playerID, msg.OptionIDs)
		res.Accepted = err == nil

	case "respond":
		_, err = h.ctl.Respond(h.key, msg.PollID, c.playerID, msg.Text)
		res.Accepted = err == nil

	case "lie":
		var correct bool
		correct, err = h.ctl.GuessLie(h.key, msg.PollID, c.playerID, msg.Statement)
		res.Accepted = err == nil
		if res.Accepted {
			res.Correct = &correct
		}
	}

	if err != nil {
		logf(cfg, "GAMES: Rejected %s from %s in %s: %v", msg.Type, c.playerID, h.key, err)
		h.sendError(c, err)

		return
	}

	h.sendTo(c, res)
}

func (h *Hub) sendError(c *Client, err error) {
	h.sendTo(c, ErrorMessage{Type: "error", Message: err.Error()})
}

// sendTo queues msg for c. A client whose buffer is full misses the message.
func (h *Hub) sendTo(c *Client, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// state builds the state message for c.
func (h *Hub) state(c *Client, u session.Update) StateMessage {
	msg := StateMessage{Type: "state", Update: u}
	if u.Kind == session.KindPolls {
		msg.Ballots = h.ctl.Ballots(h.key, c.playerID)
	}

	return msg
}

// broadcast is the session subscriber. It may run on timer goroutines.
func (h *Hub) broadcast(u session.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- h.state(c, u):
		default:
		}
	}
}

func (h *Hub) idleSince() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lastActive
}

// closeAll disconnects all clients of this hub and stops its run loop.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.quit)

	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "icebox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a hub per game. Each hub follows the controller
// session with the same key.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[session.Key]*Hub
	ctl         *session.Controller
	idleTimeout time.Duration
}

var errKindMismatch = errors.New("game id is already in use by another kind of game")

func newGameManager(cfg *Config, ctl *session.Controller, idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[session.Key]*Hub),
		ctl:         ctl,
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop(cfg)
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, key session.Key, kind session.Kind) (*Hub, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[key]; ok {
		if hub.kind != kind {
			return nil, errKindMismatch
		}
		return hub, nil
	}

	hub := newHub(key, kind, gm.ctl)
	gm.hubs[key] = hub
	go hub.run(cfg)
	return hub, nil
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games of the group.
func (gm *GameManager) newGameID(groupID string) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		key := session.Key{GroupID: groupID, GameID: string(out)}

		gm.mu.Lock()
		_, exists := gm.hubs[key]
		gm.mu.Unlock()

		if _, live := gm.ctl.Session(key); !exists && !live {
			return key.GameID
		}
	}
}

// reap removes hubs that have been idle longer than idleTimeout, ends
// their sessions, and returns how many games were ended. Sessions of hubs
// that are still active are kept alive.
func (gm *GameManager) reap(now time.Time) int {
	cutoff := now.Add(-gm.idleTimeout)

	var stale []*Hub
	var active []session.Key

	gm.mu.Lock()
	for key, hub := range gm.hubs {
		if hub.idleSince().Before(cutoff) {
			delete(gm.hubs, key)
			stale = append(stale, hub)
			continue
		}
		active = append(active, key)
	}
	gm.mu.Unlock()

	for _, key := range active {
		gm.ctl.Touch(key)
	}

	for _, hub := range stale {
		hub.closeAll()
		gm.ctl.Close(hub.key)
	}

	return len(stale) + gm.ctl.Reap(gm.idleTimeout)
}

// reaperLoop periodically ends games that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop(cfg *Config) {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		if n := gm.reap(time.Now()); n > 0 {
			logf(cfg, "GAMES: Reaped %d idle games", n)
		}
	}
}

func gameKey(ps httprouter.Params) (session.Key, session.Kind, error) {
	kind, err := session.ParseKind(ps.ByName("kind"))
	if err != nil {
		return session.Key{}, "", err
	}

	key := session.Key{GroupID: ps.ByName("group"), GameID: ps.ByName("gameid")}
	if key.GroupID == "" {
		return session.Key{}, "", errors.New("missing group id")
	}

	return key, kind, nil
}

// WebSocket handler that picks the hub based on :group and :gameid
func serveWS(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key, kind, err := gameKey(ps)
		if err != nil || key.GameID == "" {
			http.Error(w, "unknown game", http.StatusNotFound)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub, err := gm.getHub(cfg, key, kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 16),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.quit:
			_ = conn.Close()
			return
		}

		logf(cfg, "GAMES: Player %s joined %s game %s from %s", playerID, kind, key, realIP(r))

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.quit:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start", "restart", "flip", "guess", "vote", "respond", "lie":
			select {
			case h.intents <- intent{client: c, msg: msg}:
			case <-h.quit:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("gameid") == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func servePlayPage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if _, _, err := gameKey(ps); err != nil {
			http.NotFound(w, r)
			return
		}

		data, err := assets.ReadFile("assets/play.html")
		if err != nil {
			errs <- err
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		if _, err := w.Write(data); err != nil {
			errs <- err
		}
	}
}

// redirectNewGame handles GET /play/:kind/:group by generating a new random
// game ID (with server-side collision detection) and redirecting to it.
func redirectNewGame(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key, kind, err := gameKey(ps)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		key.GameID = gm.newGameID(key.GroupID)
		logf(cfg, "GAMES: Created %s game %s", kind, key)

		path := fmt.Sprintf("%s/play/%s/%s/%s", cfg.prefix, kind, url.PathEscape(key.GroupID), key.GameID)
		http.Redirect(w, r, path, http.StatusTemporaryRedirect)
	}
}

// registerGames sets up routes so that:
//   - /play/:kind/:group                 → redirects to new random game (8-char ID)
//   - /play/:kind/:group/:gameid         → HTML client
//   - /play/:kind/:group/:gameid/ws      → WebSocket for that game
//   - /play/:kind/:group/:gameid/qr      → PNG QR code for that game URL
func registerGames(cfg *Config, mux *httprouter.Router, gm *GameManager, errs chan<- error) {
	path := cfg.prefix + "/play/:kind/:group"

	mux.GET(path, redirectNewGame(cfg, gm))
	mux.GET(path+"/:gameid", servePlayPage(cfg, errs))
	mux.GET(path+"/:gameid/ws", serveWS(cfg, gm))
	mux.GET(path+"/:gameid/qr", serveQR(cfg))
}
