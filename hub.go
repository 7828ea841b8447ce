// Priceguesser room protocol
//
// Each room is a hub goroutine that owns the authoritative GameState.
// The connection that first joins a room is the host player; only the
// host may change settings, start games, kick players, or close the
// room. Every accepted mutation runs to completion on the hub
// goroutine and is followed by a full-state "sync" broadcast to every
// connection, so clients are pure followers of the host copy: no
// diffs, no merges, no client-side rules.
//
// Features:
// - 5-character room codes, allocated server-side with collision retry
// - Host-only 500ms round scheduler with wall-clock deadlines
// - Four scoring modes: normal, dobon, highlow, celeb
// - Optional live (unsubmitted) guess sharing
// - Ephemeral emote relay, never stored in state
// - Kick, explicit room close, idle-room reaping
// - Players identified by cookie (playerID)

package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type inboundMessage struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	code    string
	cfg     *Config
	clock   clockwork.Clock
	catalog catalog
	onClose func()

	register chan *Client
	unreg    chan *Client
	inbound  chan inboundMessage
	quit     chan struct{} // closed by the manager to force shutdown
	done     chan struct{} // closed by the run loop once the room is gone

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time

	// Everything below is owned by the run goroutine.
	clients map[string]*Client // playerID -> live connection
	state   GameState
	hostID  string
}

func newHub(code string, cfg *Config, clock clockwork.Clock, cat catalog, onClose func()) *Hub {
	now := clock.Now()
	return &Hub{
		code:       code,
		cfg:        cfg,
		clock:      clock,
		catalog:    cat,
		onClose:    onClose,
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		inbound:    make(chan inboundMessage),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
		clients:    make(map[string]*Client),
		state:      newGameState(),
	}
}

func (h *Hub) run() {
	ticker := h.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unreg:
			if h.handleUnregister(c) {
				h.shutdown()
				return
			}

		case in := <-h.inbound:
			if h.handleMessage(in.client, in.msg) {
				h.shutdown()
				return
			}

		case <-ticker.Chan():
			h.tick(h.clock.Now())

		case <-h.quit:
			h.shutdown()
			return
		}
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = h.clock.Now()
	h.mu.Unlock()
}

func (h *Hub) idle(cutoff time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.lastActive.Before(cutoff)
}

// trySend enqueues without blocking; a client too slow to drain its
// send buffer is dropped. A connection dropped mid-broadcast can still
// have messages in flight on the inbound channel, so anything no
// longer registered is ignored rather than sent to a closed channel.
func (h *Hub) trySend(c *Client, msg any) {
	if h.clients[c.playerID] != c {
		return
	}

	select {
	case c.send <- msg:
	default:
		if h.clients[c.playerID] == c {
			delete(h.clients, c.playerID)
		}
		close(c.send)
		c.closeConn()
	}
}

// broadcastSync snapshots the authoritative state once and fans the
// snapshot out to every connection. Handlers call this after every
// accepted mutation, before the hub processes the next event, which
// is what gives clients a totally ordered view of complete states.
func (h *Hub) broadcastSync() {
	snapshot := h.state.clone()

	for id, c := range h.clients {
		h.trySend(c, SyncMessage{
			Type:  "sync",
			You:   id,
			State: snapshot,
		})
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.touch()

	// A newer connection for the same player replaces the old one.
	if old, ok := h.clients[c.playerID]; ok {
		close(old.send)
		old.closeConn()
	}
	h.clients[c.playerID] = c

	h.trySend(c, SyncMessage{
		Type:  "sync",
		You:   c.playerID,
		State: h.state.clone(),
	})
}

// handleUnregister removes a dead connection and, unless it was
// superseded by a newer one, the player behind it. Reports true when
// the host is gone, which closes the whole room.
func (h *Hub) handleUnregister(c *Client) (hostGone bool) {
	h.touch()

	if cur, ok := h.clients[c.playerID]; ok {
		if cur != c {
			return false // replaced, the player is still here
		}
		delete(h.clients, c.playerID)
		close(c.send)
	}

	if c.playerID == h.hostID && h.hostID != "" {
		return true
	}

	if _, exists := h.state.Players[c.playerID]; exists {
		delete(h.state.Players, c.playerID)
		logf(h.cfg, "GAMES: Player left %s", h.code)
		h.broadcastSync()
	}

	return false
}

// handleMessage dispatches one client message. Reports true when the
// room should close (host leaving).
func (h *Hub) handleMessage(c *Client, msg ClientMessage) (closeRoom bool) {
	h.touch()

	var err error

	switch msg.Type {
	case "join":
		err = h.handleJoin(c, msg.Name)
	case "guess":
		err = h.handleGuess(c, msg.Guess)
	case "live_guess":
		err = h.handleLiveGuess(c, msg.Guess)
	case "emote":
		h.handleEmote(c, msg.Emoji)
	case "update_setting":
		err = h.handleUpdateSetting(c, msg.Key, msg.Value)
	case "start_game":
		err = h.handleStartGame(c, msg.UseFallback)
	case "kick":
		err = h.handleKick(c, msg.TargetID)
	case "leave":
		return h.handleLeave(c)
	case "return_to_lobby":
		err = h.handleReturnToLobby(c)
	default:
		// ignore unknown types
	}

	if err != nil {
		h.trySend(c, errorMessage(err))
	}

	return false
}

func (h *Hub) handleJoin(c *Client, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errNameRequired
	}
	if !validPlayerName(trimmed) {
		return errNameInvalid
	}

	if _, exists := h.state.Players[c.playerID]; exists {
		// Already joined (e.g. a reconnecting tab); just resync.
		h.trySend(c, SyncMessage{Type: "sync", You: c.playerID, State: h.state.clone()})
		return nil
	}

	isHost := len(h.state.Players) == 0
	if isHost {
		h.hostID = c.playerID
	}

	h.state.Players[c.playerID] = &PlayerRecord{
		Name:   trimmed,
		IsHost: isHost,
	}

	logf(h.cfg, "GAMES: Player %q joined %s", trimmed, h.code)
	h.broadcastSync()

	return nil
}

func (h *Hub) handleGuess(c *Client, guess *Guess) error {
	p, ok := h.state.Players[c.playerID]
	if !ok {
		return errNotJoined
	}
	if h.state.Status != statusPlaying {
		return errNotPlaying
	}
	if p.HasGuessed || !guess.validFor(h.state.Settings.GameMode) {
		return errBadGuess
	}

	p.CurrentGuess = guess
	p.HasGuessed = true
	p.LiveGuess = nil

	h.broadcastSync()

	return nil
}

func (h *Hub) handleLiveGuess(c *Client, guess *Guess) error {
	p, ok := h.state.Players[c.playerID]
	if !ok {
		return errNotJoined
	}
	if h.state.Status != statusPlaying {
		return errNotPlaying
	}
	if p.HasGuessed || !guess.validFor(h.state.Settings.GameMode) {
		return errBadGuess
	}

	p.LiveGuess = guess

	h.broadcastSync()

	return nil
}

// handleEmote relays to everyone except the sender. Never persisted.
func (h *Hub) handleEmote(c *Client, emoji string) {
	p, ok := h.state.Players[c.playerID]
	if !ok || emoji == "" || len(emoji) > 32 {
		return
	}

	relay := EmoteMessage{
		Type:     "emote",
		Emoji:    emoji,
		From:     c.playerID,
		FromName: p.Name,
	}

	for id, other := range h.clients {
		if id == c.playerID {
			continue
		}
		h.trySend(other, relay)
	}
}

func (h *Hub) handleUpdateSetting(c *Client, key string, raw []byte) error {
	if c.playerID != h.hostID {
		return errNotHost
	}
	if h.state.Status != statusLobby {
		return errNotInLobby
	}

	if err := h.state.Settings.apply(key, raw); err != nil {
		return err
	}

	h.broadcastSync()

	return nil
}

func (h *Hub) handleStartGame(c *Client, useFallback bool) error {
	if c.playerID != h.hostID {
		return errNotHost
	}
	if h.state.Status != statusLobby {
		return errNotInLobby
	}

	settings := h.state.Settings

	var products []Product
	if useFallback {
		products = fallbackProducts(settings.Rounds)
	} else {
		query := catalogQuery{
			GenreID: settings.GenreID,
			Keyword: settings.Keyword,
			Count:   settings.Rounds,
		}
		if settings.GameMode == modeCeleb {
			query.PriceFloor = celebPriceFloor
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.catalogTimeout)
		defer cancel()

		var err error
		products, err = h.catalog.fetch(ctx, query)
		if err != nil {
			logf(h.cfg, "GAMES: Catalog fetch for %s failed: %v", h.code, err)
			return err
		}
	}

	if settings.GameMode == modeHighLow {
		assignBasePrices(products)
	}

	h.state.Products = products
	h.state.CurrentRound = 0
	h.state.resetRound()
	h.state.RoundEndTime = roundDeadline(h.clock.Now().UnixMilli(), settings.TimeLimit)
	h.state.Status = statusPlaying

	logf(h.cfg, "GAMES: Started %s game of %d rounds in %s", settings.GameMode, settings.Rounds, h.code)
	h.broadcastSync()

	return nil
}

func (h *Hub) handleKick(c *Client, targetID string) error {
	if c.playerID != h.hostID {
		return errNotHost
	}
	if targetID == h.hostID {
		return errKickTarget
	}
	if _, exists := h.state.Players[targetID]; !exists {
		return errKickTarget
	}

	// Best-effort notice before the connection goes away.
	if target, ok := h.clients[targetID]; ok {
		h.trySend(target, SimpleMessage{
			Type:    "kicked",
			Message: "You have been removed by the host.",
		})
		if h.clients[targetID] == target {
			delete(h.clients, targetID)
			// Close only the channel; the write pump drains the notice
			// and then closes the connection.
			close(target.send)
		}
	}

	delete(h.state.Players, targetID)

	logf(h.cfg, "GAMES: Player kicked from %s", h.code)
	h.broadcastSync()

	return nil
}

// handleLeave: a leaving host closes the room for everyone; a leaving
// guest is simply removed.
func (h *Hub) handleLeave(c *Client) (closeRoom bool) {
	if c.playerID == h.hostID && h.hostID != "" {
		return true
	}

	if cur, ok := h.clients[c.playerID]; ok && cur == c {
		delete(h.clients, c.playerID)
		close(c.send)
		c.closeConn()
	}

	if _, exists := h.state.Players[c.playerID]; exists {
		delete(h.state.Players, c.playerID)
		h.broadcastSync()
	}

	return false
}

func (h *Hub) handleReturnToLobby(c *Client) error {
	if c.playerID != h.hostID {
		return errNotHost
	}
	if h.state.Status != statusResult {
		return errNotInLobby
	}

	h.state.resetForLobby()
	h.broadcastSync()

	return nil
}

// shutdown notifies everyone the room is closing, tears down every
// connection, and detaches the room from the manager. The connections
// themselves are closed by each write pump once it has drained the
// room_closed notice, so the frame reaches the client first.
func (h *Hub) shutdown() {
	for id, c := range h.clients {
		select {
		case c.send <- SimpleMessage{
			Type:    "room_closed",
			Message: "The host has closed the room.",
		}:
		default:
		}
		close(c.send)
		delete(h.clients, id)
	}

	close(h.done)

	logf(h.cfg, "GAMES: Closed room %s", h.code)

	if h.onClose != nil {
		h.onClose()
	}
}
