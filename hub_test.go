package main

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		port:           8080,
		catalogTimeout: 2 * time.Second,
	}
}

type stubCatalog struct {
	products []Product
	err      error
	gotQuery catalogQuery
}

func (s *stubCatalog) fetch(_ context.Context, q catalogQuery) ([]Product, error) {
	s.gotQuery = q
	if s.err != nil {
		return nil, s.err
	}
	return s.products, nil
}

// Handlers run to completion on the hub goroutine, so tests exercise
// them directly without spinning up run().
func newTestHub() *Hub {
	return newHub("TEST1", testConfig(), clockwork.NewFakeClock(), &stubCatalog{err: errCatalogFetch}, nil)
}

func newTestClient(id string) *Client {
	return &Client{
		send:     make(chan any, 64),
		playerID: id,
	}
}

func receiveAll(c *Client) []any {
	var out []any
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func lastSyncState(t *testing.T, c *Client) GameState {
	t.Helper()

	var last *SyncMessage
	for _, m := range receiveAll(c) {
		if sm, ok := m.(SyncMessage); ok {
			last = &sm
		}
	}
	require.NotNil(t, last, "expected at least one sync message")
	return last.State
}

func expectErrorCode(t *testing.T, c *Client, code string) {
	t.Helper()

	for _, m := range receiveAll(c) {
		if em, ok := m.(ErrorMessage); ok {
			assert.Equal(t, code, em.Code)
			return
		}
	}
	t.Fatalf("no error message with code %q", code)
}

func joinPlayer(t *testing.T, h *Hub, c *Client, name string) {
	t.Helper()

	h.handleRegister(c)
	require.False(t, h.handleMessage(c, ClientMessage{Type: "join", Name: name}))
	require.Contains(t, h.state.Players, c.playerID)
}

// startFallbackGame joins nothing; callers join players first.
func startFallbackGame(t *testing.T, h *Hub, host *Client) {
	t.Helper()

	require.False(t, h.handleMessage(host, ClientMessage{Type: "start_game", UseFallback: true}))
	require.Equal(t, statusPlaying, h.state.Status)
}

func TestJoinCreatesHostThenGuests(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")

	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")

	assert.Equal(t, "h", h.hostID)
	assert.True(t, h.state.Players["h"].IsHost)
	assert.False(t, h.state.Players["g"].IsHost)

	// Both ends converge on the same roster via sync broadcasts.
	hostView := lastSyncState(t, host)
	guestView := lastSyncState(t, guest)
	assert.Equal(t, hostView.Players, guestView.Players)
	assert.Len(t, guestView.Players, 2)
}

func TestJoinValidation(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	c := newTestClient("c")
	h.handleRegister(c)

	h.handleMessage(c, ClientMessage{Type: "join", Name: "   "})
	expectErrorCode(t, c, "name_required")
	assert.Empty(t, h.state.Players)

	h.handleMessage(c, ClientMessage{Type: "join", Name: "elevenchars"})
	expectErrorCode(t, c, "name_invalid")
	assert.Empty(t, h.state.Players)
}

func TestRejoinDoesNotResetRecord(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	c := newTestClient("c")
	joinPlayer(t, h, c, "alice")

	h.state.Players["c"].Score = 500

	h.handleMessage(c, ClientMessage{Type: "join", Name: "mallory"})

	assert.Equal(t, "alice", h.state.Players["c"].Name)
	assert.Equal(t, 500, h.state.Players["c"].Score)
}

func TestSettingsHostOnlyLobbyOnly(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")

	h.handleMessage(guest, ClientMessage{Type: "update_setting", Key: "rounds", Value: []byte(`5`)})
	expectErrorCode(t, guest, "not_host")
	assert.Equal(t, 3, h.state.Settings.Rounds)

	h.handleMessage(host, ClientMessage{Type: "update_setting", Key: "rounds", Value: []byte(`5`)})
	assert.Equal(t, 5, h.state.Settings.Rounds)

	h.handleMessage(host, ClientMessage{Type: "update_setting", Key: "rounds", Value: []byte(`12`)})
	expectErrorCode(t, host, "bad_setting")
	assert.Equal(t, 5, h.state.Settings.Rounds)

	startFallbackGame(t, h, host)

	h.handleMessage(host, ClientMessage{Type: "update_setting", Key: "rounds", Value: []byte(`3`)})
	expectErrorCode(t, host, "not_in_lobby")
	assert.Equal(t, 5, h.state.Settings.Rounds)
}

func TestStartGameFallback(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	joinPlayer(t, h, host, "alice")

	startFallbackGame(t, h, host)

	nowMs := h.clock.Now().UnixMilli()
	assert.Len(t, h.state.Products, h.state.Settings.Rounds)
	assert.Zero(t, h.state.CurrentRound)
	assert.Equal(t, nowMs+30*1000+startBufferMs, h.state.RoundEndTime)

	state := lastSyncState(t, host)
	assert.Equal(t, statusPlaying, state.Status)
	assert.Len(t, state.Products, h.state.Settings.Rounds)
}

func TestStartGameRequiresHost(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")

	h.handleMessage(guest, ClientMessage{Type: "start_game", UseFallback: true})
	expectErrorCode(t, guest, "not_host")
	assert.Equal(t, statusLobby, h.state.Status)
}

func TestStartGameCatalogFailureLeavesLobby(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	joinPlayer(t, h, host, "alice")

	h.handleMessage(host, ClientMessage{Type: "start_game"})

	expectErrorCode(t, host, "catalog_fetch")
	assert.Equal(t, statusLobby, h.state.Status)
	assert.Empty(t, h.state.Products)
}

func TestStartGameUsesCatalog(t *testing.T) {
	t.Parallel()

	stub := &stubCatalog{products: fallbackProducts(3)}
	h := newHub("TEST1", testConfig(), clockwork.NewFakeClock(), stub, nil)
	host := newTestClient("h")
	joinPlayer(t, h, host, "alice")

	h.handleMessage(host, ClientMessage{Type: "update_setting", Key: "game_mode", Value: []byte(`"celeb"`)})
	h.handleMessage(host, ClientMessage{Type: "update_setting", Key: "keyword", Value: []byte(`"watch"`)})
	h.handleMessage(host, ClientMessage{Type: "start_game"})

	assert.Equal(t, statusPlaying, h.state.Status)
	assert.Equal(t, "watch", stub.gotQuery.Keyword)
	assert.Equal(t, 3, stub.gotQuery.Count)
	assert.Equal(t, celebPriceFloor, stub.gotQuery.PriceFloor)
}

func TestStartGameHighLowAssignsBasePrices(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	joinPlayer(t, h, host, "alice")

	h.handleMessage(host, ClientMessage{Type: "update_setting", Key: "game_mode", Value: []byte(`"highlow"`)})
	startFallbackGame(t, h, host)

	for _, p := range h.state.Products {
		assert.Positive(t, p.BasePrice)
		assert.NotEqual(t, p.Price, p.BasePrice)
	}
}

func TestGuessLifecycle(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")

	// Guessing before the game starts is rejected.
	h.handleMessage(guest, ClientMessage{Type: "guess", Guess: priceGuess(100)})
	expectErrorCode(t, guest, "not_playing")

	startFallbackGame(t, h, host)

	// A live guess is shared without committing.
	h.handleMessage(guest, ClientMessage{Type: "live_guess", Guess: priceGuess(1200)})
	record := h.state.Players["g"]
	assert.False(t, record.HasGuessed)
	require.NotNil(t, record.LiveGuess)
	assert.Equal(t, 1200, record.LiveGuess.Price)

	// Submitting commits and clears the live guess.
	h.handleMessage(guest, ClientMessage{Type: "guess", Guess: priceGuess(1500)})
	assert.True(t, record.HasGuessed)
	assert.Nil(t, record.LiveGuess)
	assert.Equal(t, 1500, record.CurrentGuess.Price)

	// No second submission for the same round.
	h.handleMessage(guest, ClientMessage{Type: "guess", Guess: priceGuess(2000)})
	expectErrorCode(t, guest, "bad_guess")
	assert.Equal(t, 1500, record.CurrentGuess.Price)

	// A side guess is the wrong shape outside highlow mode.
	h.handleMessage(host, ClientMessage{Type: "guess", Guess: sideGuess(sideHigh)})
	expectErrorCode(t, host, "bad_guess")
}

func TestEmoteRelayedNotEchoedNotPersisted(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")
	receiveAll(host)
	receiveAll(guest)

	h.handleMessage(guest, ClientMessage{Type: "emote", Emoji: "🎉"})

	hostMsgs := receiveAll(host)
	require.Len(t, hostMsgs, 1)
	emote, ok := hostMsgs[0].(EmoteMessage)
	require.True(t, ok)
	assert.Equal(t, "🎉", emote.Emoji)
	assert.Equal(t, "bob", emote.FromName)

	assert.Empty(t, receiveAll(guest), "emote must not echo to the sender")
}

func TestKick(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")

	// Guests cannot kick, and the host cannot be kicked.
	h.handleMessage(guest, ClientMessage{Type: "kick", TargetID: "h"})
	expectErrorCode(t, guest, "not_host")

	h.handleMessage(host, ClientMessage{Type: "kick", TargetID: "h"})
	expectErrorCode(t, host, "bad_kick")

	h.handleMessage(host, ClientMessage{Type: "kick", TargetID: "g"})

	assert.NotContains(t, h.state.Players, "g")
	assert.NotContains(t, h.clients, "g")

	// The target got the notice before its channel closed.
	var sawKicked bool
	for _, m := range receiveAll(guest) {
		if sm, ok := m.(SimpleMessage); ok && sm.Type == "kicked" {
			sawKicked = true
		}
	}
	assert.True(t, sawKicked)

	state := lastSyncState(t, host)
	assert.NotContains(t, state.Players, "g")
}

func TestRoundAdvancementToResult(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")
	startFallbackGame(t, h, host)

	now := h.clock.Now()

	for round := 0; round < 3; round++ {
		require.Equal(t, statusPlaying, h.state.Status)
		require.Equal(t, round, h.state.CurrentRound)

		product := h.state.Products[round]
		h.handleMessage(host, ClientMessage{Type: "guess", Guess: priceGuess(product.Price)})

		// One unguessed player keeps the round open.
		h.tick(now)
		require.Equal(t, statusPlaying, h.state.Status)

		h.handleMessage(guest, ClientMessage{Type: "guess", Guess: priceGuess(1)})

		// Everyone has guessed: the round closes early.
		h.tick(now)
		require.Equal(t, statusRoundEnd, h.state.Status)
		require.Equal(t, now.UnixMilli()+roundEndPauseMs, h.state.NextRoundStartTime)
		require.Equal(t, maxRoundPoints*(round+1), h.state.Players["h"].Score)
		require.Equal(t, maxRoundPoints, h.state.Players["h"].LastPoints)

		// The pause holds until its deadline.
		h.tick(now.Add(roundEndPauseMs*time.Millisecond - time.Millisecond))
		require.Equal(t, statusRoundEnd, h.state.Status)

		now = now.Add(roundEndPauseMs * time.Millisecond)
		h.tick(now)
	}

	assert.Equal(t, statusResult, h.state.Status)
	assert.Equal(t, 2, h.state.CurrentRound, "round index never exceeds the last round")
	assert.Equal(t, 3*maxRoundPoints, h.state.Players["h"].Score)

	// Guesses were reset at each round boundary.
	assert.True(t, h.state.Players["g"].HasGuessed, "final round guesses persist into result")
}

func TestRoundResetBetweenRounds(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	joinPlayer(t, h, host, "alice")
	startFallbackGame(t, h, host)

	now := h.clock.Now()
	h.handleMessage(host, ClientMessage{Type: "guess", Guess: priceGuess(42)})
	h.tick(now)
	require.Equal(t, statusRoundEnd, h.state.Status)

	now = now.Add(roundEndPauseMs * time.Millisecond)
	h.tick(now)
	require.Equal(t, statusPlaying, h.state.Status)
	require.Equal(t, 1, h.state.CurrentRound)

	record := h.state.Players["h"]
	assert.False(t, record.HasGuessed)
	assert.Nil(t, record.CurrentGuess)
	assert.Nil(t, record.LiveGuess)
	assert.False(t, record.IsDobon)

	assert.Equal(t, now.UnixMilli()+30*1000+startBufferMs, h.state.RoundEndTime)
}

func TestTimeUpScoresNonGuessers(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")
	startFallbackGame(t, h, host)

	product := h.state.Products[0]
	h.handleMessage(host, ClientMessage{Type: "guess", Guess: priceGuess(product.Price)})

	// Before the deadline nothing happens.
	h.tick(time.UnixMilli(h.state.RoundEndTime - 1))
	require.Equal(t, statusPlaying, h.state.Status)

	h.tick(time.UnixMilli(h.state.RoundEndTime))
	require.Equal(t, statusRoundEnd, h.state.Status)

	assert.Equal(t, maxRoundPoints, h.state.Players["h"].LastPoints)
	assert.Equal(t, 0, h.state.Players["g"].LastPoints)
	assert.Equal(t, 0, h.state.Players["g"].Score)
}

func TestUnlimitedTimeWaitsForAllGuesses(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	joinPlayer(t, h, host, "alice")

	h.handleMessage(host, ClientMessage{Type: "update_setting", Key: "time_limit", Value: []byte(`0`)})
	startFallbackGame(t, h, host)

	assert.Zero(t, h.state.RoundEndTime)

	// Even far in the future, an unlimited round stays open.
	h.tick(h.clock.Now().Add(24 * time.Hour))
	assert.Equal(t, statusPlaying, h.state.Status)

	h.handleMessage(host, ClientMessage{Type: "guess", Guess: priceGuess(10)})
	h.tick(h.clock.Now())
	assert.Equal(t, statusRoundEnd, h.state.Status)
}

func TestDisconnectAfterScoringKeepsRoundResults(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")
	startFallbackGame(t, h, host)

	product := h.state.Products[0]
	h.handleMessage(host, ClientMessage{Type: "guess", Guess: priceGuess(product.Price)})
	h.handleMessage(guest, ClientMessage{Type: "guess", Guess: priceGuess(product.Price)})

	now := h.clock.Now()
	h.tick(now)
	require.Equal(t, statusRoundEnd, h.state.Status)

	hostGone := h.handleUnregister(guest)
	assert.False(t, hostGone)
	assert.NotContains(t, h.state.Players, "g")

	// The completed round's effects on everyone else stand.
	assert.Equal(t, maxRoundPoints, h.state.Players["h"].Score)
	assert.Equal(t, statusRoundEnd, h.state.Status)

	// Play continues with the remaining roster.
	h.tick(now.Add(roundEndPauseMs * time.Millisecond))
	assert.Equal(t, statusPlaying, h.state.Status)
	assert.Len(t, h.state.Players, 1)
}

func TestHostDisconnectClosesRoom(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")

	assert.True(t, h.handleUnregister(host))
	assert.True(t, h.handleMessage(host, ClientMessage{Type: "leave"}))
}

func TestGuestLeaveRemovesRecord(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	guest := newTestClient("g")
	joinPlayer(t, h, host, "alice")
	joinPlayer(t, h, guest, "bob")

	assert.False(t, h.handleMessage(guest, ClientMessage{Type: "leave"}))
	assert.NotContains(t, h.state.Players, "g")
	assert.NotContains(t, h.clients, "g")

	state := lastSyncState(t, host)
	assert.NotContains(t, state.Players, "g")
}

func TestReturnToLobby(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	joinPlayer(t, h, host, "alice")

	h.handleMessage(host, ClientMessage{Type: "return_to_lobby"})
	expectErrorCode(t, host, "not_in_lobby")

	startFallbackGame(t, h, host)
	now := h.clock.Now()
	for h.state.Status != statusResult {
		h.handleMessage(host, ClientMessage{Type: "guess", Guess: priceGuess(7)})
		h.tick(now)
		now = now.Add(roundEndPauseMs * time.Millisecond)
		h.tick(now)
	}

	h.handleMessage(host, ClientMessage{Type: "return_to_lobby"})

	assert.Equal(t, statusLobby, h.state.Status)
	assert.Nil(t, h.state.Products)
	require.Contains(t, h.state.Players, "h")
	assert.Zero(t, h.state.Players["h"].Score)
	assert.True(t, h.state.Players["h"].IsHost)
}

func TestDroppedClientMessageIgnored(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	host := newTestClient("h")
	joinPlayer(t, h, host, "alice")

	// A guest with a tiny send buffer: the initial sync fills it, so
	// the next broadcast overflows and drops the connection.
	guest := &Client{send: make(chan any, 1), playerID: "g"}
	h.handleRegister(guest)
	h.handleMessage(guest, ClientMessage{Type: "join", Name: "bob"})
	require.NotContains(t, h.clients, "g")

	// A message already in flight from the dropped connection must be
	// ignored, not answered on its closed channel.
	h.handleMessage(guest, ClientMessage{Type: "guess", Guess: priceGuess(100)})
	h.handleMessage(guest, ClientMessage{Type: "join", Name: "bob"})

	assert.NotContains(t, h.clients, "g")
	assert.Contains(t, h.state.Players, "g", "the player record outlives the connection")

	// The rest of the room is unaffected.
	state := lastSyncState(t, host)
	assert.Len(t, state.Players, 2)
}

func TestRegisterReplacesOlderConnection(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	first := newTestClient("c")
	joinPlayer(t, h, first, "alice")

	second := newTestClient("c")
	h.handleRegister(second)

	assert.Same(t, second, h.clients["c"])

	// The stale connection's unregister must not evict the player.
	assert.False(t, h.handleUnregister(first))
	assert.Contains(t, h.state.Players, "c")
}
