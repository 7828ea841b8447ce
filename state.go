package main

import (
	"encoding/json"
	"sync"
	"unicode/utf8"
)

// GameStatus is the round state machine: lobby -> playing -> roundEnd
// -> (playing | result). A room in "result" can return to "lobby".
type GameStatus string

const (
	statusLobby    GameStatus = "lobby"
	statusPlaying  GameStatus = "playing"
	statusRoundEnd GameStatus = "roundEnd"
	statusResult   GameStatus = "result"
)

type GameMode string

const (
	modeNormal  GameMode = "normal"
	modeDobon   GameMode = "dobon"
	modeHighLow GameMode = "highlow"
	modeCeleb   GameMode = "celeb"
)

func validMode(m GameMode) bool {
	switch m {
	case modeNormal, modeDobon, modeHighLow, modeCeleb:
		return true
	}
	return false
}

// Guess is a tagged union: a numeric price guess in normal, dobon and
// celeb modes, or a high/low side guess in highlow mode.
type Guess struct {
	Kind  GuessKind `json:"kind"`
	Price int       `json:"price,omitempty"`
	Side  Side      `json:"side,omitempty"`
}

type GuessKind string

const (
	guessPrice GuessKind = "price"
	guessSide  GuessKind = "side"
)

type Side string

const (
	sideHigh Side = "high"
	sideLow  Side = "low"
)

// validFor reports whether the guess shape matches the game mode.
func (g *Guess) validFor(mode GameMode) bool {
	if g == nil {
		return false
	}
	if mode == modeHighLow {
		return g.Kind == guessSide && (g.Side == sideHigh || g.Side == sideLow)
	}
	return g.Kind == guessPrice && g.Price > 0
}

type Settings struct {
	GenreID          string   `json:"genreId"`
	Keyword          string   `json:"keyword"`
	TimeLimit        int      `json:"timeLimit"` // seconds; 0 means unlimited
	Rounds           int      `json:"rounds"`
	DoubleFinalRound bool     `json:"doubleFinalRound"`
	ShowLiveGuess    bool     `json:"showLiveGuess"`
	GameMode         GameMode `json:"gameMode"`
}

// apply validates and applies a single host settings change. Keys use
// the wire naming, values arrive as raw JSON.
func (s *Settings) apply(key string, raw json.RawMessage) error {
	switch key {
	case "genre_id":
		var v string
		if json.Unmarshal(raw, &v) != nil {
			return errBadSetting
		}
		s.GenreID = v
	case "keyword":
		var v string
		if json.Unmarshal(raw, &v) != nil || utf8.RuneCountInString(v) > 50 {
			return errBadSetting
		}
		s.Keyword = v
	case "time_limit":
		var v int
		if json.Unmarshal(raw, &v) != nil || v < 0 || v > 600 {
			return errBadSetting
		}
		s.TimeLimit = v
	case "rounds":
		var v int
		if json.Unmarshal(raw, &v) != nil || v < 1 || v > 10 {
			return errBadSetting
		}
		s.Rounds = v
	case "double_final_round":
		var v bool
		if json.Unmarshal(raw, &v) != nil {
			return errBadSetting
		}
		s.DoubleFinalRound = v
	case "show_live_guess":
		var v bool
		if json.Unmarshal(raw, &v) != nil {
			return errBadSetting
		}
		s.ShowLiveGuess = v
	case "game_mode":
		var v GameMode
		if json.Unmarshal(raw, &v) != nil || !validMode(v) {
			return errBadSetting
		}
		s.GameMode = v
	default:
		return errBadSetting
	}

	return nil
}

func defaultSettings() Settings {
	return Settings{
		GenreID:   "0",
		TimeLimit: 30,
		Rounds:    3,
		GameMode:  modeNormal,
	}
}

type Product struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Price         int      `json:"price"`
	Images        []string `json:"images"`
	URL           string   `json:"url"`
	Tags          []string `json:"tags"`
	ReviewCount   int      `json:"reviewCount"`
	ReviewAverage float64  `json:"reviewAverage"`

	// BasePrice is only set in highlow mode: a perturbed reference
	// price the players compare against.
	BasePrice int `json:"basePrice,omitempty"`
}

type PlayerRecord struct {
	Name         string `json:"name"`
	Score        int    `json:"score"`
	CurrentGuess *Guess `json:"currentGuess,omitempty"`
	HasGuessed   bool   `json:"hasGuessed"`
	LiveGuess    *Guess `json:"liveGuess,omitempty"`
	LastPoints   int    `json:"lastPoints"`
	IsDobon      bool   `json:"isDobon"`
	IsHost       bool   `json:"isHost"`
}

// GameState is the single authoritative aggregate for a room. The
// room hub is the only writer; everyone else receives full snapshots.
// Timestamps are milliseconds since epoch; 0 means no deadline.
type GameState struct {
	Status             GameStatus               `json:"status"`
	Settings           Settings                 `json:"settings"`
	CurrentRound       int                      `json:"currentRound"`
	Products           []Product                `json:"products"`
	Players            map[string]*PlayerRecord `json:"players"`
	RoundEndTime       int64                    `json:"roundEndTime"`
	NextRoundStartTime int64                    `json:"nextRoundStartTime"`
}

func newGameState() GameState {
	return GameState{
		Status:   statusLobby,
		Settings: defaultSettings(),
		Players:  make(map[string]*PlayerRecord),
	}
}

// clone produces a deep copy safe to hand to other goroutines for
// serialization while the hub keeps mutating the original.
func (g *GameState) clone() GameState {
	next := *g

	next.Players = make(map[string]*PlayerRecord, len(g.Players))
	for id, p := range g.Players {
		record := *p
		if p.CurrentGuess != nil {
			guess := *p.CurrentGuess
			record.CurrentGuess = &guess
		}
		if p.LiveGuess != nil {
			guess := *p.LiveGuess
			record.LiveGuess = &guess
		}
		next.Players[id] = &record
	}

	if g.Products != nil {
		next.Products = make([]Product, len(g.Products))
		for i, prod := range g.Products {
			next.Products[i] = prod
			next.Products[i].Images = append([]string(nil), prod.Images...)
			next.Products[i].Tags = append([]string(nil), prod.Tags...)
		}
	}

	return next
}

// resetRound clears per-round player fields at a round boundary.
func (g *GameState) resetRound() {
	for _, p := range g.Players {
		p.CurrentGuess = nil
		p.HasGuessed = false
		p.LiveGuess = nil
		p.IsDobon = false
	}
}

// resetForLobby returns the room to the lobby after a finished game,
// preserving the roster but dropping scores and products.
func (g *GameState) resetForLobby() {
	g.Status = statusLobby
	g.CurrentRound = 0
	g.Products = nil
	g.RoundEndTime = 0
	g.NextRoundStartTime = 0
	g.resetRound()
	for _, p := range g.Players {
		p.Score = 0
		p.LastPoints = 0
	}
}

func validPlayerName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= 1 && n <= 10
}

// Replica is the guest-side copy of a GameState for headless clients:
// a pure follower that replaces its contents wholesale on every sync.
type Replica struct {
	mu    sync.RWMutex
	state GameState
}

func (r *Replica) Apply(state GameState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = state
}

func (r *Replica) Snapshot() GameState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state.clone()
}
