package main

import "encoding/json"

// Messages coming from clients
type ClientMessage struct {
	Type        string          `json:"type"`                   // "join", "guess", "live_guess", "emote", "update_setting", "start_game", "kick", "leave", "return_to_lobby"
	Name        string          `json:"name,omitempty"`         // join
	Guess       *Guess          `json:"guess,omitempty"`        // guess / live_guess
	Emoji       string          `json:"emoji,omitempty"`        // emote
	Key         string          `json:"key,omitempty"`          // update_setting
	Value       json.RawMessage `json:"value,omitempty"`        // update_setting
	UseFallback bool            `json:"use_fallback,omitempty"` // start_game
	TargetID    string          `json:"target_id,omitempty"`    // kick
}

// SyncMessage carries a full snapshot of the authoritative game
// state. Receivers replace their local copy wholesale; there is no
// partial merge.
type SyncMessage struct {
	Type  string    `json:"type"` // "sync"
	You   string    `json:"you"`  // receiver's player ID
	State GameState `json:"state"`
}

// EmoteMessage is ephemeral: relayed to everyone except the sender,
// never stored in the game state.
type EmoteMessage struct {
	Type     string `json:"type"` // "emote"
	Emoji    string `json:"emoji"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
}

// ErrorMessage is sent to a single client when an operation is
// rejected. Code is stable; Message is user-facing text.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SimpleMessage is for generic notifications ("kicked", "room_closed").
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorMessage(err error) ErrorMessage {
	return ErrorMessage{
		Type:    "error",
		Code:    wsCode(err),
		Message: err.Error(),
	}
}
