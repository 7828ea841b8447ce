/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Sentinel errors for the game surface. Each maps to a stable wire
// code via wsCode so clients can branch without string matching.
var (
	errNameRequired     = errors.New("a player name is required")
	errNameInvalid      = errors.New("player names must be 1-10 characters")
	errRoomCodeRequired = errors.New("a room code is required")
	errRoomNotFound     = errors.New("no room exists with that code")
	errNotJoined        = errors.New("join the room before playing")
	errNotHost          = errors.New("only the host may do that")
	errKickTarget       = errors.New("cannot kick that player")
	errNotInLobby       = errors.New("only allowed while in the lobby")
	errNotPlaying       = errors.New("no round is in progress")
	errBadGuess         = errors.New("guess does not match the game mode")
	errBadSetting       = errors.New("unknown or invalid setting")
	errCatalogFetch     = errors.New("catalog fetch failed")
)

func wsCode(err error) string {
	switch {
	case errors.Is(err, errNameRequired):
		return "name_required"
	case errors.Is(err, errNameInvalid):
		return "name_invalid"
	case errors.Is(err, errRoomCodeRequired):
		return "room_code_required"
	case errors.Is(err, errRoomNotFound):
		return "room_not_found"
	case errors.Is(err, errNotJoined):
		return "not_joined"
	case errors.Is(err, errNotHost):
		return "not_host"
	case errors.Is(err, errKickTarget):
		return "bad_kick"
	case errors.Is(err, errNotInLobby):
		return "not_in_lobby"
	case errors.Is(err, errNotPlaying):
		return "not_playing"
	case errors.Is(err, errBadGuess):
		return "bad_guess"
	case errors.Is(err, errBadSetting):
		return "bad_setting"
	case errors.Is(err, errCatalogFetch):
		return "catalog_fetch"
	default:
		return "internal"
	}
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
