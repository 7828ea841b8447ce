package main

import "time"

// The round scheduler is a polling loop rather than a timer per
// deadline: every tick compares wall-clock timestamps, so a slow or
// paused host simply catches up on its next tick. Correctness does
// not depend on tick granularity.
const (
	tickInterval = 500 * time.Millisecond

	// How long the answer stays on screen between rounds.
	roundEndPauseMs = 8000

	// Grace added to each round deadline so every client has rendered
	// the product before the visible timer starts.
	startBufferMs = 2000
)

// roundDeadline computes the absolute round end in epoch
// milliseconds. A zero time limit means no deadline at all.
func roundDeadline(nowMs int64, timeLimitSeconds int) int64 {
	if timeLimitSeconds == 0 {
		return 0
	}
	return nowMs + int64(timeLimitSeconds)*1000 + startBufferMs
}

// tick advances the round state machine. Runs only on the hub
// goroutine; clients never evaluate these rules.
func (h *Hub) tick(now time.Time) {
	nowMs := now.UnixMilli()

	switch h.state.Status {
	case statusPlaying:
		timeUp := h.state.Settings.TimeLimit != 0 && nowMs >= h.state.RoundEndTime

		allGuessed := len(h.state.Players) > 0
		for _, p := range h.state.Players {
			if !p.HasGuessed {
				allGuessed = false
				break
			}
		}

		if !timeUp && !allGuessed {
			return
		}

		product := h.state.Products[h.state.CurrentRound]
		scoreRound(product, h.state.Players, h.state.Settings, h.state.CurrentRound)

		for _, p := range h.state.Players {
			p.LiveGuess = nil
		}

		h.state.Status = statusRoundEnd
		h.state.NextRoundStartTime = nowMs + roundEndPauseMs
		h.broadcastSync()

	case statusRoundEnd:
		if nowMs < h.state.NextRoundStartTime {
			return
		}

		if h.state.CurrentRound >= h.state.Settings.Rounds-1 {
			h.state.Status = statusResult
			h.broadcastSync()
			return
		}

		h.state.CurrentRound++
		h.state.resetRound()
		h.state.RoundEndTime = roundDeadline(nowMs, h.state.Settings.TimeLimit)
		h.state.Status = statusPlaying
		h.broadcastSync()
	}
}
