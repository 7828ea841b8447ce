package main

import "math"

const maxRoundPoints = 1000

// scoreMultiplier is 2 on the final round when double-final-round is
// enabled, 1 otherwise.
func scoreMultiplier(settings Settings, roundIndex int) int {
	if settings.DoubleFinalRound && roundIndex == settings.Rounds-1 {
		return 2
	}
	return 1
}

// proximityPoints awards up to 1000 points scaled by how close the
// guess landed, as a fraction of the actual price.
func proximityPoints(diff, price int) int {
	percentOff := float64(diff) / float64(price)
	return int(math.Max(0, math.Floor((1-percentOff)*maxRoundPoints)))
}

// scoreGuess maps a single submitted guess to points for the round.
// It reports dobon (overshoot) separately so the caller can flag the
// player record.
func scoreGuess(product Product, guess *Guess, settings Settings, roundIndex int) (points int, dobon bool) {
	if guess == nil || !guess.validFor(settings.GameMode) {
		return 0, false
	}

	multiplier := scoreMultiplier(settings, roundIndex)

	switch settings.GameMode {
	case modeDobon:
		if guess.Price > product.Price {
			return 0, true
		}
		return proximityPoints(product.Price-guess.Price, product.Price) * multiplier, false

	case modeHighLow:
		answer := sideLow
		if product.Price > product.BasePrice {
			answer = sideHigh
		}
		if guess.Side == answer {
			return maxRoundPoints * multiplier, false
		}
		return 0, false

	default: // normal and celeb share the proximity formula
		diff := guess.Price - product.Price
		if diff < 0 {
			diff = -diff
		}
		return proximityPoints(diff, product.Price) * multiplier, false
	}
}

// scoreRound settles the active round: every player is awarded points
// exactly once, accumulated into Score and mirrored into LastPoints
// for the round-end display. Players who never guessed get zero.
func scoreRound(product Product, players map[string]*PlayerRecord, settings Settings, roundIndex int) {
	for _, p := range players {
		points := 0
		dobon := false
		if p.HasGuessed {
			points, dobon = scoreGuess(product, p.CurrentGuess, settings, roundIndex)
		}
		p.Score += points
		p.LastPoints = points
		p.IsDobon = dobon
	}
}
