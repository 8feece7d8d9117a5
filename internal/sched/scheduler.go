// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package sched advances a card through the New -> Learning -> Review ->
// Relearning state machine. Advance is a pure function: given the same card,
// rating, deck config and clock readings it always produces the same
// outcome, which keeps the transition table trivially testable.
//
// The transitions intentionally deviate from textbook SM-2 in the same ways
// the Anki v1 scheduler does; the on-disk format is shared with desktop
// clients whose users expect these exact values.
package sched

import (
	"github.com/emadruga/javumbo-sub001/internal/anki"
)

// Outcome is the scheduler's decision for one answered card, plus the revlog
// row that records it.
type Outcome struct {
	Type        anki.CardType
	Queue       anki.CardQueue
	Due         int64 // day offset for review cards, Unix seconds otherwise
	Interval    int64 // days for review cards, seconds for learning steps
	Factor      int64
	Left        int
	LapsesDelta int
	LogType     anki.ReviewType
}

// Revlog builds the review-log row for this outcome.
func (o Outcome) Revlog(cardID anki.ID, prevIvl int64, ease anki.Ease, nowMS, timeTakenMS int64) anki.Revlog {
	return anki.Revlog{
		ID:             anki.ID(nowMS),
		CardID:         cardID,
		UpdateSequence: -1,
		Ease:           ease,
		Interval:       o.Interval,
		LastInterval:   prevIvl,
		Factor:         o.Factor,
		TimeTaken:      timeTakenMS,
		Type:           o.LogType,
	}
}

const (
	minFactor   = 1300
	lapsePenalty = 200
	hardPenalty  = 150
	easyReward   = 150
)

// packLeft encodes the remaining learning steps the way Anki packs
// today-remaining and total-remaining into cards.left. All of our steps are
// same-day, so both halves carry the same count.
func packLeft(remaining int) int {
	if remaining <= 0 {
		return 0
	}
	return remaining*1000 + remaining
}

// remainingSteps decodes cards.left; zero or garbage resets to the full
// ladder.
func remainingSteps(left, total int) int {
	r := left % 1000
	if r <= 0 || r > total {
		return total
	}
	return r
}

func delayAt(delays []float64, idx int) float64 {
	if len(delays) == 0 {
		return 1
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

// Advance decides the card's next state for the given ease rating.
func Advance(card *anki.Card, ease anki.Ease, conf *anki.DeckConfig, nowMS, cutoffDays int64) Outcome {
	switch card.Type {
	case anki.CardTypeReview:
		return advanceReview(card, ease, conf, nowMS, cutoffDays)
	case anki.CardTypeRelearning:
		return advanceRelearning(card, ease, conf, nowMS, cutoffDays)
	default: // New or Learning
		return advanceLearning(card, ease, conf, nowMS, cutoffDays)
	}
}

func advanceLearning(card *anki.Card, ease anki.Ease, conf *anki.DeckConfig, nowMS, cutoffDays int64) Outcome {
	delays := conf.New.Delays
	total := len(delays)
	if total == 0 {
		total = 1
	}
	remaining := total
	if card.Type == anki.CardTypeLearning {
		remaining = remainingSteps(card.Left, total)
	}
	stepIdx := total - remaining
	nowSec := nowMS / 1000

	out := Outcome{
		Type:    anki.CardTypeLearning,
		Queue:   anki.CardQueueLearning,
		Factor:  card.Factor,
		LogType: anki.ReviewTypeLearn,
	}

	switch ease {
	case anki.EaseAgain:
		delay := delayAt(delays, 0)
		out.Due = nowSec + int64(delay*60)
		out.Interval = int64(delay * 60)
		out.Left = packLeft(total)
	case anki.EaseHard:
		// Repeat the current step with the same delay, not the previous or
		// the next one.
		delay := delayAt(delays, stepIdx)
		out.Due = nowSec + int64(delay*60)
		out.Interval = int64(delay * 60)
		out.Left = packLeft(remaining)
	case anki.EaseGood:
		if remaining-1 <= 0 {
			return graduate(card, conf.New.Intervals[0], conf, cutoffDays)
		}
		next := remaining - 1
		delay := delayAt(delays, total-next)
		out.Due = nowSec + int64(delay*60)
		out.Interval = int64(delay * 60)
		out.Left = packLeft(next)
	case anki.EaseEasy:
		return graduate(card, conf.New.Intervals[1], conf, cutoffDays)
	}
	return out
}

// graduate promotes a learning card to the review queue.
func graduate(card *anki.Card, ivlDays int, conf *anki.DeckConfig, cutoffDays int64) Outcome {
	if ivlDays < 1 {
		ivlDays = 1
	}
	return Outcome{
		Type:     anki.CardTypeReview,
		Queue:    anki.CardQueueReview,
		Interval: int64(ivlDays),
		Due:      cutoffDays + int64(ivlDays),
		Factor:   int64(conf.New.InitialFactor),
		LogType:  anki.ReviewTypeLearn,
	}
}

func advanceReview(card *anki.Card, ease anki.Ease, conf *anki.DeckConfig, nowMS, cutoffDays int64) Outcome {
	out := Outcome{
		Type:    anki.CardTypeReview,
		Queue:   anki.CardQueueReview,
		Factor:  card.Factor,
		LogType: anki.ReviewTypeReview,
	}
	ivlFct := conf.Reviews.IntervalFactor
	if ivlFct <= 0 {
		ivlFct = 1
	}

	switch ease {
	case anki.EaseAgain:
		nowSec := nowMS / 1000
		delay := delayAt(conf.Lapse.Delays, 0)
		post := int64(float64(card.Interval) * conf.Lapse.Multiplier)
		if post < 1 {
			post = 1
		}
		return Outcome{
			Type:        anki.CardTypeRelearning,
			Queue:       anki.CardQueueLearning,
			Due:         nowSec + int64(delay*60),
			Interval:    post, // carried until relearning graduates
			Factor:      floorFactor(card.Factor - lapsePenalty),
			Left:        packLeft(maxInt(len(conf.Lapse.Delays), 1)),
			LapsesDelta: 1,
			LogType:     anki.ReviewTypeReview,
		}
	case anki.EaseHard:
		hard := conf.Reviews.HardFactor
		if hard <= 0 {
			hard = 1.2
		}
		out.Interval = nextIvl(card.Interval, hard*ivlFct)
		out.Factor = floorFactor(card.Factor - hardPenalty)
	case anki.EaseGood:
		out.Interval = nextIvl(card.Interval, float64(card.Factor)/1000*ivlFct)
	case anki.EaseEasy:
		bonus := conf.Reviews.EasyBonus
		if bonus <= 0 {
			bonus = 1.3
		}
		out.Interval = nextIvl(card.Interval, float64(card.Factor)/1000*bonus*ivlFct)
		out.Factor = card.Factor + easyReward
	}
	out.Due = cutoffDays + out.Interval
	return out
}

func advanceRelearning(card *anki.Card, ease anki.Ease, conf *anki.DeckConfig, nowMS, cutoffDays int64) Outcome {
	delays := conf.Lapse.Delays
	total := maxInt(len(delays), 1)
	remaining := remainingSteps(card.Left, total)
	stepIdx := total - remaining
	nowSec := nowMS / 1000

	out := Outcome{
		Type:     anki.CardTypeRelearning,
		Queue:    anki.CardQueueLearning,
		Interval: card.Interval, // post-lapse review interval, days
		Factor:   card.Factor,
		LogType:  anki.ReviewTypeRelearn,
	}

	switch ease {
	case anki.EaseAgain:
		delay := delayAt(delays, 0)
		out.Due = nowSec + int64(delay*60)
		out.Left = packLeft(total)
	case anki.EaseHard:
		delay := delayAt(delays, stepIdx)
		out.Due = nowSec + int64(delay*60)
		out.Left = packLeft(remaining)
	case anki.EaseGood:
		if remaining-1 <= 0 {
			return regraduate(card, conf, cutoffDays)
		}
		next := remaining - 1
		delay := delayAt(delays, total-next)
		out.Due = nowSec + int64(delay*60)
		out.Left = packLeft(next)
	case anki.EaseEasy:
		return regraduate(card, conf, cutoffDays)
	}
	return out
}

// regraduate returns a relearning card to the review queue. The post-lapse
// interval was computed when the lapse happened; the minimum interval still
// applies.
func regraduate(card *anki.Card, conf *anki.DeckConfig, cutoffDays int64) Outcome {
	ivl := card.Interval
	minIvl := int64(conf.Lapse.MinimumInterval)
	if minIvl < 1 {
		minIvl = 1
	}
	if ivl < minIvl {
		ivl = minIvl
	}
	return Outcome{
		Type:     anki.CardTypeReview,
		Queue:    anki.CardQueueReview,
		Interval: ivl,
		Due:      cutoffDays + ivl,
		Factor:   card.Factor,
		LogType:  anki.ReviewTypeRelearn,
	}
}

// nextIvl grows a review interval by mult, always gaining at least one day.
func nextIvl(ivl int64, mult float64) int64 {
	grown := int64(float64(ivl) * mult)
	if grown < ivl+1 {
		return ivl + 1
	}
	return grown
}

func floorFactor(f int64) int64 {
	if f < minFactor {
		return minFactor
	}
	return f
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
