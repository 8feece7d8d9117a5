// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package anki

import "fmt"

// Well-known ids. Deck 1 and dconf 1 are fixed by Anki; the model id only
// needs to be stable within a collection, and keeping it constant makes the
// seeded collections reproducible.
const (
	DefaultDeckID       ID = 1
	DefaultDeckConfigID ID = 1
	BasicModelID        ID = 1342697561419
)

// SampleNotes is the fixed front/back set seeded into the Default deck of
// every fresh collection.
var SampleNotes = [][2]string{
	{"olá", "hello"},
	{"obrigado", "thank you"},
	{"por favor", "please"},
	{"adeus", "goodbye"},
}

const latexPre = `\documentclass[12pt]{article}
\special{papersize=3in,5in}
\usepackage[utf8]{inputenc}
\usepackage{amssymb,amsmath}
\pagestyle{empty}
\setlength{\parindent}{0in}
\begin{document}`

const basicCSS = `.card {
 font-family: arial;
 font-size: 20px;
 text-align: center;
 color: black;
 background-color: white;
}`

// DefaultConf returns the col.conf blob for a fresh collection.
func DefaultConf() Conf {
	return Conf{
		NextPos:       1,
		EstimateTimes: true,
		ActiveDecks:   []ID{DefaultDeckID},
		SortType:      "noteFld",
		AddToCurrent:  true,
		CurrentDeck:   DefaultDeckID,
		DueCounts:     true,
		CurrentModel:  BasicModelID.String(),
		CollapseTime:  1200,
	}
}

// BasicModel returns the single fixed note type: two fields, one template.
func BasicModel(modMS int64) *Model {
	return &Model{
		ID:     BasicModelID,
		Name:   "Basic",
		Tags:   []string{},
		DeckID: DefaultDeckID,
		Fields: []*Field{
			{Name: "Front", Ordinal: 0, Font: "Arial", FontSize: 20, Media: []string{}},
			{Name: "Back", Ordinal: 1, Font: "Arial", FontSize: 20, Media: []string{}},
		},
		Templates: []*Template{{
			Name:           "Card 1",
			QuestionFormat: "{{Front}}",
			AnswerFormat:   "{{FrontSide}}\n\n<hr id=answer>\n\n{{Back}}",
		}},
		LatexPre:       latexPre,
		LatexPost:      `\end{document}`,
		CSS:            basicCSS,
		Modified:       modMS / 1000,
		Required:       [][3]any{{0, "all", []any{0}}},
		UpdateSequence: -1,
		Versions:       []int{},
	}
}

// DefaultDeck returns deck 1. The display name of the owning user goes into
// the description so an exported collection identifies its origin.
func DefaultDeck(displayName string, modSec int64) *Deck {
	desc := ""
	if displayName != "" {
		desc = fmt.Sprintf("Sample deck for %s", displayName)
	}
	return &Deck{
		ID:          DefaultDeckID,
		Name:        "Default",
		Description: desc,
		Modified:    modSec,
		ConfigID:    DefaultDeckConfigID,
		ExtendNew:   10,
		ExtendRev:   50,
	}
}

// DefaultDeckConfig returns option group 1 with the scheduler defaults:
// learning steps of 1 and 10 minutes, graduate/easy intervals of 1 and 4
// days, starting ease 2500, a single 10 minute relearning step, and a lapse
// multiplier of zero so a forgotten card restarts from the minimum interval.
func DefaultDeckConfig(modSec int64) *DeckConfig {
	return &DeckConfig{
		ID:               DefaultDeckConfigID,
		Name:             "Default",
		ReplayAudio:      true,
		MaxAnswerSeconds: 60,
		Modified:         modSec,
		AutoPlay:         true,
		Lapse: LapseConfig{
			LeechFails:      8,
			MinimumInterval: 1,
			Delays:          []float64{10},
			Multiplier:      0,
		},
		Reviews: ReviewConfig{
			PerDay:         100,
			Fuzz:           0.05,
			IntervalFactor: 1,
			MaxInterval:    36500,
			EasyBonus:      1.3,
			Bury:           true,
			MinSpace:       1,
			HardFactor:     1.2,
		},
		New: NewConfig{
			PerDay:        20,
			Delays:        []float64{1, 10},
			Bury:          true,
			Separate:      true,
			Intervals:     [3]int{1, 4, 7},
			InitialFactor: 2500,
			Order:         1,
		},
	}
}
