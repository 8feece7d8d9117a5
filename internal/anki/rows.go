// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package anki

// This file defines the row types for the collection tables with their raw
// on-disk semantics. Unlike a pure reader, a writing process must preserve
// the native units: cards.due is a day offset from col.crt for review cards
// and Unix seconds for (re)learning cards, and cards.ivl is days for review
// cards. No conversion happens at scan time.

// Col is the single row of the col table.
type Col struct {
	ID             ID          `db:"id"`
	Created        int64       `db:"crt"` // collection epoch, UTC midnight, seconds
	Modified       int64       `db:"mod"` // milliseconds
	SchemaModified int64       `db:"scm"` // milliseconds
	Version        int         `db:"ver"`
	Dirty          int         `db:"dty"`
	UpdateSequence int         `db:"usn"`
	LastSync       int64       `db:"ls"`
	Conf           Conf        `db:"conf"`
	Models         Models      `db:"models"`
	Decks          Decks       `db:"decks"`
	DeckConfigs    DeckConfigs `db:"dconf"`
	Tags           string      `db:"tags"`
}

// Note is a row of the notes table.
type Note struct {
	ID             ID     `db:"id"`
	GUID           string `db:"guid"`
	ModelID        ID     `db:"mid"`
	Modified       int64  `db:"mod"` // seconds
	UpdateSequence int    `db:"usn"`
	Tags           string `db:"tags"`
	Fields         string `db:"flds"` // joined with FieldSep
	SortField      string `db:"sfld"`
	Checksum       int64  `db:"csum"`
	Flags          int    `db:"flags"`
	Data           string `db:"data"`
}

// Card is a row of the cards table.
type Card struct {
	ID             ID        `db:"id"`
	NoteID         ID        `db:"nid"`
	DeckID         ID        `db:"did"`
	Ordinal        int       `db:"ord"`
	Modified       int64     `db:"mod"` // seconds
	UpdateSequence int       `db:"usn"`
	Type           CardType  `db:"type"`
	Queue          CardQueue `db:"queue"`
	Due            int64     `db:"due"`
	Interval       int64     `db:"ivl"`
	Factor         int64     `db:"factor"` // ease x1000
	Reps           int       `db:"reps"`
	Lapses         int       `db:"lapses"`
	Left           int       `db:"left"`
	OriginalDue    int64     `db:"odue"`
	OriginalDeckID ID        `db:"odid"`
	Flags          int       `db:"flags"`
	Data           string    `db:"data"`
}

// CardType is the scheduler state stored in cards.type.
type CardType int

const (
	CardTypeNew CardType = iota
	CardTypeLearning
	CardTypeReview
	CardTypeRelearning
)

// CardQueue is the selection queue stored in cards.queue.
type CardQueue int

const (
	CardQueueSchedBuried CardQueue = -3
	CardQueueUserBuried  CardQueue = -2
	CardQueueSuspended   CardQueue = -1
	CardQueueNew         CardQueue = 0
	CardQueueLearning    CardQueue = 1
	CardQueueReview      CardQueue = 2
	CardQueueDayLearning CardQueue = 3
	CardQueuePreview     CardQueue = 4
)

// Ease is the user's self-rating of a review.
type Ease int

const (
	EaseAgain Ease = 1
	EaseHard  Ease = 2
	EaseGood  Ease = 3
	EaseEasy  Ease = 4
)

// Valid reports whether the rating is one of the four answer buttons.
func (e Ease) Valid() bool { return e >= EaseAgain && e <= EaseEasy }

// Revlog is a row of the append-only revlog table.
type Revlog struct {
	ID             ID         `db:"id"` // review timestamp, milliseconds
	CardID         ID         `db:"cid"`
	UpdateSequence int        `db:"usn"`
	Ease           Ease       `db:"ease"`
	Interval       int64      `db:"ivl"`
	LastInterval   int64      `db:"lastIvl"`
	Factor         int64      `db:"factor"`
	TimeTaken      int64      `db:"time"` // milliseconds
	Type           ReviewType `db:"type"`
}

// ReviewType records which scheduler state produced a revlog row.
type ReviewType int

const (
	ReviewTypeLearn ReviewType = iota
	ReviewTypeReview
	ReviewTypeRelearn
	ReviewTypeCram
)

// GraveType tags tombstone rows in the graves table.
type GraveType int

const (
	GraveCard GraveType = iota
	GraveNote
	GraveDeck
)

// MatureThreshold is the review interval, in days, at which Anki considers a
// card mature.
const MatureThreshold = 21
