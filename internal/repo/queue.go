// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/emadruga/javumbo-sub001/internal/anki"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/sched"
)

// NextDue picks the next studiable card of a deck and renders it. Selection
// priority: overdue learning cards first, then due review cards, then new
// cards in position order. Suspended and buried cards are never picked.
// Returns (nil, nil) when nothing is due.
func (r *Repo) NextDue(ctx context.Context, deckID anki.ID) (*CardContent, error) {
	var out *CardContent
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		if _, ok := col.Decks[deckID]; !ok {
			return ErrDeckNotFound
		}
		nowMS := r.clk.NowMS()
		nowSec := nowMS / 1000
		cutoff := clock.DayCutoff(nowMS, col.Created)

		var card anki.Card
		err = tx.Get(&card, `
			SELECT * FROM cards WHERE did = ? AND queue IN (1, 3) AND due <= ?
			ORDER BY due LIMIT 1
		`, deckID, nowSec)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.Get(&card, `
				SELECT * FROM cards WHERE did = ? AND queue = 2 AND due <= ?
				ORDER BY due LIMIT 1
			`, deckID, cutoff)
		}
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.Get(&card, `
				SELECT * FROM cards WHERE did = ? AND queue = 0
				ORDER BY due LIMIT 1
			`, deckID)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil // nothing due
		}
		if err != nil {
			return err
		}
		out, err = contentFor(tx, col, &card)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AnswerResult reports the committed state after an answer.
type AnswerResult struct {
	CardID   anki.ID        `json:"cardId"`
	Type     anki.CardType  `json:"type"`
	Queue    anki.CardQueue `json:"queue"`
	Due      int64          `json:"due"`
	Interval int64          `json:"ivl"`
	Factor   int64          `json:"factor"`
	Lapses   int            `json:"lapses"`
}

// Answer runs the scheduler for one card and commits the card update and the
// revlog row atomically; either both land or neither does.
func (r *Repo) Answer(ctx context.Context, cardID anki.ID, ease anki.Ease, timeTakenMS int64) (*AnswerResult, error) {
	var out *AnswerResult
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		var card anki.Card
		if err := getCard(tx, cardID, &card); err != nil {
			return err
		}
		nowMS := r.clk.NowMS()
		cutoff := clock.DayCutoff(nowMS, col.Created)
		conf := deckConfigFor(col, card.DeckID)

		outcome := sched.Advance(&card, ease, conf, nowMS, cutoff)
		rev := outcome.Revlog(card.ID, card.Interval, ease, nowMS, timeTakenMS)
		// Revlog ids are the review timestamp; keep them strictly increasing
		// per card even when answers land within the same millisecond.
		var maxRev int64
		if err := tx.Get(&maxRev, "SELECT COALESCE(MAX(id), 0) FROM revlog WHERE cid = ?", cardID); err != nil {
			return err
		}
		if int64(rev.ID) <= maxRev {
			rev.ID = anki.ID(maxRev + 1)
		}

		if _, err := tx.Exec(`
			UPDATE cards SET type = ?, queue = ?, due = ?, ivl = ?, factor = ?,
				left = ?, reps = reps + 1, lapses = lapses + ?, mod = ?, usn = -1
			WHERE id = ?
		`, outcome.Type, outcome.Queue, outcome.Due, outcome.Interval, outcome.Factor,
			outcome.Left, outcome.LapsesDelta, nowMS/1000, cardID); err != nil {
			return err
		}
		if _, err := tx.NamedExec(`
			INSERT INTO revlog (id, cid, usn, ease, ivl, lastIvl, factor, time, type)
			VALUES (:id, :cid, :usn, :ease, :ivl, :lastIvl, :factor, :time, :type)
		`, rev); err != nil {
			return err
		}
		if err := touchCol(tx, nowMS, false); err != nil {
			return err
		}
		out = &AnswerResult{
			CardID:   cardID,
			Type:     outcome.Type,
			Queue:    outcome.Queue,
			Due:      outcome.Due,
			Interval: outcome.Interval,
			Factor:   outcome.Factor,
			Lapses:   card.Lapses + outcome.LapsesDelta,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
