// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/emadruga/javumbo-sub001/internal/anki"
)

// CardContent is the renderable view of a card: the two fields of its note.
type CardContent struct {
	CardID anki.ID        `json:"cardId"`
	Front  string         `json:"front"`
	Back   string         `json:"back"`
	Queue  anki.CardQueue `json:"queue"`
}

// CardListing is one row of a paged deck browse, ordered by the note's sort
// field.
type CardListing struct {
	CardID   anki.ID        `json:"cardId"`
	NoteID   anki.ID        `json:"noteId"`
	Front    string         `json:"front"`
	Back     string         `json:"back"`
	Type     anki.CardType  `json:"type"`
	Queue    anki.CardQueue `json:"queue"`
	Interval int64          `json:"ivl"`
	Reps     int            `json:"reps"`
	Lapses   int            `json:"lapses"`
}

// CardPage is a page of CardListings plus the unpaged total.
type CardPage struct {
	Total int           `json:"total"`
	Cards []CardListing `json:"cards"`
}

// cleanField trims and sanitizes one user-supplied field value.
func cleanField(s string) string {
	return strings.TrimSpace(sanitize.Sanitize(strings.TrimSpace(s)))
}

// AddCard creates a note with the Basic model and its single card in the
// given deck. Returns the new note and card ids.
func (r *Repo) AddCard(ctx context.Context, front, back string, deckID anki.ID) (anki.ID, anki.ID, error) {
	front = cleanField(front)
	back = cleanField(back)
	if front == "" || back == "" {
		return 0, 0, ErrEmptyField
	}
	var noteID, cardID anki.ID
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

		noteID, err = allocID(tx, "notes", nowMS)
		if err != nil {
			return err
		}
		note := anki.Note{
			ID:             noteID,
			GUID:           anki.NewGUID(),
			ModelID:        anki.BasicModelID,
			Modified:       nowSec,
			UpdateSequence: -1,
			Fields:         anki.JoinFields([]string{front, back}),
			SortField:      front,
			Checksum:       anki.FieldChecksum(front),
		}
		if _, err := tx.NamedExec(`
			INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
			VALUES (:id, :guid, :mid, :mod, :usn, :tags, :flds, :sfld, :csum, :flags, :data)
		`, note); err != nil {
			return err
		}

		cardID, err = allocID(tx, "cards", nowMS)
		if err != nil {
			return err
		}
		// New-card position: one past the highest position in the deck.
		var pos int64
		if err := tx.Get(&pos,
			"SELECT COALESCE(MAX(due), 0) + 1 FROM cards WHERE did = ? AND queue = 0", deckID); err != nil {
			return err
		}
		card := anki.Card{
			ID:             cardID,
			NoteID:         noteID,
			DeckID:         deckID,
			Modified:       nowSec,
			UpdateSequence: -1,
			Type:           anki.CardTypeNew,
			Queue:          anki.CardQueueNew,
			Due:            pos,
		}
		if _, err := tx.NamedExec(`
			INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl,
				factor, reps, lapses, left, odue, odid, flags, data)
			VALUES (:id, :nid, :did, :ord, :mod, :usn, :type, :queue, :due, :ivl,
				:factor, :reps, :lapses, :left, :odue, :odid, :flags, :data)
		`, card); err != nil {
			return err
		}
		return touchCol(tx, nowMS, false)
	})
	if err != nil {
		return 0, 0, err
	}
	return noteID, cardID, nil
}

// GetCard loads a raw card row.
func (r *Repo) GetCard(ctx context.Context, id anki.ID) (*anki.Card, error) {
	var card anki.Card
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		return getCard(tx, id, &card)
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func getCard(tx *sqlx.Tx, id anki.ID, card *anki.Card) error {
	err := tx.Get(card, "SELECT * FROM cards WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCardNotFound
	}
	return err
}

// GetContent renders a card's front and back from its note fields.
func (r *Repo) GetContent(ctx context.Context, id anki.ID) (*CardContent, error) {
	var out *CardContent
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		var card anki.Card
		if err := getCard(tx, id, &card); err != nil {
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

// contentFor splits the parent note's fields, verifying the field count
// against the model. A mismatch means the collection is corrupt.
func contentFor(tx *sqlx.Tx, col *anki.Col, card *anki.Card) (*CardContent, error) {
	var note anki.Note
	if err := tx.Get(&note, "SELECT * FROM notes WHERE id = ?", card.NoteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: card %d has no note %d", ErrIntegrity, card.ID, card.NoteID)
		}
		return nil, err
	}
	model, ok := col.Models[note.ModelID]
	if !ok {
		return nil, fmt.Errorf("%w: note %d references unknown model %d", ErrIntegrity, note.ID, note.ModelID)
	}
	fields := anki.SplitFields(note.Fields)
	if len(fields) != len(model.Fields) {
		return nil, fmt.Errorf("%w: note %d has %d fields, model %q wants %d",
			ErrIntegrity, note.ID, len(fields), model.Name, len(model.Fields))
	}
	return &CardContent{
		CardID: card.ID,
		Front:  fields[0],
		Back:   fields[1],
		Queue:  card.Queue,
	}, nil
}

// UpdateContent rewrites the parent note's fields, sort field and checksum.
func (r *Repo) UpdateContent(ctx context.Context, id anki.ID, front, back string) error {
	front = cleanField(front)
	back = cleanField(back)
	if front == "" || back == "" {
		return ErrEmptyField
	}
	return r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		var card anki.Card
		if err := getCard(tx, id, &card); err != nil {
			return err
		}
		nowMS := r.clk.NowMS()
		if _, err := tx.Exec(`
			UPDATE notes SET flds = ?, sfld = ?, csum = ?, mod = ?, usn = -1 WHERE id = ?
		`, anki.JoinFields([]string{front, back}), front, anki.FieldChecksum(front),
			nowMS/1000, card.NoteID); err != nil {
			return err
		}
		return touchCol(tx, nowMS, false)
	})
}

// DeleteCard removes a card, tombstoning it; when the parent note has no
// cards left, the note is removed and tombstoned too. A second delete of the
// same id reports ErrCardNotFound and writes nothing.
func (r *Repo) DeleteCard(ctx context.Context, id anki.ID) error {
	return r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		var card anki.Card
		if err := getCard(tx, id, &card); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM cards WHERE id = ?", id); err != nil {
			return err
		}
		if err := addGrave(tx, id, anki.GraveCard); err != nil {
			return err
		}
		var left int
		if err := tx.Get(&left, "SELECT COUNT(*) FROM cards WHERE nid = ?", card.NoteID); err != nil {
			return err
		}
		if left == 0 {
			if _, err := tx.Exec("DELETE FROM notes WHERE id = ?", card.NoteID); err != nil {
				return err
			}
			if err := addGrave(tx, card.NoteID, anki.GraveNote); err != nil {
				return err
			}
		}
		return touchCol(tx, r.clk.NowMS(), false)
	})
}

// ListDeckCards pages through a deck's cards ordered by the note sort field.
// page is 1-based; perPage is clamped to 1..100.
func (r *Repo) ListDeckCards(ctx context.Context, deckID anki.ID, page, perPage int) (*CardPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	out := &CardPage{Cards: []CardListing{}}
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		if _, ok := col.Decks[deckID]; !ok {
			return ErrDeckNotFound
		}
		if err := tx.Get(&out.Total, "SELECT COUNT(*) FROM cards WHERE did = ?", deckID); err != nil {
			return err
		}
		rows, err := tx.Queryx(`
			SELECT c.id AS cid, c.nid, c.type, c.queue, c.ivl, c.reps, c.lapses, n.flds
			FROM cards c JOIN notes n ON n.id = c.nid
			WHERE c.did = ?
			ORDER BY n.sfld, c.id
			LIMIT ? OFFSET ?
		`, deckID, perPage, (page-1)*perPage)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row struct {
				CID    anki.ID        `db:"cid"`
				NID    anki.ID        `db:"nid"`
				Type   anki.CardType  `db:"type"`
				Queue  anki.CardQueue `db:"queue"`
				Ivl    int64          `db:"ivl"`
				Reps   int            `db:"reps"`
				Lapses int            `db:"lapses"`
				Flds   string         `db:"flds"`
			}
			if err := rows.StructScan(&row); err != nil {
				return err
			}
			fields := anki.SplitFields(row.Flds)
			listing := CardListing{
				CardID:   row.CID,
				NoteID:   row.NID,
				Type:     row.Type,
				Queue:    row.Queue,
				Interval: row.Ivl,
				Reps:     row.Reps,
				Lapses:   row.Lapses,
			}
			if len(fields) > 0 {
				listing.Front = fields[0]
			}
			if len(fields) > 1 {
				listing.Back = fields[1]
			}
			out.Cards = append(out.Cards, listing)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
